package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub016/api/responses"
	"github.com/fernandofuc/tistis-platform-sub016/api/validators"
	"github.com/fernandofuc/tistis-platform-sub016/internal/usage"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
	pkgerrors "github.com/fernandofuc/tistis-platform-sub016/pkg/errors"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

type usageAdminService interface {
	GetUsageSummary(ctx context.Context, tenantID uuid.UUID) (*usage.Summary, error)
	UpdateOveragePolicy(ctx context.Context, tenantID uuid.UUID, policy enums.OveragePolicy) (*usage.PolicyUpdate, error)
}

type limitAdminRepo interface {
	GetMinuteLimit(ctx context.Context, tenantID uuid.UUID) (*models.MinuteLimit, error)
	SaveMinuteLimit(ctx context.Context, limit *models.MinuteLimit) error
}

func tenantIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantId"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid tenant id")
	}
	return id, nil
}

// AdminUsageSummary reports the tenant's current-period consumption.
func AdminUsageSummary(svc usageAdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := tenantIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		summary, err := svc.GetUsageSummary(ctx, tenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

type updatePolicyRequest struct {
	Policy string `json:"policy" validate:"required,oneof=block charge notify_only"`
}

// AdminUpdateOveragePolicy switches a tenant's overage policy and
// reports how many blocked periods the change released.
func AdminUpdateOveragePolicy(svc usageAdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := tenantIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req updatePolicyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		policy, err := enums.ParseOveragePolicy(req.Policy)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid policy"))
			return
		}
		update, err := svc.UpdateOveragePolicy(ctx, tenantID, policy)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, update)
	}
}

// AdminGetMinuteLimit fetches a tenant's plan configuration.
func AdminGetMinuteLimit(repo limitAdminRepo, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := tenantIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := repo.GetMinuteLimit(ctx, tenantID)
		if err != nil {
			if usage.IsNotFound(err) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "minute limit not configured"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load minute limit"))
			return
		}
		responses.WriteSuccess(w, limit)
	}
}

type putMinuteLimitRequest struct {
	IncludedMinutes          int     `json:"included_minutes" validate:"required,min=0"`
	OveragePriceCentavos     int64   `json:"overage_price_centavos" validate:"min=0"`
	OveragePolicy            string  `json:"overage_policy" validate:"required,oneof=block charge notify_only"`
	AlertThresholds          []int64 `json:"alert_thresholds" validate:"omitempty,dive,min=0,max=100"`
	MaxOverageChargeCentavos int64   `json:"max_overage_charge_centavos" validate:"min=0"`
}

// AdminPutMinuteLimit creates or replaces a tenant's plan configuration.
func AdminPutMinuteLimit(repo limitAdminRepo, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := tenantIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req putMinuteLimitRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		policy, err := enums.ParseOveragePolicy(req.OveragePolicy)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid policy"))
			return
		}

		limit := &models.MinuteLimit{
			TenantID:                 tenantID,
			IncludedMinutes:          req.IncludedMinutes,
			OveragePriceCentavos:     req.OveragePriceCentavos,
			OveragePolicy:            policy,
			AlertThresholds:          req.AlertThresholds,
			MaxOverageChargeCentavos: req.MaxOverageChargeCentavos,
		}
		if err := repo.SaveMinuteLimit(ctx, limit); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save minute limit"))
			return
		}
		responses.WriteSuccess(w, limit)
	}
}
