package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub016/api/responses"
	"github.com/fernandofuc/tistis-platform-sub016/api/validators"
	"github.com/fernandofuc/tistis-platform-sub016/internal/breaker"
	"github.com/fernandofuc/tistis-platform-sub016/internal/orchestration"
	"github.com/fernandofuc/tistis-platform-sub016/internal/security"
	"github.com/fernandofuc/tistis-platform-sub016/internal/usage"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
	pkgerrors "github.com/fernandofuc/tistis-platform-sub016/pkg/errors"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

const (
	signatureHeader = "X-Tistis-Signature"
	timestampHeader = "X-Tistis-Timestamp"

	maxBodyBytes = 1 << 20
)

// callEventPayload is the telephony provider's webhook body.
type callEventPayload struct {
	EventType       string `json:"event_type" validate:"required"`
	CallID          string `json:"call_id" validate:"required"`
	FromNumber      string `json:"from_number"`
	ToNumber        string `json:"to_number"`
	UserText        string `json:"user_text"`
	DurationSeconds int64  `json:"duration_seconds"`
	Timestamp       string `json:"timestamp"`
}

type gateService interface {
	Validate(ctx context.Context, req *security.CheckRequest) *security.GateResult
}

type meterService interface {
	CheckMinuteLimit(ctx context.Context, tenantID uuid.UUID) (*usage.LimitCheck, error)
	RecordMinuteUsage(ctx context.Context, tenantID uuid.UUID, callID string, secondsUsed int, metadata map[string]any) (*usage.RecordResult, error)
}

type breakerService interface {
	Execute(ctx context.Context, tenantID uuid.UUID, op breaker.Operation, fallback breaker.Fallback) (*breaker.Outcome, error)
}

type fallbackProvider interface {
	Unavailable() *orchestration.EngineReply
	LimitReached(reason enums.BlockReason) *orchestration.EngineReply
}

// VoiceWebhook handles inbound call events. Every response carries a
// speakable reply; even a blocked tenant's caller hears a message
// instead of dead air. Only a gate rejection returns a non-200.
func VoiceWebhook(
	gate gateService,
	meter meterService,
	circuits breakerService,
	engine orchestration.Engine,
	fallbacks fallbackProvider,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tenantID, err := uuid.Parse(chi.URLParam(r, "tenantId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid tenant id"))
			return
		}
		ctx = logg.WithTenantID(ctx, tenantID.String())

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result := gate.Validate(ctx, &security.CheckRequest{
			TenantID:    tenantID,
			RemoteAddr:  r.RemoteAddr,
			ForwardedIP: r.Header.Get("X-Forwarded-For"),
			Signature:   r.Header.Get(signatureHeader),
			Timestamp:   r.Header.Get(timestampHeader),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		if !result.Valid {
			// The failing check stays in the logs; callers only learn the
			// request was refused.
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook rejected"))
			return
		}

		var payload callEventPayload
		if err := decodePayload(body, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		eventType, err := enums.ParseCallEventType(payload.EventType)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown event type"))
			return
		}
		ctx = logg.WithCallID(ctx, payload.CallID)

		switch eventType {
		case enums.CallEventEnded:
			handleCallEnded(ctx, w, meter, logg, tenantID, &payload)
		default:
			handleConversation(ctx, w, meter, circuits, engine, fallbacks, logg, tenantID, eventType, &payload)
		}
	}
}

// handleConversation admits the call through the usage meter, then runs
// the engine under the tenant's breaker.
func handleConversation(
	ctx context.Context,
	w http.ResponseWriter,
	meter meterService,
	circuits breakerService,
	engine orchestration.Engine,
	fallbacks fallbackProvider,
	logg *logger.Logger,
	tenantID uuid.UUID,
	eventType enums.CallEventType,
	payload *callEventPayload,
) {
	check, err := meter.CheckMinuteLimit(ctx, tenantID)
	if err != nil || !check.CanProceed {
		reason := enums.BlockReasonInfraError
		if check != nil && check.BlockReason != nil {
			reason = *check.BlockReason
		}
		if err != nil {
			logg.Error(ctx, "webhook.limit_check_failed", err)
		}
		responses.WriteSuccess(w, fallbacks.LimitReached(reason))
		return
	}

	event := &orchestration.CallEvent{
		EventType:  eventType,
		CallID:     payload.CallID,
		TenantID:   tenantID,
		FromNumber: payload.FromNumber,
		ToNumber:   payload.ToNumber,
		UserText:   payload.UserText,
		OccurredAt: time.Now().UTC(),
	}

	outcome, err := circuits.Execute(ctx, tenantID,
		func(ctx context.Context) (any, error) {
			return engine.Converse(ctx, event)
		},
		func() any {
			return fallbacks.Unavailable()
		},
	)
	if err != nil {
		// Breaker state store trouble; the fallback already stands in.
		logg.Error(ctx, "webhook.breaker_degraded", err)
	}

	reply, ok := outcome.Result.(*orchestration.EngineReply)
	if !ok || reply == nil {
		reply = fallbacks.Unavailable()
	}
	responses.WriteSuccess(w, reply)
}

// handleCallEnded records the call's final duration against the ledger.
func handleCallEnded(
	ctx context.Context,
	w http.ResponseWriter,
	meter meterService,
	logg *logger.Logger,
	tenantID uuid.UUID,
	payload *callEventPayload,
) {
	result, err := meter.RecordMinuteUsage(ctx, tenantID, payload.CallID, int(payload.DurationSeconds), map[string]any{
		"from_number": payload.FromNumber,
		"to_number":   payload.ToNumber,
	})
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]any{
		"recorded":        true,
		"transaction_id":  result.TransactionID,
		"minutes":         result.MinutesRecorded,
		"is_overage":      result.IsOverage,
		"charge_centavos": result.ChargeCentavos,
	})
}

func decodePayload(body []byte, dest *callEventPayload) error {
	if err := unmarshalBody(body, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	return validators.ValidateStruct(dest)
}
