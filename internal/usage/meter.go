package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/db"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
	pkgerrors "github.com/fernandofuc/tistis-platform-sub016/pkg/errors"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/metrics"
)

var (
	decimalZero      = decimal.Zero
	secondsPerMinute = decimal.NewFromInt(60)
)

// OverageCost applies the ceiling pricing rule: partial overage minutes
// are rounded up to the next whole minute before pricing. Used for cap
// projections so the meter never undershoots the configured maximum.
func OverageCost(overageMinutes decimal.Decimal, priceCentavos int64) int64 {
	if overageMinutes.Sign() <= 0 {
		return 0
	}
	return overageMinutes.Ceil().IntPart() * priceCentavos
}

// accruedCharge is the exact centavo value of the aggregate overage,
// rounded up to a whole centavo. Reported by summaries and accrued on
// the period; the ceiling rule in OverageCost stays a projection tool.
func accruedCharge(overageMinutes decimal.Decimal, priceCentavos int64) int64 {
	if overageMinutes.Sign() <= 0 {
		return 0
	}
	return overageMinutes.Mul(decimal.NewFromInt(priceCentavos)).Ceil().IntPart()
}

// LimitCheck is the admission decision for a tenant's next metered call.
type LimitCheck struct {
	CanProceed        bool
	IsBlocked         bool
	BlockReason       *enums.BlockReason
	Policy            enums.OveragePolicy
	IncludedUsed      decimal.Decimal
	OverageUsed       decimal.Decimal
	RemainingIncluded decimal.Decimal
	UsagePercent      decimal.Decimal
}

// RecordResult reports one completed recording.
type RecordResult struct {
	TransactionID   uuid.UUID
	MinutesRecorded decimal.Decimal
	IsOverage       bool
	ChargeCentavos  int64
}

// Summary is the derived per-period aggregate exposed to admins.
type Summary struct {
	TenantID              uuid.UUID           `json:"tenant_id"`
	PeriodStart           time.Time           `json:"period_start"`
	PeriodEnd             time.Time           `json:"period_end"`
	IncludedMinutes       int                 `json:"included_minutes"`
	IncludedMinutesUsed   decimal.Decimal     `json:"included_minutes_used"`
	OverageMinutesUsed    decimal.Decimal     `json:"overage_minutes_used"`
	TotalMinutesUsed      decimal.Decimal     `json:"total_minutes_used"`
	UsagePercent          decimal.Decimal     `json:"usage_percent"`
	OverageChargeCentavos int64               `json:"overage_charge_centavos"`
	OveragePolicy         enums.OveragePolicy `json:"overage_policy"`
	IsBlocked             bool                `json:"is_blocked"`
	BlockReason           *enums.BlockReason  `json:"block_reason,omitempty"`
}

// PolicyUpdate reports an overage policy change.
type PolicyUpdate struct {
	Policy           enums.OveragePolicy `json:"policy"`
	UnblockedPeriods int64               `json:"unblocked_periods"`
}

// MeterParams groups the meter's dependencies.
type MeterParams struct {
	DB      *db.Client
	Repo    Repository
	Logger  *logger.Logger
	Metrics *metrics.GatewayMetrics
	Now     func() time.Time
}

// Meter enforces per-tenant minute allowances against the usage ledger.
// Every infrastructure failure is treated as a block: the gateway would
// rather refuse a call than let one through unmetered.
type Meter struct {
	dbClient *db.Client
	repo     Repository
	logg     *logger.Logger
	metrics  *metrics.GatewayMetrics
	now      func() time.Time
}

func NewMeter(params MeterParams) (*Meter, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("usage repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Meter{
		dbClient: params.DB,
		repo:     params.Repo,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// CurrentPeriod returns the UTC calendar-month window containing t.
func CurrentPeriod(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}

// failSafeCheck is what callers get whenever the meter cannot trust its
// own data. canProceed is false and the effective policy is block no
// matter what the tenant configured.
func failSafeCheck() *LimitCheck {
	reason := enums.BlockReasonInfraError
	return &LimitCheck{
		CanProceed:  false,
		IsBlocked:   true,
		BlockReason: &reason,
		Policy:      enums.OveragePolicyBlock,
	}
}

// CheckMinuteLimit decides whether the tenant's next call may proceed.
// Safe to invoke at call start and per turn.
func (m *Meter) CheckMinuteLimit(ctx context.Context, tenantID uuid.UUID) (*LimitCheck, error) {
	limit, err := m.repo.GetMinuteLimit(ctx, tenantID)
	if err != nil {
		if IsNotFound(err) {
			return failSafeCheck(), pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "tenant has no minute limit configured")
		}
		m.logg.Error(ctx, "usage.check_limit_infra", err)
		return failSafeCheck(), pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "load minute limit")
	}

	periodStart, _ := CurrentPeriod(m.now())
	period, err := m.repo.GetPeriod(ctx, tenantID, periodStart)
	if err != nil && !IsNotFound(err) {
		m.logg.Error(ctx, "usage.check_limit_infra", err)
		return failSafeCheck(), pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "load usage period")
	}

	check := &LimitCheck{
		CanProceed:        true,
		Policy:            limit.OveragePolicy,
		IncludedUsed:      decimalZero,
		OverageUsed:       decimalZero,
		RemainingIncluded: decimal.NewFromInt(int64(limit.IncludedMinutes)),
	}
	if period != nil {
		check.IncludedUsed = period.IncludedMinutesUsed
		check.OverageUsed = period.OverageMinutesUsed
		check.RemainingIncluded = decimal.NewFromInt(int64(limit.IncludedMinutes)).Sub(period.IncludedMinutesUsed)
		if check.RemainingIncluded.Sign() < 0 {
			check.RemainingIncluded = decimalZero
		}
		if period.IsBlocked {
			check.CanProceed = false
			check.IsBlocked = true
			check.BlockReason = period.BlockReason
		}
	}
	check.UsagePercent = usagePercent(check.IncludedUsed.Add(check.OverageUsed), limit.IncludedMinutes)

	if check.CanProceed {
		switch limit.OveragePolicy {
		case enums.OveragePolicyBlock:
			if check.RemainingIncluded.Sign() <= 0 {
				reason := enums.BlockReasonLimitReached
				check.CanProceed = false
				check.IsBlocked = true
				check.BlockReason = &reason
			}
		case enums.OveragePolicyCharge:
			if limit.MaxOverageChargeCentavos > 0 && period != nil {
				projected := OverageCost(period.OverageMinutesUsed, limit.OveragePriceCentavos)
				if projected >= limit.MaxOverageChargeCentavos {
					reason := enums.BlockReasonOverageCapReached
					check.CanProceed = false
					check.IsBlocked = true
					check.BlockReason = &reason
				}
			}
		}
	}
	return check, nil
}

// RecordMinuteUsage appends one ledger entry and updates the period's
// running totals in a single transaction. The period row lock is what
// keeps two concurrent calls from both landing in one remaining minute
// of included headroom.
func (m *Meter) RecordMinuteUsage(ctx context.Context, tenantID uuid.UUID, callID string, secondsUsed int, metadata map[string]any) (*RecordResult, error) {
	if secondsUsed <= 0 {
		m.metrics.IncUsageRecorded("rejected")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("secondsUsed must be positive, got %d", secondsUsed))
	}
	if callID == "" {
		m.metrics.IncUsageRecorded("rejected")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callId is required")
	}

	var result *RecordResult
	err := m.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)

		limit, err := repo.GetMinuteLimit(ctx, tenantID)
		if err != nil {
			if IsNotFound(err) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "tenant has no minute limit configured")
			}
			return pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "load minute limit")
		}

		periodStart, periodEnd := CurrentPeriod(m.now())
		period, err := repo.GetPeriodForUpdate(ctx, tenantID, periodStart, periodEnd)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "lock usage period")
		}

		minutes := decimal.NewFromInt(int64(secondsUsed)).Div(secondsPerMinute)
		included := decimal.NewFromInt(int64(limit.IncludedMinutes))
		remaining := included.Sub(period.IncludedMinutesUsed)
		if remaining.Sign() < 0 {
			remaining = decimalZero
		}

		includedPart := decimal.Min(minutes, remaining)
		overagePart := minutes.Sub(includedPart)

		var rawMetadata json.RawMessage
		if len(metadata) > 0 {
			encoded, err := json.Marshal(metadata)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode usage metadata")
			}
			rawMetadata = encoded
		}

		newOverageTotal := period.OverageMinutesUsed.Add(overagePart)
		var chargeDelta int64
		if overagePart.Sign() > 0 && limit.OveragePolicy == enums.OveragePolicyCharge {
			newCharge := accruedCharge(newOverageTotal, limit.OveragePriceCentavos)
			chargeDelta = newCharge - period.OverageChargeCentavos
			if chargeDelta < 0 {
				chargeDelta = 0
			}
			period.OverageChargeCentavos = period.OverageChargeCentavos + chargeDelta
		}

		period.IncludedMinutesUsed = period.IncludedMinutesUsed.Add(includedPart)
		period.OverageMinutesUsed = newOverageTotal

		m.applyPostRecordingPolicy(period, limit)

		txn := &models.UsageTransaction{
			TenantID:              tenantID,
			PeriodID:              period.ID,
			CallID:                callID,
			SecondsUsed:           secondsUsed,
			IncludedMinutesUsed:   includedPart,
			OverageMinutesUsed:    overagePart,
			OverageChargeCentavos: chargeDelta,
			IsOverage:             overagePart.Sign() > 0,
			Metadata:              rawMetadata,
		}
		if err := repo.InsertTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "append usage transaction")
		}
		if err := repo.SavePeriod(ctx, period); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "update period totals")
		}

		m.logAlerts(ctx, tenantID, limit, period)

		result = &RecordResult{
			TransactionID:   txn.ID,
			MinutesRecorded: minutes,
			IsOverage:       txn.IsOverage,
			ChargeCentavos:  chargeDelta,
		}
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
			m.metrics.IncUsageRecorded("rejected")
		} else {
			m.metrics.IncUsageRecorded("infra_error")
			m.logg.Error(ctx, "usage.record_failed", err)
		}
		return nil, err
	}
	m.metrics.IncUsageRecorded("recorded")
	return result, nil
}

// applyPostRecordingPolicy flags the period blocked once the recording
// pushed it past the policy boundary. The call that just ended is still
// counted; only subsequent admissions are refused.
func (m *Meter) applyPostRecordingPolicy(period *models.UsagePeriod, limit *models.MinuteLimit) {
	if period.IsBlocked {
		return
	}
	switch limit.OveragePolicy {
	case enums.OveragePolicyBlock:
		if period.OverageMinutesUsed.Sign() > 0 ||
			period.IncludedMinutesUsed.GreaterThanOrEqual(decimal.NewFromInt(int64(limit.IncludedMinutes))) {
			reason := enums.BlockReasonLimitReached
			period.IsBlocked = true
			period.BlockReason = &reason
		}
	case enums.OveragePolicyCharge:
		if limit.MaxOverageChargeCentavos > 0 {
			projected := OverageCost(period.OverageMinutesUsed, limit.OveragePriceCentavos)
			if projected >= limit.MaxOverageChargeCentavos {
				reason := enums.BlockReasonOverageCapReached
				period.IsBlocked = true
				period.BlockReason = &reason
			}
		}
	}
}

func (m *Meter) logAlerts(ctx context.Context, tenantID uuid.UUID, limit *models.MinuteLimit, period *models.UsagePeriod) {
	if limit.IncludedMinutes <= 0 {
		return
	}
	percent := usagePercent(period.TotalMinutesUsed(), limit.IncludedMinutes)
	for _, threshold := range limit.AlertThresholds {
		if percent.GreaterThanOrEqual(decimal.NewFromInt(threshold)) {
			logCtx := m.logg.WithFields(ctx, map[string]any{
				"tenant_id":     tenantID,
				"threshold_pct": threshold,
				"usage_pct":     percent,
				"policy":        limit.OveragePolicy,
			})
			m.logg.Warn(logCtx, "usage.alert_threshold_crossed")
		}
	}
}

// GetUsageSummary derives the current period aggregate.
func (m *Meter) GetUsageSummary(ctx context.Context, tenantID uuid.UUID) (*Summary, error) {
	limit, err := m.repo.GetMinuteLimit(ctx, tenantID)
	if err != nil {
		if IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "tenant has no minute limit configured")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "load minute limit")
	}

	periodStart, periodEnd := CurrentPeriod(m.now())
	summary := &Summary{
		TenantID:            tenantID,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		IncludedMinutes:     limit.IncludedMinutes,
		IncludedMinutesUsed: decimalZero,
		OverageMinutesUsed:  decimalZero,
		TotalMinutesUsed:    decimalZero,
		UsagePercent:        decimalZero,
		OveragePolicy:       limit.OveragePolicy,
	}

	period, err := m.repo.GetPeriod(ctx, tenantID, periodStart)
	if err != nil {
		if IsNotFound(err) {
			return summary, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "load usage period")
	}

	summary.IncludedMinutesUsed = period.IncludedMinutesUsed
	summary.OverageMinutesUsed = period.OverageMinutesUsed
	summary.TotalMinutesUsed = period.TotalMinutesUsed()
	summary.UsagePercent = usagePercent(period.TotalMinutesUsed(), limit.IncludedMinutes)
	summary.OverageChargeCentavos = period.OverageChargeCentavos
	summary.IsBlocked = period.IsBlocked
	summary.BlockReason = period.BlockReason
	return summary, nil
}

// UpdateOveragePolicy switches the tenant's policy. Moving away from
// block releases periods blocked only by that policy and reports how
// many were released.
func (m *Meter) UpdateOveragePolicy(ctx context.Context, tenantID uuid.UUID, policy enums.OveragePolicy) (*PolicyUpdate, error) {
	if !policy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid overage policy %q", policy))
	}

	var unblocked int64
	err := m.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)

		current, err := repo.GetMinuteLimit(ctx, tenantID)
		if err != nil {
			if IsNotFound(err) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "tenant has no minute limit configured")
			}
			return pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "load minute limit")
		}

		if err := repo.UpdateOveragePolicy(ctx, tenantID, policy); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "update overage policy")
		}

		if current.OveragePolicy == enums.OveragePolicyBlock && policy != enums.OveragePolicyBlock {
			unblocked, err = repo.UnblockPolicyBlocked(ctx, tenantID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeUsageInfra, err, "unblock periods")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := m.logg.WithFields(ctx, map[string]any{
		"tenant_id": tenantID,
		"policy":    policy,
		"unblocked": unblocked,
	})
	m.logg.Info(logCtx, "usage.policy_updated")
	return &PolicyUpdate{Policy: policy, UnblockedPeriods: unblocked}, nil
}

func usagePercent(totalUsed decimal.Decimal, includedMinutes int) decimal.Decimal {
	if includedMinutes <= 0 {
		return decimalZero
	}
	return totalUsed.
		Div(decimal.NewFromInt(int64(includedMinutes))).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}
