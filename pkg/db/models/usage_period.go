package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
)

// UsagePeriod carries the running totals for one tenant and billing
// period. It is the row-level lock target for atomic usage recording and
// the "already billed" guard for the reconciler: billed_at is set at most
// once, guarded by a conditional update.
type UsagePeriod struct {
	ID                    uuid.UUID          `gorm:"type:uuid;primaryKey"`
	TenantID              uuid.UUID          `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:idx_usage_periods_tenant_period"`
	PeriodStart           time.Time          `gorm:"column:period_start;not null;uniqueIndex:idx_usage_periods_tenant_period"`
	PeriodEnd             time.Time          `gorm:"column:period_end;not null"`
	IncludedMinutesUsed   decimal.Decimal    `gorm:"column:included_minutes_used;type:numeric(12,4);not null"`
	OverageMinutesUsed    decimal.Decimal    `gorm:"column:overage_minutes_used;type:numeric(12,4);not null"`
	OverageChargeCentavos int64              `gorm:"column:overage_charge_centavos;not null;default:0"`
	IsBlocked             bool               `gorm:"column:is_blocked;not null;default:false"`
	BlockReason           *enums.BlockReason `gorm:"column:block_reason;type:block_reason"`
	BilledAt              *time.Time         `gorm:"column:billed_at"`
	InvoiceItemID         *string            `gorm:"column:invoice_item_id"`
	CreatedAt             time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalMinutesUsed is the sum of the included and overage buckets.
func (p UsagePeriod) TotalMinutesUsed() decimal.Decimal {
	return p.IncludedMinutesUsed.Add(p.OverageMinutesUsed)
}
