package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageTransaction is an append-only ledger entry for one metered call
// segment. Rows are immutable after insert except for the single
// permitted mutation of attaching a billing reference.
type UsageTransaction struct {
	ID                    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID              uuid.UUID       `gorm:"column:tenant_id;type:uuid;not null;index"`
	PeriodID              uuid.UUID       `gorm:"column:period_id;type:uuid;not null;index"`
	CallID                string          `gorm:"column:call_id;not null;index"`
	SecondsUsed           int             `gorm:"column:seconds_used;not null"`
	IncludedMinutesUsed   decimal.Decimal `gorm:"column:included_minutes_used;type:numeric(12,4);not null"`
	OverageMinutesUsed    decimal.Decimal `gorm:"column:overage_minutes_used;type:numeric(12,4);not null"`
	OverageChargeCentavos int64           `gorm:"column:overage_charge_centavos;not null;default:0"`
	IsOverage             bool            `gorm:"column:is_overage;not null;default:false"`
	BillingReference      *string         `gorm:"column:billing_reference"`
	Metadata              json.RawMessage `gorm:"column:metadata;type:jsonb"`
	RecordedAt            time.Time       `gorm:"column:recorded_at;autoCreateTime"`
}
