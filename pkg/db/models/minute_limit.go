package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
)

// MinuteLimit is the per-tenant voice plan: included allowance, overage
// pricing and the policy applied once the allowance runs out. Created at
// onboarding, mutated only through admin configuration.
type MinuteLimit struct {
	TenantID                 uuid.UUID           `gorm:"column:tenant_id;type:uuid;primaryKey"`
	IncludedMinutes          int                 `gorm:"column:included_minutes;not null"`
	OveragePriceCentavos     int64               `gorm:"column:overage_price_centavos;not null"`
	OveragePolicy            enums.OveragePolicy `gorm:"column:overage_policy;type:overage_policy;not null;default:'block'"`
	AlertThresholds          pq.Int64Array       `gorm:"column:alert_thresholds;type:integer[]"`
	MaxOverageChargeCentavos int64               `gorm:"column:max_overage_charge_centavos;not null;default:0"`
	CreatedAt                time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
