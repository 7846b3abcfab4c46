package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
)

// BreakerState persists the circuit breaker machine for one tenant so a
// restart or a second gateway instance observes consistent state. Rows
// are created lazily on first use; only the breaker mutates them.
type BreakerState struct {
	TenantID          uuid.UUID          `gorm:"column:tenant_id;type:uuid;primaryKey"`
	State             enums.BreakerState `gorm:"column:state;type:breaker_state;not null;default:'closed'"`
	FailureCount      int                `gorm:"column:failure_count;not null;default:0"`
	SuccessCount      int                `gorm:"column:success_count;not null;default:0"`
	LastFailureAt     *time.Time         `gorm:"column:last_failure_at"`
	LastSuccessAt     *time.Time         `gorm:"column:last_success_at"`
	LastStateChangeAt time.Time          `gorm:"column:last_state_change_at;not null"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
