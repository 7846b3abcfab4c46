package breaker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
)

// Store persists per-tenant breaker state so restarts and sibling
// instances observe consistent machine positions.
type Store interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*models.BreakerState, error)
	Save(ctx context.Context, state *models.BreakerState) error
	ListStuckOpen(ctx context.Context, openedBefore time.Time) ([]models.BreakerState, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a breaker state store bound to the provided database.
func NewRepository(db *gorm.DB) Store {
	return &repository{db: db}
}

// Get loads the tenant's breaker record, lazily creating a closed one on
// first use.
func (r *repository) Get(ctx context.Context, tenantID uuid.UUID) (*models.BreakerState, error) {
	var state models.BreakerState
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&state).Error
	if err == nil {
		return &state, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	state = models.BreakerState{
		TenantID:          tenantID,
		State:             enums.BreakerStateClosed,
		LastStateChangeAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&state).Error; err != nil {
		return nil, err
	}
	// Re-read in case a concurrent handler won the insert race.
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *repository) Save(ctx context.Context, state *models.BreakerState) error {
	return r.db.WithContext(ctx).Save(state).Error
}

// ListStuckOpen returns breakers that opened before the cutoff and never
// recovered, for the janitor job.
func (r *repository) ListStuckOpen(ctx context.Context, openedBefore time.Time) ([]models.BreakerState, error) {
	var states []models.BreakerState
	if err := r.db.WithContext(ctx).
		Where("state = ? AND last_state_change_at < ?", enums.BreakerStateOpen, openedBefore).
		Order("last_state_change_at ASC").
		Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}
