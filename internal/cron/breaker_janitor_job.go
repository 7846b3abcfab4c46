package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

const defaultStuckOpenAfter = 24 * time.Hour

// breakerJanitorStore lists breakers stuck open well past recovery and
// persists the reset.
type breakerJanitorStore interface {
	ListStuckOpen(ctx context.Context, openedBefore time.Time) ([]models.BreakerState, error)
	Save(ctx context.Context, state *models.BreakerState) error
}

type BreakerJanitorJobParams struct {
	Logger         *logger.Logger
	Store          breakerJanitorStore
	StuckOpenAfter time.Duration
	Now            func() time.Time
}

// NewBreakerJanitorJob resets breakers that have sat open far longer
// than the recovery timeout. A breaker that old means recovery probes
// kept failing for a whole day; the reset forces fresh closed-state
// probes and the warning points operators at the engine.
func NewBreakerJanitorJob(params BreakerJanitorJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("breaker store required")
	}
	stuckAfter := params.StuckOpenAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckOpenAfter
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &breakerJanitorJob{
		logg:       params.Logger,
		store:      params.Store,
		stuckAfter: stuckAfter,
		now:        now,
	}, nil
}

type breakerJanitorJob struct {
	logg       *logger.Logger
	store      breakerJanitorStore
	stuckAfter time.Duration
	now        func() time.Time
}

func (j *breakerJanitorJob) Name() string { return "breaker-janitor" }

func (j *breakerJanitorJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.stuckAfter)
	stuck, err := j.store.ListStuckOpen(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stuck breakers: %w", err)
	}
	if len(stuck) == 0 {
		j.logg.Info(ctx, "no breakers stuck open")
		return nil
	}
	for i := range stuck {
		state := stuck[i]
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"tenant_id":  state.TenantID,
			"open_since": state.LastStateChangeAt,
			"failures":   state.FailureCount,
		})
		j.logg.Warn(logCtx, "breaker stuck open; resetting to closed")

		state.State = enums.BreakerStateClosed
		state.FailureCount = 0
		state.SuccessCount = 0
		state.LastStateChangeAt = j.now().UTC()
		if err := j.store.Save(ctx, &state); err != nil {
			j.logg.Error(logCtx, "failed to reset stuck breaker", err)
		}
	}
	return nil
}
