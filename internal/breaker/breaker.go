package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
	pkgerrors "github.com/fernandofuc/tistis-platform-sub016/pkg/errors"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/metrics"
)

// Operation is one attempt against the orchestration engine. It may
// succeed, fail, or hang; nothing else is assumed.
type Operation func(ctx context.Context) (any, error)

// Fallback produces the degraded result served when the operation is
// skipped or fails.
type Fallback func() any

// Outcome is the result of one Execute call.
type Outcome struct {
	Result       any
	UsedFallback bool
	Latency      time.Duration
}

// ServiceParams groups the breaker's dependencies.
type ServiceParams struct {
	Config  config.BreakerConfig
	Store   Store
	Logger  *logger.Logger
	Metrics *metrics.GatewayMetrics
	Now     func() time.Time
}

// Service wraps calls to the orchestration engine with a per-tenant
// circuit breaker and a hard per-call deadline.
type Service struct {
	cfg     config.BreakerConfig
	store   Store
	logg    *logger.Logger
	metrics *metrics.GatewayMetrics
	now     func() time.Time
}

// NewService builds a breaker service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("breaker store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.MaxLatency <= 0 {
		cfg.MaxLatency = 8 * time.Second
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 3
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:     cfg,
		store:   params.Store,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

type opResult struct {
	value any
	err   error
}

// Execute runs op under the tenant's breaker. The returned Outcome is
// always usable by the live call; a non-nil error only reports breaker
// infrastructure trouble (state store unreachable), in which case the
// fallback has already been substituted.
func (s *Service) Execute(ctx context.Context, tenantID uuid.UUID, op Operation, fallback Fallback) (*Outcome, error) {
	start := s.now()

	state, err := s.store.Get(ctx, tenantID)
	if err != nil {
		s.metrics.IncFallback()
		return &Outcome{Result: fallback(), UsedFallback: true, Latency: s.now().Sub(start)},
			pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load breaker state")
	}

	if state.State == enums.BreakerStateOpen {
		elapsed := s.now().Sub(state.LastStateChangeAt)
		if elapsed < s.cfg.RecoveryTimeout {
			// Tripped: the engine is known bad, do not even attempt it.
			s.metrics.IncFallback()
			return &Outcome{Result: fallback(), UsedFallback: true, Latency: s.now().Sub(start)}, nil
		}
		if err := s.transition(ctx, state, enums.BreakerStateHalfOpen); err != nil {
			s.metrics.IncFallback()
			return &Outcome{Result: fallback(), UsedFallback: true, Latency: s.now().Sub(start)}, err
		}
	}

	value, opErr := s.attempt(ctx, op)
	latency := s.now().Sub(start)

	if opErr != nil {
		if err := s.onFailure(ctx, state); err != nil {
			s.logg.Error(ctx, "breaker.persist_failure", err)
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"tenant_id":   tenantID,
			"state":       state.State,
			"failures":    state.FailureCount,
			"op_error":    opErr.Error(),
			"duration_ms": latency.Milliseconds(),
		})
		s.logg.Warn(logCtx, "breaker.operation_failed")
		s.metrics.IncFallback()
		return &Outcome{Result: fallback(), UsedFallback: true, Latency: latency}, nil
	}

	if err := s.onSuccess(ctx, state); err != nil {
		s.logg.Error(ctx, "breaker.persist_success", err)
	}
	return &Outcome{Result: value, UsedFallback: false, Latency: latency}, nil
}

// attempt races op against the configured deadline. When the deadline
// fires the gateway moves on; the abandoned attempt may keep running in
// the background and its result is discarded.
func (s *Service) attempt(ctx context.Context, op Operation) (any, error) {
	results := make(chan opResult, 1)
	go func() {
		value, err := op(ctx)
		results <- opResult{value: value, err: err}
	}()

	timer := time.NewTimer(s.cfg.MaxLatency)
	defer timer.Stop()

	select {
	case res := <-results:
		return res.value, res.err
	case <-timer.C:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("operation exceeded %s deadline", s.cfg.MaxLatency))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) onSuccess(ctx context.Context, state *models.BreakerState) error {
	now := s.now().UTC()
	state.LastSuccessAt = &now

	switch state.State {
	case enums.BreakerStateHalfOpen:
		state.SuccessCount++
		if state.SuccessCount >= s.cfg.HalfOpenSuccesses {
			return s.transition(ctx, state, enums.BreakerStateClosed)
		}
	case enums.BreakerStateClosed:
		state.FailureCount = 0
	}
	return s.store.Save(ctx, state)
}

func (s *Service) onFailure(ctx context.Context, state *models.BreakerState) error {
	now := s.now().UTC()
	state.LastFailureAt = &now

	switch state.State {
	case enums.BreakerStateHalfOpen:
		// A single probe failure re-opens immediately.
		return s.transition(ctx, state, enums.BreakerStateOpen)
	case enums.BreakerStateClosed:
		state.FailureCount++
		if state.FailureCount >= s.cfg.FailureThreshold {
			return s.transition(ctx, state, enums.BreakerStateOpen)
		}
	}
	return s.store.Save(ctx, state)
}

// transition moves the machine and persists synchronously so any other
// instance observes the change before this call returns.
func (s *Service) transition(ctx context.Context, state *models.BreakerState, to enums.BreakerState) error {
	from := state.State
	state.State = to
	state.LastStateChangeAt = s.now().UTC()
	if to == enums.BreakerStateClosed || to == enums.BreakerStateHalfOpen {
		state.FailureCount = 0
		state.SuccessCount = 0
	}
	if err := s.store.Save(ctx, state); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist breaker transition")
	}
	s.metrics.ObserveTransition(from.String(), to.String())
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id": state.TenantID,
		"from":      from,
		"to":        to,
	})
	s.logg.Info(logCtx, "breaker.transition")
	return nil
}
