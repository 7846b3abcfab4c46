package security

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/metrics"
)

// Check names, in the fixed evaluation order.
const (
	CheckIPAllowList = "ip_allowlist"
	CheckSignature   = "signature"
	CheckTimestamp   = "timestamp"
	CheckRateLimit   = "rate_limit"
	CheckContent     = "content"
)

// CheckRequest carries everything the gate needs from an inbound webhook
// event. The body must be the raw bytes the signature was computed over.
type CheckRequest struct {
	TenantID    uuid.UUID
	RemoteAddr  string
	ForwardedIP string
	Signature   string
	Timestamp   string
	ContentType string
	Body        []byte
}

// CheckResult is the outcome of a single gate check.
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// GateResult aggregates all check outcomes for one evaluation. Valid is
// true only when every check passed.
type GateResult struct {
	Valid   bool          `json:"valid"`
	Checks  []CheckResult `json:"checks"`
	Latency time.Duration `json:"latency"`
}

// FailedCheck returns the name of the first failing check, or "".
func (r *GateResult) FailedCheck() string {
	for _, check := range r.Checks {
		if !check.Passed {
			return check.Name
		}
	}
	return ""
}

type rateLimiterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// GateParams groups the dependencies of the security gate.
type GateParams struct {
	Config    config.GateConfig
	RateLimit config.RateLimitConfig
	Limiter   rateLimiterStore
	Logger    *logger.Logger
	Metrics   *metrics.GatewayMetrics
	Now       func() time.Time
}

// Gate authenticates inbound webhook events by running the five checks
// in a fixed order. All checks always run so diagnostics stay complete;
// the request is authorized only when every one of them passes.
type Gate struct {
	cfg     config.GateConfig
	rate    config.RateLimitConfig
	limiter rateLimiterStore
	logg    *logger.Logger
	metrics *metrics.GatewayMetrics
	cidrs   []*net.IPNet
	now     func() time.Time
}

// NewGate builds a gate, parsing the configured CIDR ranges upfront.
func NewGate(params GateParams) (*Gate, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Limiter == nil {
		return nil, fmt.Errorf("rate limiter store required")
	}
	cidrs := make([]*net.IPNet, 0, len(params.Config.AllowedCIDRs))
	for _, raw := range params.Config.AllowedCIDRs {
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list CIDR %q: %w", raw, err)
		}
		cidrs = append(cidrs, network)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		cfg:     params.Config,
		rate:    params.RateLimit,
		limiter: params.Limiter,
		logg:    params.Logger,
		metrics: params.Metrics,
		cidrs:   cidrs,
		now:     now,
	}, nil
}

// Validate runs the ordered checks and logs the evaluation with per-check
// outcomes. Failure messages never include the configured secret.
func (g *Gate) Validate(ctx context.Context, req *CheckRequest) *GateResult {
	start := g.now()
	result := &GateResult{Valid: true}

	checks := []struct {
		name string
		run  func(context.Context, *CheckRequest) (bool, string)
	}{
		{CheckIPAllowList, g.checkIPAllowList},
		{CheckSignature, g.checkSignature},
		{CheckTimestamp, g.checkTimestamp},
		{CheckRateLimit, g.checkRateLimit},
		{CheckContent, g.checkContent},
	}

	for _, check := range checks {
		checkStart := g.now()
		passed, message := check.run(ctx, req)
		duration := g.now().Sub(checkStart)
		result.Checks = append(result.Checks, CheckResult{
			Name:     check.name,
			Passed:   passed,
			Message:  message,
			Duration: duration,
		})
		g.metrics.ObserveCheck(check.name, duration, passed)
		if !passed {
			result.Valid = false
		}
	}

	result.Latency = g.now().Sub(start)
	g.logEvaluation(ctx, req, result)
	return result
}

func (g *Gate) logEvaluation(ctx context.Context, req *CheckRequest, result *GateResult) {
	fields := map[string]any{
		"tenant_id":  req.TenantID,
		"valid":      result.Valid,
		"latency_us": result.Latency.Microseconds(),
	}
	for _, check := range result.Checks {
		fields["check_"+check.Name] = check.Passed
	}
	logCtx := g.logg.WithFields(ctx, fields)
	if result.Valid {
		g.logg.Info(logCtx, "gate.evaluated")
		return
	}
	logCtx = g.logg.WithField(logCtx, "failed_check", result.FailedCheck())
	g.logg.Warn(logCtx, "gate.rejected")
}
