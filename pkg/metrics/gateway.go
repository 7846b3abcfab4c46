package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics tracks the webhook request path: security gate checks,
// breaker transitions and usage recording outcomes.
type GatewayMetrics struct {
	checkDuration      *prometheus.HistogramVec
	checkFailure       *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	fallbackServed     prometheus.Counter
	usageRecorded      *prometheus.CounterVec
}

// NewGatewayMetrics registers the gateway metrics on the provided registerer.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	checkDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gate_check_duration_seconds",
		Help:    "Duration of individual security gate checks.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"check"})
	checkFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_check_failures",
		Help: "Security gate check failures.",
	}, []string{"check"})
	breakerTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_transitions",
		Help: "Circuit breaker state transitions.",
	}, []string{"from", "to"})
	fallbackServed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "breaker_fallbacks_served",
		Help: "Responses served from the scripted fallback.",
	})
	usageRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_record_outcomes",
		Help: "Usage recording attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(checkDuration, checkFailure, breakerTransitions, fallbackServed, usageRecorded)
	return &GatewayMetrics{
		checkDuration:      checkDuration,
		checkFailure:       checkFailure,
		breakerTransitions: breakerTransitions,
		fallbackServed:     fallbackServed,
		usageRecorded:      usageRecorded,
	}
}

// ObserveCheck records the duration and outcome of a single gate check.
func (g *GatewayMetrics) ObserveCheck(check string, duration time.Duration, passed bool) {
	if g == nil || g.checkDuration == nil {
		return
	}
	g.checkDuration.WithLabelValues(normalizeLabel(check)).Observe(duration.Seconds())
	if !passed {
		g.checkFailure.WithLabelValues(normalizeLabel(check)).Inc()
	}
}

// ObserveTransition records a breaker state change.
func (g *GatewayMetrics) ObserveTransition(from, to string) {
	if g == nil || g.breakerTransitions == nil {
		return
	}
	g.breakerTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncFallback counts a fallback response served to a live call.
func (g *GatewayMetrics) IncFallback() {
	if g == nil || g.fallbackServed == nil {
		return
	}
	g.fallbackServed.Inc()
}

// IncUsageRecorded counts a usage recording attempt by outcome.
func (g *GatewayMetrics) IncUsageRecorded(outcome string) {
	if g == nil || g.usageRecorded == nil {
		return
	}
	g.usageRecorded.WithLabelValues(normalizeLabel(outcome)).Inc()
}
