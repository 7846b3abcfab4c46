package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

type fakeLimiter struct {
	counts map[string]int64
	err    error
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{counts: map[string]int64{}}
}

func (f *fakeLimiter) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeLimiter) RateLimitKey(scope string) string {
	return "tistis:rate_limit:" + scope
}

const testSecret = "webhook-secret"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestGate(t *testing.T, mutate func(*GateParams)) (*Gate, *fakeLimiter) {
	t.Helper()
	limiter := newFakeLimiter()
	params := GateParams{
		Config: config.GateConfig{
			AllowedCIDRs:     []string{"10.0.0.0/8"},
			WebhookSecret:    testSecret,
			RequireSignature: true,
			TimestampSkew:    5 * time.Minute,
			MaxBodyBytes:     1 << 20,
		},
		RateLimit: config.RateLimitConfig{
			Window:      time.Minute,
			TenantLimit: 200,
			GlobalLimit: 1000,
		},
		Limiter: limiter,
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
	}
	if mutate != nil {
		mutate(&params)
	}
	gate, err := NewGate(params)
	require.NoError(t, err)
	return gate, limiter
}

func validRequest() *CheckRequest {
	body := []byte(`{"event_type":"call.started","call_id":"c1"}`)
	return &CheckRequest{
		TenantID:    uuid.New(),
		RemoteAddr:  "10.1.2.3:54321",
		Signature:   signBody(body),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		ContentType: "application/json",
		Body:        body,
	}
}

func TestGateAllChecksPass(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	result := gate.Validate(context.Background(), validRequest())

	assert.True(t, result.Valid)
	assert.Empty(t, result.FailedCheck())
	require.Len(t, result.Checks, 5)
	order := []string{CheckIPAllowList, CheckSignature, CheckTimestamp, CheckRateLimit, CheckContent}
	for i, check := range result.Checks {
		assert.Equal(t, order[i], check.Name)
		assert.True(t, check.Passed, check.Name)
	}
}

func TestGateMissingSignatureFailsSignatureCheck(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.Signature = ""

	result := gate.Validate(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckSignature, result.FailedCheck())
}

func TestGateWrongSignatureFailsSignatureCheck(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.Signature = signBody([]byte("tampered"))

	result := gate.Validate(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckSignature, result.FailedCheck())
}

func TestGateAcceptsPrefixedSignature(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.Signature = "sha256=" + signBody(req.Body)

	result := gate.Validate(context.Background(), req)
	assert.True(t, result.Valid)
}

func TestGateNoSecretFailsClosedWhenRequired(t *testing.T) {
	gate, _ := newTestGate(t, func(p *GateParams) {
		p.Config.WebhookSecret = ""
	})
	result := gate.Validate(context.Background(), validRequest())
	assert.False(t, result.Valid)
	assert.Equal(t, CheckSignature, result.FailedCheck())
}

func TestGateNoSecretPassesWithWarningWhenNotRequired(t *testing.T) {
	gate, _ := newTestGate(t, func(p *GateParams) {
		p.Config.WebhookSecret = ""
		p.Config.RequireSignature = false
	})
	req := validRequest()
	req.Signature = ""
	result := gate.Validate(context.Background(), req)
	assert.True(t, result.Valid)
}

func TestGateRejectsIPOutsideAllowList(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.RemoteAddr = "203.0.113.9:1234"

	result := gate.Validate(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckIPAllowList, result.FailedCheck())
}

func TestGateForwardedHeaderFirstHopWins(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.RemoteAddr = "203.0.113.9:1234"
	req.ForwardedIP = "10.9.8.7, 203.0.113.9"

	result := gate.Validate(context.Background(), req)
	assert.True(t, result.Valid)
}

func TestGateLoopbackNeedsExplicitFlag(t *testing.T) {
	req := validRequest()
	req.RemoteAddr = "127.0.0.1:9999"

	gate, _ := newTestGate(t, nil)
	assert.False(t, gate.Validate(context.Background(), req).Valid)

	gate, _ = newTestGate(t, func(p *GateParams) { p.Config.AllowLoopback = true })
	assert.True(t, gate.Validate(context.Background(), req).Valid)
}

func TestGateStaleTimestampRejected(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.Timestamp = time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)

	result := gate.Validate(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckTimestamp, result.FailedCheck())
}

func TestGateMissingTimestampPasses(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.Timestamp = ""

	result := gate.Validate(context.Background(), req)
	assert.True(t, result.Valid)
}

func TestGateUnixTimestampAccepted(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.Timestamp = fmt.Sprintf("%d", time.Now().Unix())

	result := gate.Validate(context.Background(), req)
	assert.True(t, result.Valid)
}

func TestGateTenantRateLimitBreach(t *testing.T) {
	gate, limiter := newTestGate(t, func(p *GateParams) {
		p.RateLimit.TenantLimit = 2
	})
	req := validRequest()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.True(t, gate.Validate(ctx, req).Valid)
	}
	result := gate.Validate(ctx, req)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckRateLimit, result.FailedCheck())
	assert.NotEmpty(t, limiter.counts)
}

func TestGateGlobalRateLimitSharedAcrossTenants(t *testing.T) {
	gate, _ := newTestGate(t, func(p *GateParams) {
		p.RateLimit.GlobalLimit = 2
		p.RateLimit.TenantLimit = 100
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := validRequest()
		require.True(t, gate.Validate(ctx, req).Valid)
	}
	result := gate.Validate(ctx, validRequest())
	assert.False(t, result.Valid)
	assert.Equal(t, CheckRateLimit, result.FailedCheck())
}

func TestGateLimiterErrorDenies(t *testing.T) {
	gate, limiter := newTestGate(t, nil)
	limiter.err = errors.New("redis down")

	result := gate.Validate(context.Background(), validRequest())
	assert.False(t, result.Valid)
	assert.Equal(t, CheckRateLimit, result.FailedCheck())
}

func TestGateContentTypeAndBodyCeiling(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.ContentType = "text/plain"
	result := gate.Validate(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckContent, result.FailedCheck())

	gate, _ = newTestGate(t, func(p *GateParams) { p.Config.MaxBodyBytes = 8 })
	result = gate.Validate(context.Background(), validRequest())
	assert.False(t, result.Valid)
	assert.Equal(t, CheckContent, result.FailedCheck())
}

func TestGateContentTypeWithCharsetAccepted(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	req := validRequest()
	req.ContentType = "application/json; charset=utf-8"
	assert.True(t, gate.Validate(context.Background(), req).Valid)
}

func TestNewGateRejectsInvalidCIDR(t *testing.T) {
	_, err := NewGate(GateParams{
		Config:  config.GateConfig{AllowedCIDRs: []string{"not-a-cidr"}},
		Limiter: newFakeLimiter(),
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
	})
	assert.Error(t, err)
}
