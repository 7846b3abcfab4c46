package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOveragePolicy(t *testing.T) {
	policy, err := ParseOveragePolicy(" Charge ")
	require.NoError(t, err)
	assert.Equal(t, OveragePolicyCharge, policy)

	_, err = ParseOveragePolicy("refund")
	assert.Error(t, err)
	assert.False(t, OveragePolicy("refund").IsValid())
}

func TestParseBreakerState(t *testing.T) {
	state, err := ParseBreakerState("HALF_OPEN")
	require.NoError(t, err)
	assert.Equal(t, BreakerStateHalfOpen, state)

	_, err = ParseBreakerState("tripped")
	assert.Error(t, err)
}

func TestParseBlockReason(t *testing.T) {
	reason, err := ParseBlockReason("infra_error")
	require.NoError(t, err)
	assert.Equal(t, BlockReasonInfraError, reason)
	assert.True(t, reason.IsValid())
}

func TestParseCallEventType(t *testing.T) {
	typ, err := ParseCallEventType("call.ended")
	require.NoError(t, err)
	assert.Equal(t, CallEventEnded, typ)

	_, err = ParseCallEventType("call.ringing")
	assert.Error(t, err)
}
