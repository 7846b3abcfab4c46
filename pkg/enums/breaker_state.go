package enums

import (
	"fmt"
	"strings"
)

// BreakerState is the persisted circuit breaker position for a tenant.
type BreakerState string

const (
	BreakerStateClosed   BreakerState = "closed"
	BreakerStateOpen     BreakerState = "open"
	BreakerStateHalfOpen BreakerState = "half_open"
)

var validBreakerStates = []BreakerState{
	BreakerStateClosed,
	BreakerStateOpen,
	BreakerStateHalfOpen,
}

// String implements fmt.Stringer.
func (s BreakerState) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s BreakerState) IsValid() bool {
	for _, candidate := range validBreakerStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBreakerState converts raw input into a BreakerState.
func ParseBreakerState(value string) (BreakerState, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validBreakerStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid breaker state %q", value)
}
