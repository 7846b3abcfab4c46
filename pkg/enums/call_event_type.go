package enums

import (
	"fmt"
	"strings"
)

// CallEventType identifies the lifecycle stage of an inbound call event.
type CallEventType string

const (
	CallEventStarted CallEventType = "call.started"
	CallEventTurn    CallEventType = "call.turn"
	CallEventEnded   CallEventType = "call.ended"
)

var validCallEventTypes = []CallEventType{
	CallEventStarted,
	CallEventTurn,
	CallEventEnded,
}

// String implements fmt.Stringer.
func (t CallEventType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t CallEventType) IsValid() bool {
	for _, candidate := range validCallEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCallEventType converts raw input into a CallEventType.
func ParseCallEventType(value string) (CallEventType, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validCallEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid call event type %q", value)
}
