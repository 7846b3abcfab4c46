package orchestration

import (
	"time"

	"github.com/google/uuid"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
)

// CallEvent is one telephony webhook event forwarded to the voice
// engine. call.started and call.turn expect a reply; call.ended only
// reports the final duration.
type CallEvent struct {
	EventType       enums.CallEventType `json:"event_type"`
	CallID          string              `json:"call_id"`
	TenantID        uuid.UUID           `json:"tenant_id"`
	FromNumber      string              `json:"from_number,omitempty"`
	ToNumber        string              `json:"to_number,omitempty"`
	UserText        string              `json:"user_text,omitempty"`
	DurationSeconds int64               `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time           `json:"occurred_at"`
}

// EngineReply is what the voice engine wants spoken back to the caller.
type EngineReply struct {
	Text     string            `json:"text"`
	EndCall  bool              `json:"end_call,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
