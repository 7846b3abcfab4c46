package orchestration

import (
	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
)

// FallbackProvider builds the scripted replies played when the engine
// is unavailable or the tenant's minutes ran out. The texts come from
// config so operators can reword them without a deploy.
type FallbackProvider struct {
	unavailableText  string
	limitReachedText string
}

func NewFallbackProvider(cfg config.OrchestrationConfig) *FallbackProvider {
	return &FallbackProvider{
		unavailableText:  cfg.FallbackText,
		limitReachedText: cfg.LimitReachedText,
	}
}

// Unavailable is played when the breaker trips or the engine errors.
// The call stays up so the caller hears the message before hangup.
func (f *FallbackProvider) Unavailable() *EngineReply {
	return &EngineReply{
		Text:    f.unavailableText,
		EndCall: true,
		Metadata: map[string]string{
			"fallback_reason": "engine_unavailable",
		},
	}
}

// LimitReached is played when usage enforcement blocks the call.
func (f *FallbackProvider) LimitReached(reason enums.BlockReason) *EngineReply {
	return &EngineReply{
		Text:    f.limitReachedText,
		EndCall: true,
		Metadata: map[string]string{
			"fallback_reason": "limit_reached",
			"block_reason":    reason.String(),
		},
	}
}
