package enums

import (
	"fmt"
	"strings"
)

// BlockReason explains why a tenant's calls are currently refused. The
// infra_error reason is the fail-safe path and must stay distinguishable
// from genuine policy-driven blocks for operators.
type BlockReason string

const (
	BlockReasonLimitReached      BlockReason = "limit_reached"
	BlockReasonOverageCapReached BlockReason = "overage_cap_reached"
	BlockReasonPolicyBlock       BlockReason = "policy_block"
	BlockReasonInfraError        BlockReason = "infra_error"
)

var validBlockReasons = []BlockReason{
	BlockReasonLimitReached,
	BlockReasonOverageCapReached,
	BlockReasonPolicyBlock,
	BlockReasonInfraError,
}

// String implements fmt.Stringer.
func (r BlockReason) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r BlockReason) IsValid() bool {
	for _, candidate := range validBlockReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseBlockReason converts raw input into a BlockReason.
func ParseBlockReason(value string) (BlockReason, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validBlockReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid block reason %q", value)
}
