package enums

import (
	"fmt"
	"strings"
)

// OveragePolicy controls what happens once a tenant exhausts its included minutes.
type OveragePolicy string

const (
	OveragePolicyBlock      OveragePolicy = "block"
	OveragePolicyCharge     OveragePolicy = "charge"
	OveragePolicyNotifyOnly OveragePolicy = "notify_only"
)

var validOveragePolicies = []OveragePolicy{
	OveragePolicyBlock,
	OveragePolicyCharge,
	OveragePolicyNotifyOnly,
}

// String implements fmt.Stringer.
func (p OveragePolicy) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p OveragePolicy) IsValid() bool {
	for _, candidate := range validOveragePolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseOveragePolicy converts raw input into an OveragePolicy.
func ParseOveragePolicy(value string) (OveragePolicy, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validOveragePolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid overage policy %q", value)
}
