package enums

import (
	"fmt"
	"strings"
)

// LimitPolicy decides what a resource without any configured limit resolves to.
type LimitPolicy string

const (
	// LimitPolicyLenient resolves unconfigured resources to unlimited.
	LimitPolicyLenient LimitPolicy = "lenient"
	// LimitPolicyStrict fails resolution of unconfigured resources.
	LimitPolicyStrict LimitPolicy = "strict"
)

func (p LimitPolicy) IsValid() bool {
	return p == LimitPolicyLenient || p == LimitPolicyStrict
}

func ParseLimitPolicy(value string) (LimitPolicy, error) {
	policy := LimitPolicy(strings.ToLower(strings.TrimSpace(value)))
	if policy == "" {
		return LimitPolicyLenient, nil
	}
	if !policy.IsValid() {
		return "", fmt.Errorf("invalid limit policy %q", value)
	}
	return policy, nil
}
