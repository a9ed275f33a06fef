package enums

import (
	"fmt"
	"strings"
)

// BillingPeriod defines how often a plan's maintenance fee is charged.
type BillingPeriod string

const (
	BillingPeriodMonthly   BillingPeriod = "monthly"
	BillingPeriodQuarterly BillingPeriod = "quarterly"
	BillingPeriodYearly    BillingPeriod = "yearly"
	BillingPeriodCustom    BillingPeriod = "custom"
)

var validBillingPeriods = []BillingPeriod{
	BillingPeriodMonthly,
	BillingPeriodQuarterly,
	BillingPeriodYearly,
	BillingPeriodCustom,
}

// String implements fmt.Stringer.
func (b BillingPeriod) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingPeriod.
func (b BillingPeriod) IsValid() bool {
	for _, candidate := range validBillingPeriods {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingPeriod converts raw input into a BillingPeriod. Matching is case-insensitive
// so display labels such as "Monthly" are accepted too.
func ParseBillingPeriod(value string) (BillingPeriod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validBillingPeriods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing period %q", value)
}
