package enums

import "fmt"

// SubscriptionStatus is the lifecycle state of an organization subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusGrace     SubscriptionStatus = "grace"
	SubscriptionStatusReadonly  SubscriptionStatus = "readonly"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrial,
	SubscriptionStatusActive,
	SubscriptionStatusGrace,
	SubscriptionStatusReadonly,
	SubscriptionStatusExpired,
	SubscriptionStatusCancelled,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the scheduler can no longer move the subscription.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusExpired || s == SubscriptionStatusCancelled
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}

// NonTerminalSubscriptionStatuses lists the states the lifecycle sweep inspects.
func NonTerminalSubscriptionStatuses() []SubscriptionStatus {
	return []SubscriptionStatus{
		SubscriptionStatusTrial,
		SubscriptionStatusActive,
		SubscriptionStatusGrace,
		SubscriptionStatusReadonly,
	}
}
