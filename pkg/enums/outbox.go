package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregateOrganization OutboxAggregateType = "organization"
	// Reminder and usage-limit rows use ids derived from the subscription or
	// organization plus the window they announce, one row per window.
	AggregateReminder   OutboxAggregateType = "subscription_reminder"
	AggregateUsageLimit OutboxAggregateType = "usage_limit"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSubscription,
	AggregateOrganization,
	AggregateReminder,
	AggregateUsageLimit,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventSubscriptionGraceStarted    OutboxEventType = "subscription_grace_started"
	EventSubscriptionReadonlyStarted OutboxEventType = "subscription_readonly_started"
	EventSubscriptionExpired         OutboxEventType = "subscription_expired"
	EventSubscriptionTrialExpired    OutboxEventType = "subscription_trial_expired"
	EventSubscriptionCancelled       OutboxEventType = "subscription_cancelled"
	EventSubscriptionActivated       OutboxEventType = "subscription_activated"
	EventSubscriptionRenewalReminder OutboxEventType = "subscription_renewal_reminder"
	EventSubscriptionTrialEnding     OutboxEventType = "subscription_trial_ending"
	EventSubscriptionGraceEnding     OutboxEventType = "subscription_grace_ending"
	EventUsageLimitWarning           OutboxEventType = "usage_limit_warning"
	EventUsageLimitReached           OutboxEventType = "usage_limit_reached"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSubscriptionGraceStarted,
	EventSubscriptionReadonlyStarted,
	EventSubscriptionExpired,
	EventSubscriptionTrialExpired,
	EventSubscriptionCancelled,
	EventSubscriptionActivated,
	EventSubscriptionRenewalReminder,
	EventSubscriptionTrialEnding,
	EventSubscriptionGraceEnding,
	EventUsageLimitWarning,
	EventUsageLimitReached,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// TransitionEventType returns the event emitted when a subscription moves from one state to another.
func TransitionEventType(from, to SubscriptionStatus) (OutboxEventType, bool) {
	switch to {
	case SubscriptionStatusGrace:
		return EventSubscriptionGraceStarted, true
	case SubscriptionStatusReadonly:
		return EventSubscriptionReadonlyStarted, true
	case SubscriptionStatusExpired:
		if from == SubscriptionStatusTrial {
			return EventSubscriptionTrialExpired, true
		}
		return EventSubscriptionExpired, true
	case SubscriptionStatusCancelled:
		return EventSubscriptionCancelled, true
	case SubscriptionStatusActive:
		return EventSubscriptionActivated, true
	default:
		return "", false
	}
}

// OutboxDLQErrorReason records why the relay stopped retrying a row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

// ParseOutboxDLQErrorReason accepts an empty value as "any reason".
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	switch r := OutboxDLQErrorReason(value); r {
	case "", OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return r, nil
	}
	return "", fmt.Errorf("invalid dead letter reason %q", value)
}
