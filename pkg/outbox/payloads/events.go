package payloads

import (
	"strconv"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/google/uuid"
)

// SubscriptionTransitionEvent is emitted once per scheduled lifecycle step.
type SubscriptionTransitionEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	OrganizationID uuid.UUID                `json:"organization_id"`
	PlanID         uuid.UUID                `json:"plan_id"`
	PlanSlug       string                   `json:"plan_slug"`
	From           enums.SubscriptionStatus `json:"from"`
	To             enums.SubscriptionStatus `json:"to"`
	DueAt          time.Time                `json:"due_at"`
	TransitionedAt time.Time                `json:"transitioned_at"`
	// NextDeadline is when the following step becomes due; nil once terminal.
	NextDeadline *time.Time `json:"next_deadline,omitempty"`
}

// SubscriptionCancelledEvent is emitted when an operator or the billing
// integration cancels a subscription.
type SubscriptionCancelledEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	OrganizationID uuid.UUID                `json:"organization_id"`
	PreviousStatus enums.SubscriptionStatus `json:"previous_status"`
	Reason         string                   `json:"reason,omitempty"`
	CancelledAt    time.Time                `json:"cancelled_at"`
}

// SubscriptionActivatedEvent is emitted when a paid period starts.
type SubscriptionActivatedEvent struct {
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	PlanID         uuid.UUID      `json:"plan_id"`
	PlanSlug       string         `json:"plan_slug"`
	Currency       enums.Currency `json:"currency"`
	StartedAt      time.Time      `json:"started_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// SubscriptionReminderEvent warns that the current window of a subscription
// closes in DaysLeft days.
type SubscriptionReminderEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	OrganizationID uuid.UUID                `json:"organization_id"`
	PlanID         uuid.UUID                `json:"plan_id"`
	PlanSlug       string                   `json:"plan_slug"`
	Status         enums.SubscriptionStatus `json:"status"`
	DaysLeft       int                      `json:"days_left"`
	Deadline       time.Time                `json:"deadline"`
}

// UsageLimitEvent reports that an organization's usage of a resource entered
// the warning band or reached its limit.
type UsageLimitEvent struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	ResourceKey    string    `json:"resource_key"`
	Current        int64     `json:"current"`
	Limit          int64     `json:"limit"`
	Percentage     float64   `json:"percentage"`
	// PeriodStart is set for counters that reset monthly or yearly.
	PeriodStart *time.Time `json:"period_start,omitempty"`
}

// Notification is implemented by every payload the relay publishes. The
// attributes travel as Pub/Sub message attributes so subscribers can filter
// without decoding the body.
type Notification interface {
	Organization() uuid.UUID
	Attributes() map[string]string
}

func (e *SubscriptionTransitionEvent) Organization() uuid.UUID { return e.OrganizationID }

func (e *SubscriptionTransitionEvent) Attributes() map[string]string {
	return map[string]string{
		"subscription_id": idString(e.SubscriptionID),
		"plan_slug":       e.PlanSlug,
		"from_status":     string(e.From),
		"to_status":       string(e.To),
	}
}

func (e *SubscriptionCancelledEvent) Organization() uuid.UUID { return e.OrganizationID }

func (e *SubscriptionCancelledEvent) Attributes() map[string]string {
	return map[string]string{
		"subscription_id": idString(e.SubscriptionID),
		"from_status":     string(e.PreviousStatus),
		"to_status":       string(enums.SubscriptionStatusCancelled),
	}
}

func (e *SubscriptionActivatedEvent) Organization() uuid.UUID { return e.OrganizationID }

func (e *SubscriptionActivatedEvent) Attributes() map[string]string {
	return map[string]string{
		"subscription_id": idString(e.SubscriptionID),
		"plan_slug":       e.PlanSlug,
		"to_status":       string(enums.SubscriptionStatusActive),
	}
}

func (e *SubscriptionReminderEvent) Organization() uuid.UUID { return e.OrganizationID }

func (e *SubscriptionReminderEvent) Attributes() map[string]string {
	return map[string]string{
		"subscription_id": idString(e.SubscriptionID),
		"plan_slug":       e.PlanSlug,
		"status":          string(e.Status),
		"days_left":       strconv.Itoa(e.DaysLeft),
	}
}

func (e *UsageLimitEvent) Organization() uuid.UUID { return e.OrganizationID }

func (e *UsageLimitEvent) Attributes() map[string]string {
	return map[string]string{
		"resource_key": e.ResourceKey,
	}
}

// idString leaves unset ids out of the attributes.
func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
