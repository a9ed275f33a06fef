package subscriptions

import (
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

const day = 24 * time.Hour

// Deadlines are the instants at which each lifecycle window closes. Windows
// that depend on expires_at are nil when the subscription has none.
type Deadlines struct {
	TrialEndsAt    time.Time
	ExpiresAt      *time.Time
	GraceEndsAt    *time.Time
	ReadonlyEndsAt *time.Time
}

// Transition is one due lifecycle step.
type Transition struct {
	From  enums.SubscriptionStatus
	To    enums.SubscriptionStatus
	DueAt time.Time
}

// ComputeDeadlines derives the lifecycle deadlines of sub under plan.
func ComputeDeadlines(sub models.OrganizationSubscription, plan models.SubscriptionPlan) Deadlines {
	d := Deadlines{TrialEndsAt: sub.StartedAt.UTC().Add(days(plan.TrialDays))}
	if sub.ExpiresAt == nil {
		return d
	}
	expires := sub.ExpiresAt.UTC()
	grace := expires.Add(days(plan.GracePeriodDays))
	readonly := grace.Add(days(plan.ReadonlyPeriodDays))
	d.ExpiresAt = &expires
	d.GraceEndsAt = &grace
	d.ReadonlyEndsAt = &readonly
	return d
}

// step returns the state that follows status and when it becomes due.
// Zero-length grace or readonly windows are skipped.
func step(status enums.SubscriptionStatus, d Deadlines, plan models.SubscriptionPlan) (enums.SubscriptionStatus, *time.Time, bool) {
	switch status {
	case enums.SubscriptionStatusTrial:
		due := d.TrialEndsAt
		return enums.SubscriptionStatusExpired, &due, true
	case enums.SubscriptionStatusActive:
		if d.ExpiresAt == nil {
			return "", nil, false
		}
		switch {
		case plan.GracePeriodDays > 0:
			return enums.SubscriptionStatusGrace, d.ExpiresAt, true
		case plan.ReadonlyPeriodDays > 0:
			return enums.SubscriptionStatusReadonly, d.ExpiresAt, true
		default:
			return enums.SubscriptionStatusExpired, d.ExpiresAt, true
		}
	case enums.SubscriptionStatusGrace:
		if d.GraceEndsAt == nil {
			return "", nil, false
		}
		if plan.ReadonlyPeriodDays > 0 {
			return enums.SubscriptionStatusReadonly, d.GraceEndsAt, true
		}
		return enums.SubscriptionStatusExpired, d.GraceEndsAt, true
	case enums.SubscriptionStatusReadonly:
		if d.ReadonlyEndsAt == nil {
			return "", nil, false
		}
		return enums.SubscriptionStatusExpired, d.ReadonlyEndsAt, true
	}
	return "", nil, false
}

// NextTransition reports the single step due for sub at now, if any. A
// subscription advances at most one state per evaluation.
func NextTransition(sub models.OrganizationSubscription, plan models.SubscriptionPlan, now time.Time) (Transition, bool) {
	to, due, ok := step(sub.Status, ComputeDeadlines(sub, plan), plan)
	if !ok || now.UTC().Before(*due) {
		return Transition{}, false
	}
	return Transition{From: sub.Status, To: to, DueAt: *due}, true
}

// DeadlineAfter returns when a subscription that has just entered status
// will leave it, or nil for terminal and open-ended states.
func DeadlineAfter(sub models.OrganizationSubscription, plan models.SubscriptionPlan, status enums.SubscriptionStatus) *time.Time {
	_, due, ok := step(status, ComputeDeadlines(sub, plan), plan)
	if !ok {
		return nil
	}
	return due
}

func days(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * day
}
