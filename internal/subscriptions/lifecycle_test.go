package subscriptions

import (
	"testing"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

var epoch = time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }

func lifecyclePlan(trial, grace, readonly int) models.SubscriptionPlan {
	return models.SubscriptionPlan{Slug: "pro", TrialDays: trial, GracePeriodDays: grace, ReadonlyPeriodDays: readonly}
}

func TestNextTransitionTrial(t *testing.T) {
	plan := lifecyclePlan(14, 14, 60)
	sub := models.OrganizationSubscription{Status: enums.SubscriptionStatusTrial, StartedAt: epoch}

	if _, due := NextTransition(sub, plan, epoch.Add(13*day)); due {
		t.Fatal("trial should hold before trial_days elapse")
	}
	tr, due := NextTransition(sub, plan, epoch.Add(14*day))
	if !due {
		t.Fatal("expected trial to end exactly at started_at + trial_days")
	}
	if tr.To != enums.SubscriptionStatusExpired || !tr.DueAt.Equal(epoch.Add(14*day)) {
		t.Fatalf("unexpected transition %+v", tr)
	}
}

func TestNextTransitionPaidChain(t *testing.T) {
	plan := lifecyclePlan(0, 14, 60)
	expires := epoch.Add(365 * day)
	sub := models.OrganizationSubscription{Status: enums.SubscriptionStatusActive, StartedAt: epoch, ExpiresAt: &expires}

	cases := []struct {
		status enums.SubscriptionStatus
		before time.Time
		at     time.Time
		to     enums.SubscriptionStatus
	}{
		{enums.SubscriptionStatusActive, expires.Add(-time.Second), expires, enums.SubscriptionStatusGrace},
		{enums.SubscriptionStatusGrace, expires.Add(14*day - time.Second), expires.Add(14 * day), enums.SubscriptionStatusReadonly},
		{enums.SubscriptionStatusReadonly, expires.Add(74*day - time.Second), expires.Add(74 * day), enums.SubscriptionStatusExpired},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			sub.Status = tc.status
			if _, due := NextTransition(sub, plan, tc.before); due {
				t.Fatalf("%s should hold until its deadline", tc.status)
			}
			tr, due := NextTransition(sub, plan, tc.at)
			if !due || tr.To != tc.to || tr.From != tc.status {
				t.Fatalf("expected %s -> %s, got %+v (due=%v)", tc.status, tc.to, tr, due)
			}
		})
	}
}

func TestNextTransitionAdvancesOneStepWhenOverdue(t *testing.T) {
	plan := lifecyclePlan(0, 14, 60)
	sub := models.OrganizationSubscription{Status: enums.SubscriptionStatusActive, StartedAt: epoch, ExpiresAt: ptrTime(epoch)}

	tr, due := NextTransition(sub, plan, epoch.Add(500*day))
	if !due || tr.To != enums.SubscriptionStatusGrace {
		t.Fatalf("overdue active subscription should move to grace only, got %+v", tr)
	}
}

func TestNextTransitionSkipsEmptyWindows(t *testing.T) {
	sub := models.OrganizationSubscription{Status: enums.SubscriptionStatusActive, StartedAt: epoch, ExpiresAt: ptrTime(epoch)}

	tr, _ := NextTransition(sub, lifecyclePlan(0, 0, 60), epoch)
	if tr.To != enums.SubscriptionStatusReadonly {
		t.Fatalf("expected zero grace to go straight to readonly, got %s", tr.To)
	}
	tr, _ = NextTransition(sub, lifecyclePlan(0, 0, 0), epoch)
	if tr.To != enums.SubscriptionStatusExpired {
		t.Fatalf("expected no windows to expire immediately, got %s", tr.To)
	}
	sub.Status = enums.SubscriptionStatusGrace
	tr, _ = NextTransition(sub, lifecyclePlan(0, 14, 0), epoch.Add(14*day))
	if tr.To != enums.SubscriptionStatusExpired {
		t.Fatalf("expected zero readonly to expire from grace, got %s", tr.To)
	}
}

func TestNextTransitionOpenEndedAndTerminal(t *testing.T) {
	plan := lifecyclePlan(0, 14, 60)
	far := epoch.Add(10000 * day)

	for _, status := range []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusExpired,
		enums.SubscriptionStatusCancelled,
	} {
		sub := models.OrganizationSubscription{Status: status, StartedAt: epoch}
		if _, due := NextTransition(sub, plan, far); due {
			t.Fatalf("%s without expires_at should never transition", status)
		}
	}
}

func TestDeadlineAfter(t *testing.T) {
	plan := lifecyclePlan(0, 14, 60)
	expires := epoch.Add(30 * day)
	sub := models.OrganizationSubscription{StartedAt: epoch, ExpiresAt: &expires}

	grace := DeadlineAfter(sub, plan, enums.SubscriptionStatusGrace)
	if grace == nil || !grace.Equal(expires.Add(14*day)) {
		t.Fatalf("unexpected grace deadline %v", grace)
	}
	if got := DeadlineAfter(sub, plan, enums.SubscriptionStatusExpired); got != nil {
		t.Fatalf("terminal state should have no deadline, got %v", got)
	}
}
