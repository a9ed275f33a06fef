package enums

import "testing"

func TestParseBillingPeriodAcceptsLabels(t *testing.T) {
	got, err := ParseBillingPeriod(" Monthly ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != BillingPeriodMonthly {
		t.Fatalf("expected monthly got %q", got)
	}
	if _, err := ParseBillingPeriod("fortnightly"); err == nil {
		t.Fatal("expected unknown period to fail")
	}
}

func TestAccessLevelForStatus(t *testing.T) {
	cases := map[SubscriptionStatus]AccessLevel{
		SubscriptionStatusTrial:     AccessLevelFull,
		SubscriptionStatusActive:    AccessLevelFull,
		SubscriptionStatusGrace:     AccessLevelGrace,
		SubscriptionStatusReadonly:  AccessLevelReadonly,
		SubscriptionStatusExpired:   AccessLevelBlocked,
		SubscriptionStatusCancelled: AccessLevelBlocked,
		SubscriptionStatus("bogus"): AccessLevelNone,
	}
	for status, want := range cases {
		if got := AccessLevelForStatus(status); got != want {
			t.Fatalf("status %s: expected %s got %s", status, want, got)
		}
	}
	if !AccessLevelGrace.CanWrite() || AccessLevelReadonly.CanWrite() {
		t.Fatal("write permissions mismatch")
	}
	if !AccessLevelReadonly.CanRead() || AccessLevelBlocked.CanRead() {
		t.Fatal("read permissions mismatch")
	}
}

func TestTransitionEventType(t *testing.T) {
	got, ok := TransitionEventType(SubscriptionStatusTrial, SubscriptionStatusExpired)
	if !ok || got != EventSubscriptionTrialExpired {
		t.Fatalf("expected trial expiry event, got %q", got)
	}
	got, ok = TransitionEventType(SubscriptionStatusReadonly, SubscriptionStatusExpired)
	if !ok || got != EventSubscriptionExpired {
		t.Fatalf("expected expiry event, got %q", got)
	}
	if _, ok := TransitionEventType(SubscriptionStatusActive, SubscriptionStatusTrial); ok {
		t.Fatal("no event expected for transition into trial")
	}
}

func TestParseLimitPolicy(t *testing.T) {
	if p, err := ParseLimitPolicy(""); err != nil || p != LimitPolicyLenient {
		t.Fatalf("expected empty policy to default to lenient, got %q %v", p, err)
	}
	if p, err := ParseLimitPolicy("STRICT"); err != nil || p != LimitPolicyStrict {
		t.Fatalf("expected strict, got %q %v", p, err)
	}
	if _, err := ParseLimitPolicy("other"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestHistoryActionForStatus(t *testing.T) {
	cases := map[SubscriptionStatus]HistoryAction{
		SubscriptionStatusGrace:     HistoryActionGracePeriod,
		SubscriptionStatusReadonly:  HistoryActionReadonly,
		SubscriptionStatusExpired:   HistoryActionExpired,
		SubscriptionStatusCancelled: HistoryActionCancelled,
	}
	for status, want := range cases {
		got, ok := HistoryActionForStatus(status)
		if !ok || got != want || !got.IsValid() {
			t.Fatalf("%s: got %q ok=%v", status, got, ok)
		}
	}
	if _, ok := HistoryActionForStatus(SubscriptionStatusActive); ok {
		t.Fatal("the scheduler never moves a subscription into active")
	}
}
