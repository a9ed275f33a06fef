package enums

// HistoryAction labels a subscription history row.
type HistoryAction string

const (
	HistoryActionTrialStarted HistoryAction = "trial_started"
	HistoryActionActivated    HistoryAction = "activated"
	HistoryActionRenewed      HistoryAction = "renewed"
	HistoryActionUpgraded     HistoryAction = "upgraded"
	HistoryActionDowngraded   HistoryAction = "downgraded"
	HistoryActionGracePeriod  HistoryAction = "grace_period"
	HistoryActionReadonly     HistoryAction = "readonly"
	HistoryActionExpired      HistoryAction = "expired"
	HistoryActionCancelled    HistoryAction = "cancelled"
	HistoryActionSuperseded   HistoryAction = "superseded"
)

var validHistoryActions = []HistoryAction{
	HistoryActionTrialStarted,
	HistoryActionActivated,
	HistoryActionRenewed,
	HistoryActionUpgraded,
	HistoryActionDowngraded,
	HistoryActionGracePeriod,
	HistoryActionReadonly,
	HistoryActionExpired,
	HistoryActionCancelled,
	HistoryActionSuperseded,
}

func (a HistoryAction) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a HistoryAction) IsValid() bool {
	for _, candidate := range validHistoryActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// HistoryActionForStatus maps a scheduler-driven status change to its
// history label. ok is false for statuses the scheduler never enters.
func HistoryActionForStatus(to SubscriptionStatus) (HistoryAction, bool) {
	switch to {
	case SubscriptionStatusGrace:
		return HistoryActionGracePeriod, true
	case SubscriptionStatusReadonly:
		return HistoryActionReadonly, true
	case SubscriptionStatusExpired:
		return HistoryActionExpired, true
	case SubscriptionStatusCancelled:
		return HistoryActionCancelled, true
	}
	return "", false
}
