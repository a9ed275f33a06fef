package enums

// AccessLevel summarises what an organization may do given its subscription state.
type AccessLevel string

const (
	AccessLevelNone     AccessLevel = "none"
	AccessLevelFull     AccessLevel = "full"
	AccessLevelGrace    AccessLevel = "grace"
	AccessLevelReadonly AccessLevel = "readonly"
	AccessLevelBlocked  AccessLevel = "blocked"
)

// CanWrite reports whether mutating use is permitted at this level.
func (a AccessLevel) CanWrite() bool {
	return a == AccessLevelFull || a == AccessLevelGrace
}

// CanRead reports whether read use is permitted at this level.
func (a AccessLevel) CanRead() bool {
	return a.CanWrite() || a == AccessLevelReadonly
}

// AccessLevelForStatus maps a subscription status onto an access level.
func AccessLevelForStatus(status SubscriptionStatus) AccessLevel {
	switch status {
	case SubscriptionStatusTrial, SubscriptionStatusActive:
		return AccessLevelFull
	case SubscriptionStatusGrace:
		return AccessLevelGrace
	case SubscriptionStatusReadonly:
		return AccessLevelReadonly
	case SubscriptionStatusExpired, SubscriptionStatusCancelled:
		return AccessLevelBlocked
	default:
		return AccessLevelNone
	}
}

// FeatureDenialReason explains why a feature access check was refused.
type FeatureDenialReason string

const (
	DenialNoSubscription       FeatureDenialReason = "no_subscription"
	DenialSubscriptionReadonly FeatureDenialReason = "subscription_readonly"
	DenialSubscriptionExpired  FeatureDenialReason = "subscription_expired"
	DenialPlanFeatureDisabled  FeatureDenialReason = "plan_feature_disabled"
	DenialDependencyMissing    FeatureDenialReason = "dependency_missing"
)
