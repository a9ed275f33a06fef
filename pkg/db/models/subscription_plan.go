package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// SubscriptionPlan is one tier of the catalog. Plans are never edited in place
// once subscribed to; a change produces a new row.
type SubscriptionPlan struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Slug               string              `gorm:"column:slug;not null;uniqueIndex"`
	Name               string              `gorm:"column:name;not null"`
	Description        *string             `gorm:"column:description"`
	SortOrder          int                 `gorm:"column:sort_order;not null;uniqueIndex"`
	IsActive           bool                `gorm:"column:is_active;not null"`
	IsDefault          bool                `gorm:"column:is_default;not null;default:false"`
	IsCustom           bool                `gorm:"column:is_custom;not null;default:false"`
	TrialDays          int                 `gorm:"column:trial_days;not null;default:0"`
	GracePeriodDays    int                 `gorm:"column:grace_period_days;not null"`
	ReadonlyPeriodDays int                 `gorm:"column:readonly_period_days;not null"`
	MaxSchools         int                 `gorm:"column:max_schools;not null"`
	BillingPeriod      enums.BillingPeriod `gorm:"column:billing_period;not null;default:'yearly'"`
	CustomBillingDays  *int                `gorm:"column:custom_billing_days"`
	Fees               []PlanFee           `gorm:"foreignKey:PlanID"`
	Features           []PlanFeature       `gorm:"foreignKey:PlanID"`
	Limits             []PlanLimit         `gorm:"foreignKey:PlanID"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt          gorm.DeletedAt      `gorm:"column:deleted_at;index"`
}

func (p *SubscriptionPlan) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Fee returns the price row for the currency.
func (p SubscriptionPlan) Fee(currency enums.Currency) (PlanFee, bool) {
	for _, fee := range p.Fees {
		if fee.Currency == currency {
			return fee, true
		}
	}
	return PlanFee{}, false
}

// FeatureEnabled reports whether the plan carries an enabled flag for key.
// A missing row means disabled.
func (p SubscriptionPlan) FeatureEnabled(key string) bool {
	for _, feature := range p.Features {
		if feature.FeatureKey == key {
			return feature.IsEnabled
		}
	}
	return false
}

// Limit returns the configured limit row for a resource key.
func (p SubscriptionPlan) Limit(resourceKey string) (PlanLimit, bool) {
	for _, limit := range p.Limits {
		if limit.ResourceKey == resourceKey {
			return limit, true
		}
	}
	return PlanLimit{}, false
}

// PlanFee holds a plan's price in one currency.
type PlanFee struct {
	ID                      uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PlanID                  uuid.UUID       `gorm:"column:plan_id;type:uuid;not null;uniqueIndex:ux_plan_fees_plan_currency"`
	Currency                enums.Currency  `gorm:"column:currency;not null;uniqueIndex:ux_plan_fees_plan_currency"`
	LicenseFee              decimal.Decimal `gorm:"column:license_fee;type:numeric(14,2);not null;default:0"`
	MaintenanceFee          decimal.Decimal `gorm:"column:maintenance_fee;type:numeric(14,2);not null;default:0"`
	PerSchoolMaintenanceFee decimal.Decimal `gorm:"column:per_school_maintenance_fee;type:numeric(14,2);not null;default:0"`
	CreatedAt               time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *PlanFee) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}

// PlanFeature toggles one feature key on a plan.
type PlanFeature struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PlanID     uuid.UUID `gorm:"column:plan_id;type:uuid;not null;uniqueIndex:ux_plan_features_plan_key"`
	FeatureKey string    `gorm:"column:feature_key;not null;uniqueIndex:ux_plan_features_plan_key"`
	IsEnabled  bool      `gorm:"column:is_enabled;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *PlanFeature) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}

// PlanLimit caps one metered resource on a plan. LimitValue -1 is unlimited.
type PlanLimit struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PlanID           uuid.UUID `gorm:"column:plan_id;type:uuid;not null;uniqueIndex:ux_plan_limits_plan_resource"`
	ResourceKey      string    `gorm:"column:resource_key;not null;uniqueIndex:ux_plan_limits_plan_resource"`
	LimitValue       int64     `gorm:"column:limit_value;not null"`
	WarningThreshold int       `gorm:"column:warning_threshold;not null;default:80"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *PlanLimit) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
