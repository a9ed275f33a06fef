package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// PlanSeed describes a plan to insert. Zero GracePeriodDays and
// ReadonlyPeriodDays are stored as zero.
type PlanSeed struct {
	Slug               string
	Name               string
	SortOrder          int
	Inactive           bool
	IsDefault          bool
	TrialDays          int
	GracePeriodDays    int
	ReadonlyPeriodDays int
	BillingPeriod      enums.BillingPeriod
	CustomBillingDays  *int
	Features           []string
	DisabledFeatures   []string
	Limits             map[string]int64
	Fees               map[enums.Currency][3]string
}

// SeedPlan inserts a plan with its features, limits and fees.
func SeedPlan(t testing.TB, db *gorm.DB, seed PlanSeed) models.SubscriptionPlan {
	t.Helper()
	period := seed.BillingPeriod
	if period == "" {
		period = enums.BillingPeriodYearly
	}
	name := seed.Name
	if name == "" {
		name = seed.Slug
	}
	plan := models.SubscriptionPlan{
		Slug:               seed.Slug,
		Name:               name,
		SortOrder:          seed.SortOrder,
		IsActive:           !seed.Inactive,
		IsDefault:          seed.IsDefault,
		TrialDays:          seed.TrialDays,
		GracePeriodDays:    seed.GracePeriodDays,
		ReadonlyPeriodDays: seed.ReadonlyPeriodDays,
		MaxSchools:         1,
		BillingPeriod:      period,
		CustomBillingDays:  seed.CustomBillingDays,
	}
	for _, key := range seed.Features {
		plan.Features = append(plan.Features, models.PlanFeature{FeatureKey: key, IsEnabled: true})
	}
	for _, key := range seed.DisabledFeatures {
		plan.Features = append(plan.Features, models.PlanFeature{FeatureKey: key})
	}
	for key, value := range seed.Limits {
		plan.Limits = append(plan.Limits, models.PlanLimit{ResourceKey: key, LimitValue: value})
	}
	for currency, fees := range seed.Fees {
		plan.Fees = append(plan.Fees, models.PlanFee{
			Currency:                currency,
			LicenseFee:              decimal.RequireFromString(fees[0]),
			MaintenanceFee:          decimal.RequireFromString(fees[1]),
			PerSchoolMaintenanceFee: decimal.RequireFromString(fees[2]),
		})
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan %s: %v", seed.Slug, err)
	}
	return plan
}

// SeedOrganization inserts an organization.
func SeedOrganization(t testing.TB, db *gorm.DB, additionalSchools int) models.Organization {
	t.Helper()
	id := uuid.New()
	org := models.Organization{
		ID:                id,
		Name:              "Org " + id.String()[:8],
		Slug:              "org-" + id.String(),
		AdditionalSchools: additionalSchools,
	}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	return org
}

// SeedSubscription inserts a subscription for the organization on the plan.
func SeedSubscription(t testing.TB, db *gorm.DB, orgID, planID uuid.UUID, status enums.SubscriptionStatus, startedAt time.Time, expiresAt *time.Time) models.OrganizationSubscription {
	t.Helper()
	sub := models.OrganizationSubscription{
		OrganizationID: orgID,
		PlanID:         planID,
		Status:         status,
		StartedAt:      startedAt.UTC(),
		ExpiresAt:      expiresAt,
		Currency:       enums.CurrencyAFN,
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}
