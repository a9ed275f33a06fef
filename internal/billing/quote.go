package billing

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// Quote is the fee breakdown for a plan in one currency.
type Quote struct {
	PlanSlug                string          `json:"plan_slug"`
	Currency                enums.Currency  `json:"currency"`
	BillingPeriod           string          `json:"billing_period"`
	BillingPeriodLabel      string          `json:"billing_period_label"`
	PeriodDays              int             `json:"period_days"`
	SchoolCount             int             `json:"school_count"`
	LicenseFee              decimal.Decimal `json:"license_fee"`
	MaintenanceFee          decimal.Decimal `json:"maintenance_fee"`
	PerSchoolMaintenanceFee decimal.Decimal `json:"per_school_maintenance_fee"`
	TotalMaintenanceFee     decimal.Decimal `json:"total_maintenance_fee"`
	Total                   decimal.Decimal `json:"total"`
	MonthlyEquivalent       decimal.Decimal `json:"monthly_equivalent"`
	Renewal                 bool            `json:"renewal"`
	// Converted is the maintenance fee prorated to the requested target period.
	Converted *ConvertedFee `json:"converted,omitempty"`
}

// ConvertedFee is a maintenance fee expressed in a different period.
type ConvertedFee struct {
	Period enums.BillingPeriod `json:"period"`
	Amount decimal.Decimal     `json:"amount"`
}

// QuoteInput selects what to price.
type QuoteInput struct {
	Currency    enums.Currency
	SchoolCount int
	Target      *enums.BillingPeriod
	// Renewal prices a subsequent period: maintenance only, no license fee.
	Renewal bool
}

// BuildQuote prices the plan. Amounts are rounded to the currency's minor
// units for display; arithmetic runs on the unrounded values.
func BuildQuote(plan models.SubscriptionPlan, input QuoteInput) (Quote, error) {
	fee, err := planFee(plan, input.Currency)
	if err != nil {
		return Quote{}, err
	}
	days, err := PeriodDays(plan)
	if err != nil {
		return Quote{}, err
	}
	schools := input.SchoolCount
	if schools < 0 {
		schools = 0
	}

	maintenance := maintenanceTotal(fee, schools)
	license := fee.LicenseFee
	if input.Renewal {
		license = decimal.Zero
	}

	places := input.Currency.MinorUnits()
	quote := Quote{
		PlanSlug:                plan.Slug,
		Currency:                input.Currency,
		BillingPeriod:           string(plan.BillingPeriod),
		BillingPeriodLabel:      PeriodLabel(plan),
		PeriodDays:              days,
		SchoolCount:             schools,
		LicenseFee:              license.Round(places),
		MaintenanceFee:          fee.MaintenanceFee.Round(places),
		PerSchoolMaintenanceFee: fee.PerSchoolMaintenanceFee.Round(places),
		TotalMaintenanceFee:     maintenance.Round(places),
		Total:                   license.Add(maintenance).Round(places),
		MonthlyEquivalent:       Prorate(maintenance, days, daysPerMonth).Round(places),
		Renewal:                 input.Renewal,
	}
	if input.Target != nil {
		targetDays, err := DaysIn(*input.Target)
		if err != nil {
			return Quote{}, err
		}
		quote.Converted = &ConvertedFee{
			Period: *input.Target,
			Amount: Prorate(fee.MaintenanceFee, days, targetDays).Round(places),
		}
	}
	return quote, nil
}
