package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

var (
	// ErrCurrencyNotPriced is returned when a plan has no fee row for a currency.
	ErrCurrencyNotPriced = errors.New("plan is not priced in currency")
	// ErrUnknownPeriod is returned for periods that have no day count.
	ErrUnknownPeriod = errors.New("unknown billing period")
)

const daysPerMonth = 30

var fixedPeriodDays = map[enums.BillingPeriod]int{
	enums.BillingPeriodMonthly:   30,
	enums.BillingPeriodQuarterly: 90,
	enums.BillingPeriodYearly:    365,
}

// PeriodDays returns the length of the plan's billing period in days.
func PeriodDays(plan models.SubscriptionPlan) (int, error) {
	if plan.BillingPeriod == enums.BillingPeriodCustom {
		if plan.CustomBillingDays == nil || *plan.CustomBillingDays <= 0 {
			return 0, fmt.Errorf("%w: custom period without day count", ErrUnknownPeriod)
		}
		return *plan.CustomBillingDays, nil
	}
	return DaysIn(plan.BillingPeriod)
}

// DaysIn returns the day count of a fixed period.
func DaysIn(period enums.BillingPeriod) (int, error) {
	days, ok := fixedPeriodDays[period]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
	return days, nil
}

// PeriodLabel renders the plan's billing period for display.
func PeriodLabel(plan models.SubscriptionPlan) string {
	switch plan.BillingPeriod {
	case enums.BillingPeriodMonthly:
		return "Monthly"
	case enums.BillingPeriodQuarterly:
		return "Quarterly"
	case enums.BillingPeriodYearly:
		return "Yearly"
	}
	if plan.CustomBillingDays != nil {
		return fmt.Sprintf("%d days", *plan.CustomBillingDays)
	}
	return "Yearly"
}

func planFee(plan models.SubscriptionPlan, currency enums.Currency) (models.PlanFee, error) {
	fee, ok := plan.Fee(currency)
	if !ok {
		return models.PlanFee{}, fmt.Errorf("%w: %s %s", ErrCurrencyNotPriced, plan.Slug, currency)
	}
	return fee, nil
}

// TotalMaintenanceFee is the plan maintenance fee plus the per-school fee for
// every school.
func TotalMaintenanceFee(plan models.SubscriptionPlan, currency enums.Currency, schoolCount int) (decimal.Decimal, error) {
	fee, err := planFee(plan, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return maintenanceTotal(fee, schoolCount), nil
}

func maintenanceTotal(fee models.PlanFee, schoolCount int) decimal.Decimal {
	if schoolCount < 0 {
		schoolCount = 0
	}
	perSchool := fee.PerSchoolMaintenanceFee.Mul(decimal.NewFromInt(int64(schoolCount)))
	return fee.MaintenanceFee.Add(perSchool)
}

// TotalInitialCost is the one-time license fee plus the first period's
// maintenance.
func TotalInitialCost(plan models.SubscriptionPlan, currency enums.Currency, schoolCount int) (decimal.Decimal, error) {
	fee, err := planFee(plan, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return fee.LicenseFee.Add(maintenanceTotal(fee, schoolCount)), nil
}

// ConvertFeeToPeriod prorates the plan's maintenance fee from its own period
// to target by day count.
func ConvertFeeToPeriod(plan models.SubscriptionPlan, currency enums.Currency, target enums.BillingPeriod) (decimal.Decimal, error) {
	fee, err := planFee(plan, currency)
	if err != nil {
		return decimal.Zero, err
	}
	current, err := PeriodDays(plan)
	if err != nil {
		return decimal.Zero, err
	}
	targetDays, err := DaysIn(target)
	if err != nil {
		return decimal.Zero, err
	}
	return Prorate(fee.MaintenanceFee, current, targetDays), nil
}

// Prorate scales amount linearly from fromDays to toDays.
func Prorate(amount decimal.Decimal, fromDays, toDays int) decimal.Decimal {
	if fromDays <= 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(int64(toDays))).Div(decimal.NewFromInt(int64(fromDays)))
}
