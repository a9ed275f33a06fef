package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const maxSchoolsQuery = 10000

type PlanLister interface {
	ActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error)
}

type QuoteService interface {
	Quote(ctx context.Context, params billing.QuoteParams) (billing.Quote, error)
}

type planFeeResponse struct {
	Currency                enums.Currency  `json:"currency"`
	LicenseFee              decimal.Decimal `json:"license_fee"`
	MaintenanceFee          decimal.Decimal `json:"maintenance_fee"`
	PerSchoolMaintenanceFee decimal.Decimal `json:"per_school_maintenance_fee"`
}

type planLimitResponse struct {
	Limit            int64 `json:"limit"`
	WarningThreshold int   `json:"warning_threshold"`
}

type planResponse struct {
	Slug               string                       `json:"slug"`
	Name               string                       `json:"name"`
	Description        *string                      `json:"description,omitempty"`
	SortOrder          int                          `json:"sort_order"`
	IsDefault          bool                         `json:"is_default"`
	TrialDays          int                          `json:"trial_days"`
	GracePeriodDays    int                          `json:"grace_period_days"`
	ReadonlyPeriodDays int                          `json:"readonly_period_days"`
	MaxSchools         int                          `json:"max_schools"`
	BillingPeriod      enums.BillingPeriod          `json:"billing_period"`
	BillingPeriodLabel string                       `json:"billing_period_label"`
	PeriodDays         *int                         `json:"period_days"`
	Fees               []planFeeResponse            `json:"fees"`
	Features           []string                     `json:"features"`
	Limits             map[string]planLimitResponse `json:"limits"`
}

func newPlanResponse(plan models.SubscriptionPlan) planResponse {
	resp := planResponse{
		Slug:               plan.Slug,
		Name:               plan.Name,
		Description:        plan.Description,
		SortOrder:          plan.SortOrder,
		IsDefault:          plan.IsDefault,
		TrialDays:          plan.TrialDays,
		GracePeriodDays:    plan.GracePeriodDays,
		ReadonlyPeriodDays: plan.ReadonlyPeriodDays,
		MaxSchools:         plan.MaxSchools,
		BillingPeriod:      plan.BillingPeriod,
		BillingPeriodLabel: billing.PeriodLabel(plan),
		Fees:               make([]planFeeResponse, 0, len(plan.Fees)),
		Features:           []string{},
		Limits:             make(map[string]planLimitResponse, len(plan.Limits)),
	}
	// a custom period without a day count has no length to report
	if days, err := billing.PeriodDays(plan); err == nil {
		resp.PeriodDays = &days
	}
	for _, fee := range plan.Fees {
		resp.Fees = append(resp.Fees, planFeeResponse{
			Currency:                fee.Currency,
			LicenseFee:              fee.LicenseFee,
			MaintenanceFee:          fee.MaintenanceFee,
			PerSchoolMaintenanceFee: fee.PerSchoolMaintenanceFee,
		})
	}
	for _, feature := range plan.Features {
		if feature.IsEnabled {
			resp.Features = append(resp.Features, feature.FeatureKey)
		}
	}
	for _, limit := range plan.Limits {
		resp.Limits[limit.ResourceKey] = planLimitResponse{Limit: limit.LimitValue, WarningThreshold: limit.WarningThreshold}
	}
	return resp
}

// ListPlans returns the active plans cheapest tier first.
func ListPlans(catalog PlanLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := catalog.ActivePlans(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plans"))
			return
		}
		out := make([]planResponse, 0, len(plans))
		for _, plan := range plans {
			out = append(out, newPlanResponse(plan))
		}
		responses.WriteSuccess(w, out)
	}
}

// PlanQuote prices a plan for a currency and school count.
func PlanQuote(svc QuoteService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schools, err := validators.ParseQueryInt(r, "schools", 1, 1, maxSchoolsQuery)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		renewal, err := validators.ParseQueryBool(r, "renewal", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quote, err := svc.Quote(r.Context(), billing.QuoteParams{
			PlanSlug:     chi.URLParam(r, "planSlug"),
			Currency:     validators.ParseQueryString(r, "currency", 8),
			SchoolCount:  schools,
			TargetPeriod: validators.ParseQueryString(r, "target_period", 16),
			Renewal:      renewal,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}
