package billing

import (
	"context"
	"errors"

	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

type planLookup interface {
	PlanBySlug(ctx context.Context, slug string) (*models.SubscriptionPlan, error)
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Plans planLookup
}

// Service prices catalog plans.
type Service struct {
	plans planLookup
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Plans == nil {
		return nil, errors.New("plan lookup is required")
	}
	return &Service{plans: params.Plans}, nil
}

// QuoteParams is the raw request for a quote.
type QuoteParams struct {
	PlanSlug     string
	Currency     string
	SchoolCount  int
	TargetPeriod string
	Renewal      bool
}

// Quote resolves the plan and prices it.
func (s *Service) Quote(ctx context.Context, params QuoteParams) (Quote, error) {
	if params.PlanSlug == "" {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "plan slug is required")
	}
	if params.SchoolCount < 0 {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "school count must not be negative")
	}
	currency := enums.CurrencyAFN
	if params.Currency != "" {
		parsed, err := enums.ParseCurrency(params.Currency)
		if err != nil {
			return Quote{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
		}
		currency = parsed
	}
	input := QuoteInput{Currency: currency, SchoolCount: params.SchoolCount, Renewal: params.Renewal}
	if params.TargetPeriod != "" {
		target, err := enums.ParseBillingPeriod(params.TargetPeriod)
		if err != nil || target == enums.BillingPeriodCustom {
			return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "target period must be monthly, quarterly or yearly")
		}
		input.Target = &target
	}

	plan, err := s.plans.PlanBySlug(ctx, params.PlanSlug)
	if err != nil {
		if errors.Is(err, plans.ErrPlanNotFound) {
			return Quote{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "plan not found")
		}
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}

	quote, err := BuildQuote(*plan, input)
	switch {
	case errors.Is(err, ErrCurrencyNotPriced):
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "plan is not priced in this currency")
	case errors.Is(err, ErrUnknownPeriod):
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "plan billing period misconfigured")
	case err != nil:
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build quote")
	}
	return quote, nil
}
