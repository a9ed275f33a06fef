package usage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

// ErrMissingLimitConfiguration is returned under the strict policy when
// neither an override nor a plan limit exists for a resource.
var ErrMissingLimitConfiguration = errors.New("missing limit configuration")

type subscriptionLookup interface {
	Current(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, error)
}

type planLookup interface {
	PlanByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
}

type organizationLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// LimitSource says where an effective limit came from.
type LimitSource string

const (
	SourceOverride       LimitSource = "override"
	SourcePlan           LimitSource = "plan"
	SourceUnconfigured   LimitSource = "unconfigured"
	SourceNoSubscription LimitSource = "no_subscription"
)

// EffectiveLimit is the resolved cap for one (organization, resource) pair.
type EffectiveLimit struct {
	ResourceKey      string      `json:"resource_key"`
	Value            int64       `json:"limit"`
	Unlimited        bool        `json:"unlimited"`
	Source           LimitSource `json:"source"`
	WarningThreshold int         `json:"warning_threshold"`
}

// UsageCheck is the answer to "may one more unit be created?".
type UsageCheck struct {
	ResourceKey string  `json:"resource_key"`
	Allowed     bool    `json:"allowed"`
	Current     int64   `json:"current"`
	Limit       int64   `json:"limit"`
	Remaining   int64   `json:"remaining"`
	Percentage  float64 `json:"percentage"`
	Warning     bool    `json:"warning"`
	Message     *string `json:"message"`
}

// ResolverParams groups the resolver's collaborators.
type ResolverParams struct {
	Registry      *Registry
	Subscriptions subscriptionLookup
	Plans         planLookup
	Organizations organizationLookup
	Counters      CounterRepository
	Overrides     OverrideRepository
	Policy        enums.LimitPolicy
	Logger        *logger.Logger
	Metrics       *metrics.EntitlementMetrics
	// Outbox and TransactionRunner enable limit notices; both or neither.
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Now               func() time.Time
}

// Resolver answers limit and usage questions and maintains counters.
type Resolver struct {
	registry  *Registry
	subs      subscriptionLookup
	plans     planLookup
	orgs      organizationLookup
	counters  CounterRepository
	overrides OverrideRepository
	policy    enums.LimitPolicy
	logg      *logger.Logger
	metrics   *metrics.EntitlementMetrics
	outbox    outboxEmitter
	txRunner  txRunner
	now       func() time.Time
}

// NewResolver builds a resolver.
func NewResolver(params ResolverParams) (*Resolver, error) {
	switch {
	case params.Registry == nil:
		return nil, errors.New("resource registry required")
	case params.Subscriptions == nil:
		return nil, errors.New("subscription lookup required")
	case params.Plans == nil:
		return nil, errors.New("plan lookup required")
	case params.Organizations == nil:
		return nil, errors.New("organization lookup required")
	case params.Counters == nil:
		return nil, errors.New("counter repository required")
	case params.Overrides == nil:
		return nil, errors.New("override repository required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case (params.Outbox == nil) != (params.TransactionRunner == nil):
		return nil, errors.New("outbox and transaction runner must be set together")
	}
	policy := params.Policy
	if policy == "" {
		policy = enums.LimitPolicyLenient
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		registry:  params.Registry,
		subs:      params.Subscriptions,
		plans:     params.Plans,
		orgs:      params.Organizations,
		counters:  params.Counters,
		overrides: params.Overrides,
		policy:    policy,
		logg:      params.Logger,
		metrics:   params.Metrics,
		outbox:    params.Outbox,
		txRunner:  params.TransactionRunner,
		now:       now,
	}, nil
}

// currentPlan returns nil without error when the organization has no
// current subscription.
func (r *Resolver) currentPlan(ctx context.Context, organizationID uuid.UUID) (*models.SubscriptionPlan, error) {
	sub, err := r.subs.Current(ctx, organizationID)
	if errors.Is(err, subscriptions.ErrNoCurrentSubscription) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	plan, err := r.plans.PlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	return plan, nil
}

// HasResource reports whether key names a registered resource.
func (r *Resolver) HasResource(key string) bool {
	_, ok := r.registry.Lookup(key)
	return ok
}

// GetLimit resolves the effective limit. An active override always wins; a
// plan limit is otherwise used and widened by any additive rule.
func (r *Resolver) GetLimit(ctx context.Context, organizationID uuid.UUID, resourceKey string) (EffectiveLimit, error) {
	plan, err := r.currentPlan(ctx, organizationID)
	if err != nil {
		return EffectiveLimit{}, err
	}
	return r.resolveLimit(ctx, organizationID, resourceKey, plan)
}

func (r *Resolver) resolveLimit(ctx context.Context, organizationID uuid.UUID, resourceKey string, plan *models.SubscriptionPlan) (EffectiveLimit, error) {
	threshold := plans.DefaultWarningThreshold
	if plan != nil {
		threshold = plans.GetLimit(*plan, resourceKey).WarningThreshold
	}

	override, err := r.overrides.Find(ctx, organizationID, resourceKey)
	if err != nil {
		return EffectiveLimit{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load limit override")
	}
	if override != nil && override.ActiveAt(r.now().UTC()) {
		return newLimit(resourceKey, override.LimitValue, SourceOverride, threshold), nil
	}

	if plan == nil {
		return newLimit(resourceKey, 0, SourceNoSubscription, threshold), nil
	}

	base := plans.GetLimit(*plan, resourceKey)
	if !base.Configured {
		if r.policy == enums.LimitPolicyStrict {
			return EffectiveLimit{}, pkgerrors.Wrap(pkgerrors.CodeConfiguration,
				fmt.Errorf("%w: plan %s has no limit for %q", ErrMissingLimitConfiguration, plan.Slug, resourceKey),
				"limit not configured")
		}
		return newLimit(resourceKey, plans.Unlimited, SourceUnconfigured, threshold), nil
	}
	if base.IsUnlimited() {
		return newLimit(resourceKey, plans.Unlimited, SourcePlan, threshold), nil
	}

	value := base.Value
	if res, ok := r.registry.Lookup(resourceKey); ok && res.Additive != nil {
		org, err := r.orgs.FindByID(ctx, organizationID)
		if err != nil {
			return EffectiveLimit{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load organization")
		}
		value += res.Additive(*org)
	}
	return newLimit(resourceKey, value, SourcePlan, threshold), nil
}

func newLimit(resourceKey string, value int64, source LimitSource, threshold int) EffectiveLimit {
	if value < 0 {
		value = plans.Unlimited
	}
	return EffectiveLimit{
		ResourceKey:      resourceKey,
		Value:            value,
		Unlimited:        value < 0,
		Source:           source,
		WarningThreshold: threshold,
	}
}

// GetUsage reads the cached counter. A missing counter, or one whose reset
// period has ended, reads as zero.
func (r *Resolver) GetUsage(ctx context.Context, organizationID uuid.UUID, resourceKey string) (int64, error) {
	counter, err := r.counters.Get(ctx, organizationID, resourceKey)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load usage counter")
	}
	return liveCount(counter, r.now().UTC()), nil
}

// liveCount reads a counter, treating one from an ended period as zero.
func liveCount(counter *models.UsageCounter, now time.Time) int64 {
	if counter == nil || counter.StaleAt(now) {
		return 0
	}
	return counter.CurrentCount
}

// RecordDelta applies a create (+) or permanent delete (-) to the cached
// counter. It never fails the caller: errors are logged and counted, and the
// next recalculation repairs the counter. Concurrent deltas may lose updates.
// An increment that enters the warning band or reaches the limit queues a
// notice when an outbox is configured.
func (r *Resolver) RecordDelta(ctx context.Context, organizationID uuid.UUID, resourceKey string, delta int64) {
	if delta == 0 {
		return
	}
	logCtx := r.logg.WithFields(r.logg.WithOrganizationID(ctx, organizationID.String()), map[string]any{
		"resource_key": resourceKey,
		"delta":        delta,
	})
	counter, err := r.counters.Get(ctx, organizationID, resourceKey)
	if err != nil {
		r.metrics.IncDeltaFailure(resourceKey)
		r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "usage delta read failed")
		return
	}
	now := r.now().UTC()
	prev := liveCount(counter, now)
	next := prev + delta
	if next < 0 {
		next = 0
	}
	updated := models.UsageCounter{
		OrganizationID: organizationID,
		ResourceKey:    resourceKey,
		CurrentCount:   next,
		UpdatedAt:      now,
	}
	if res, ok := r.registry.Lookup(resourceKey); ok {
		if start, end, periodic := res.Window(now); periodic {
			updated.PeriodStart, updated.PeriodEnd = &start, &end
		}
	}
	if err := r.counters.Upsert(ctx, updated); err != nil {
		r.metrics.IncDeltaFailure(resourceKey)
		r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "usage delta write failed")
		return
	}
	r.logg.Debug(r.logg.WithField(logCtx, "count", next), "usage delta applied")
	r.notifyCrossing(ctx, organizationID, resourceKey, prev, next, updated.PeriodStart, now)
}

// CanCreate checks whether one more unit fits under the effective limit.
func (r *Resolver) CanCreate(ctx context.Context, organizationID uuid.UUID, resourceKey string) (UsageCheck, error) {
	limit, err := r.GetLimit(ctx, organizationID, resourceKey)
	if err != nil {
		return UsageCheck{}, err
	}
	current, err := r.GetUsage(ctx, organizationID, resourceKey)
	if err != nil {
		return UsageCheck{}, err
	}
	return Evaluate(resourceKey, current, limit), nil
}

// Evaluate applies the usage rules: a negative limit is unlimited, zero means
// the resource is unavailable, and the warning band runs from the threshold
// up to, but excluding, 100 percent.
func Evaluate(resourceKey string, current int64, limit EffectiveLimit) UsageCheck {
	check := UsageCheck{ResourceKey: resourceKey, Current: current, Limit: limit.Value}
	switch {
	case limit.Unlimited:
		check.Allowed = true
		check.Limit = plans.Unlimited
		check.Remaining = plans.Unlimited
		return check
	case limit.Value == 0:
		msg := "This feature is not available on your current plan."
		check.Percentage = 100
		check.Message = &msg
		return check
	}

	check.Remaining = limit.Value - current
	if check.Remaining < 0 {
		check.Remaining = 0
	}
	check.Percentage = math.Round(float64(current)/float64(limit.Value)*1000) / 10
	check.Allowed = current < limit.Value
	check.Warning = check.Percentage >= float64(limit.WarningThreshold) && check.Percentage < 100

	switch {
	case !check.Allowed:
		msg := fmt.Sprintf("You have reached your %s limit (%d). Please upgrade your plan to add more.", resourceKey, limit.Value)
		check.Message = &msg
	case check.Warning:
		msg := fmt.Sprintf("You are using %s%% of your %s limit (%d/%d).", formatPercent(check.Percentage), resourceKey, current, limit.Value)
		check.Message = &msg
	}
	return check
}

func formatPercent(p float64) string {
	if p == math.Trunc(p) {
		return fmt.Sprintf("%.0f", p)
	}
	return fmt.Sprintf("%.1f", p)
}

// ResourceUsage is one row of an organization's usage overview.
type ResourceUsage struct {
	UsageCheck
	Unlimited bool        `json:"unlimited"`
	Source    LimitSource `json:"source"`
}

// AllUsage reports usage for every registered resource visible on the
// organization's plan. Resources gated on a feature the plan lacks are
// omitted.
func (r *Resolver) AllUsage(ctx context.Context, organizationID uuid.UUID) ([]ResourceUsage, error) {
	plan, err := r.currentPlan(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	counters, err := r.counters.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load usage counters")
	}
	now := r.now().UTC()
	counts := make(map[string]int64, len(counters))
	for _, counter := range counters {
		counts[counter.ResourceKey] = liveCount(&counter, now)
	}

	var out []ResourceUsage
	for _, res := range r.registry.Resources() {
		if res.Feature != "" && (plan == nil || !plan.FeatureEnabled(res.Feature)) {
			continue
		}
		limit, err := r.resolveLimit(ctx, organizationID, res.Key, plan)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConfiguration) {
				r.logg.Warn(r.logg.WithField(ctx, "resource_key", res.Key), "resource has no limit configured")
				continue
			}
			return nil, err
		}
		check := Evaluate(res.Key, counts[res.Key], limit)
		out = append(out, ResourceUsage{UsageCheck: check, Unlimited: limit.Unlimited, Source: limit.Source})
	}
	return out, nil
}

// Warnings lists resources at or past their warning threshold, including
// blocked ones.
func (r *Resolver) Warnings(ctx context.Context, organizationID uuid.UUID) ([]ResourceUsage, error) {
	all, err := r.AllUsage(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	var out []ResourceUsage
	for _, item := range all {
		if item.Warning || !item.Allowed {
			out = append(out, item)
		}
	}
	return out, nil
}
