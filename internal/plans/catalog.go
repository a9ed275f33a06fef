package plans

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

// Unlimited is the limit value meaning "no cap".
const Unlimited int64 = -1

// DefaultWarningThreshold applies when no limit row carries one.
const DefaultWarningThreshold = 80

var ErrPlanNotFound = errors.New("plan not found")

const tiersKey = "tiers"

// Limit is a plan's cap for one resource. Configured is false when the plan
// has no row for the resource; Value is then Unlimited and the caller's limit
// policy decides what that means.
type Limit struct {
	Value            int64
	WarningThreshold int
	Configured       bool
}

// IsUnlimited reports whether the limit imposes no cap.
func (l Limit) IsUnlimited() bool {
	return l.Value < 0
}

// GetLimit reads the plan's limit row for resourceKey.
func GetLimit(plan models.SubscriptionPlan, resourceKey string) Limit {
	row, ok := plan.Limit(resourceKey)
	if !ok {
		return Limit{Value: Unlimited, WarningThreshold: DefaultWarningThreshold}
	}
	threshold := row.WarningThreshold
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}
	value := row.LimitValue
	if value < 0 {
		value = Unlimited
	}
	return Limit{Value: value, WarningThreshold: threshold, Configured: true}
}

// CatalogParams groups the catalog's collaborators.
type CatalogParams struct {
	Repo      Repository
	CacheSize int
	CacheTTL  time.Duration
	Metrics   *metrics.EntitlementMetrics
}

// Catalog is a read-through cache in front of the plan repository. Plans are
// immutable once subscribed to, so a short TTL only delays catalog edits.
type Catalog struct {
	repo    Repository
	byTier  *lru.LRU[string, []models.SubscriptionPlan]
	byID    *lru.LRU[uuid.UUID, models.SubscriptionPlan]
	metrics *metrics.EntitlementMetrics
}

// NewCatalog builds a catalog.
func NewCatalog(params CatalogParams) (*Catalog, error) {
	if params.Repo == nil {
		return nil, errors.New("plan repository required")
	}
	size := params.CacheSize
	if size <= 0 {
		size = 128
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		repo:    params.Repo,
		byTier:  lru.NewLRU[string, []models.SubscriptionPlan](1, nil, ttl),
		byID:    lru.NewLRU[uuid.UUID, models.SubscriptionPlan](size, nil, ttl),
		metrics: params.Metrics,
	}, nil
}

// PlansByTier returns every plan ordered by sort_order ascending.
func (c *Catalog) PlansByTier(ctx context.Context) ([]models.SubscriptionPlan, error) {
	if cached, ok := c.byTier.Get(tiersKey); ok {
		c.metrics.ObserveCacheLookup(true)
		return cached, nil
	}
	c.metrics.ObserveCacheLookup(false)
	plans, err := c.repo.ListByTier(ctx)
	if err != nil {
		return nil, err
	}
	c.byTier.Add(tiersKey, plans)
	return plans, nil
}

// ActivePlans returns the plans currently offered, lowest tier first.
func (c *Catalog) ActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	plans, err := c.PlansByTier(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]models.SubscriptionPlan, 0, len(plans))
	for _, plan := range plans {
		if plan.IsActive {
			active = append(active, plan)
		}
	}
	return active, nil
}

// FindMinimumPlanForFeature returns the lowest active tier enabling the
// feature, or nil when no plan does.
func (c *Catalog) FindMinimumPlanForFeature(ctx context.Context, featureKey string) (*models.SubscriptionPlan, error) {
	plans, err := c.PlansByTier(ctx)
	if err != nil {
		return nil, err
	}
	return minimumPlanForFeature(plans, featureKey), nil
}

func minimumPlanForFeature(plans []models.SubscriptionPlan, featureKey string) *models.SubscriptionPlan {
	var best *models.SubscriptionPlan
	for i := range plans {
		plan := plans[i]
		if !plan.IsActive || !plan.FeatureEnabled(featureKey) {
			continue
		}
		if best == nil || plan.SortOrder < best.SortOrder {
			best = &plan
		}
	}
	return best
}

// PlanByID resolves a plan including deactivated and deleted ones.
func (c *Catalog) PlanByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	if cached, ok := c.byID.Get(id); ok {
		c.metrics.ObserveCacheLookup(true)
		return &cached, nil
	}
	c.metrics.ObserveCacheLookup(false)
	plan, err := c.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.byID.Add(id, *plan)
	return plan, nil
}

// PlanBySlug resolves a live plan by its slug.
func (c *Catalog) PlanBySlug(ctx context.Context, slug string) (*models.SubscriptionPlan, error) {
	plans, err := c.PlansByTier(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].Slug == slug {
			plan := plans[i]
			return &plan, nil
		}
	}
	return c.repo.FindBySlug(ctx, slug)
}

// DefaultPlan returns the active plan flagged as default, falling back to the
// lowest active tier.
func (c *Catalog) DefaultPlan(ctx context.Context) (*models.SubscriptionPlan, error) {
	plans, err := c.ActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, ErrPlanNotFound
	}
	for i := range plans {
		if plans[i].IsDefault {
			plan := plans[i]
			return &plan, nil
		}
	}
	plan := plans[0]
	return &plan, nil
}

// Invalidate drops every cached entry.
func (c *Catalog) Invalidate() {
	c.byTier.Purge()
	c.byID.Purge()
}
