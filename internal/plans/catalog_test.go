package plans

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/entitlements-backend/pkg/db/dbtest"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

type countingRepo struct {
	Repository
	listCalls int
	findCalls int
}

func (r *countingRepo) ListByTier(ctx context.Context) ([]models.SubscriptionPlan, error) {
	r.listCalls++
	return r.Repository.ListByTier(ctx)
}

func (r *countingRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	r.findCalls++
	return r.Repository.FindByID(ctx, id)
}

func newTestCatalog(t *testing.T) (*Catalog, *countingRepo, func(dbtest.PlanSeed) models.SubscriptionPlan) {
	t.Helper()
	db := dbtest.Open(t)
	repo := &countingRepo{Repository: NewRepository(db)}
	catalog, err := NewCatalog(CatalogParams{Repo: repo, CacheTTL: time.Minute})
	require.NoError(t, err)
	seed := func(s dbtest.PlanSeed) models.SubscriptionPlan {
		return dbtest.SeedPlan(t, db, s)
	}
	return catalog, repo, seed
}

func TestPlansByTierOrdersBySortOrder(t *testing.T) {
	catalog, repo, seed := newTestCatalog(t)
	seed(dbtest.PlanSeed{Slug: "enterprise", SortOrder: 3})
	seed(dbtest.PlanSeed{Slug: "starter", SortOrder: 0, Features: []string{"students"}})
	seed(dbtest.PlanSeed{Slug: "pro", SortOrder: 1})

	plans, err := catalog.PlansByTier(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, []string{"starter", "pro", "enterprise"}, []string{plans[0].Slug, plans[1].Slug, plans[2].Slug})
	assert.True(t, plans[0].FeatureEnabled("students"), "features should be preloaded")

	_, err = catalog.PlansByTier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls, "second read should be served from cache")

	catalog.Invalidate()
	_, err = catalog.PlansByTier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
}

func TestFindMinimumPlanForFeature(t *testing.T) {
	catalog, _, seed := newTestCatalog(t)
	seed(dbtest.PlanSeed{Slug: "starter", SortOrder: 0, Features: []string{"students"}, DisabledFeatures: []string{"library"}})
	seed(dbtest.PlanSeed{Slug: "legacy", SortOrder: 1, Inactive: true, Features: []string{"library"}})
	seed(dbtest.PlanSeed{Slug: "pro", Name: "Pro", SortOrder: 2, Features: []string{"students", "library"}})
	seed(dbtest.PlanSeed{Slug: "complete", SortOrder: 3, Features: []string{"students", "library"}})

	plan, err := catalog.FindMinimumPlanForFeature(context.Background(), "library")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "pro", plan.Slug, "inactive tiers are skipped")

	plan, err = catalog.FindMinimumPlanForFeature(context.Background(), "students")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "starter", plan.Slug)

	plan, err = catalog.FindMinimumPlanForFeature(context.Background(), "hostel")
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestPlanByIDResolvesInactivePlansAndCaches(t *testing.T) {
	catalog, repo, seed := newTestCatalog(t)
	legacy := seed(dbtest.PlanSeed{Slug: "legacy", SortOrder: 0, Inactive: true, Limits: map[string]int64{"students": 50}})

	plan, err := catalog.PlanByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, "legacy", plan.Slug)
	assert.False(t, plan.IsActive)

	_, err = catalog.PlanByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.findCalls)

	_, err = catalog.PlanByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrPlanNotFound))
}

func TestDefaultPlan(t *testing.T) {
	catalog, _, seed := newTestCatalog(t)
	seed(dbtest.PlanSeed{Slug: "starter", SortOrder: 0})
	seed(dbtest.PlanSeed{Slug: "pro", SortOrder: 1, IsDefault: true})

	plan, err := catalog.DefaultPlan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pro", plan.Slug)
}

func TestPlanBySlug(t *testing.T) {
	catalog, _, seed := newTestCatalog(t)
	seed(dbtest.PlanSeed{Slug: "starter", SortOrder: 0})

	plan, err := catalog.PlanBySlug(context.Background(), "starter")
	require.NoError(t, err)
	assert.Equal(t, "starter", plan.Slug)

	_, err = catalog.PlanBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestGetLimit(t *testing.T) {
	plan := models.SubscriptionPlan{Limits: []models.PlanLimit{
		{ResourceKey: "students", LimitValue: 100, WarningThreshold: 90},
		{ResourceKey: "exams", LimitValue: 0},
		{ResourceKey: "events", LimitValue: -1},
	}}

	limit := GetLimit(plan, "students")
	assert.Equal(t, Limit{Value: 100, WarningThreshold: 90, Configured: true}, limit)

	limit = GetLimit(plan, "exams")
	assert.Equal(t, int64(0), limit.Value)
	assert.False(t, limit.IsUnlimited())
	assert.Equal(t, DefaultWarningThreshold, limit.WarningThreshold)

	assert.True(t, GetLimit(plan, "events").IsUnlimited())

	missing := GetLimit(plan, "library_books")
	assert.False(t, missing.Configured)
	assert.True(t, missing.IsUnlimited())
}
