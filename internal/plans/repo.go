package plans

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// Repository reads the plan catalog. Every plan is returned with its fees,
// feature flags and limits loaded.
type Repository interface {
	ListByTier(ctx context.Context) ([]models.SubscriptionPlan, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	FindBySlug(ctx context.Context, slug string) (*models.SubscriptionPlan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) withChildren(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Fees").
		Preload("Features").
		Preload("Limits")
}

func (r *repository) ListByTier(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	if err := r.withChildren(ctx).
		Order("sort_order ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// FindByID ignores soft deletion: subscriptions keep resolving against the
// plan they were created on.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.withChildren(ctx).Unscoped().Where("id = ?", id).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindBySlug(ctx context.Context, slug string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.withChildren(ctx).Where("slug = ?", slug).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
