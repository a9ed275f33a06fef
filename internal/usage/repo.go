package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// CounterRepository persists cached usage counters.
type CounterRepository interface {
	Get(ctx context.Context, organizationID uuid.UUID, resourceKey string) (*models.UsageCounter, error)
	ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]models.UsageCounter, error)
	Upsert(ctx context.Context, counter models.UsageCounter) error
}

// OverrideRepository persists per-organization limit overrides.
type OverrideRepository interface {
	Find(ctx context.Context, organizationID uuid.UUID, resourceKey string) (*models.OrganizationLimitOverride, error)
	ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]models.OrganizationLimitOverride, error)
	Upsert(ctx context.Context, override *models.OrganizationLimitOverride) error
	Delete(ctx context.Context, organizationID uuid.UUID, resourceKey string) (bool, error)
}

type counterRepository struct {
	db *gorm.DB
}

// NewCounterRepository returns a counter repository bound to the provided database.
func NewCounterRepository(db *gorm.DB) CounterRepository {
	return &counterRepository{db: db}
}

// Get returns nil when no counter exists yet.
func (r *counterRepository) Get(ctx context.Context, organizationID uuid.UUID, resourceKey string) (*models.UsageCounter, error) {
	var counter models.UsageCounter
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND resource_key = ?", organizationID, resourceKey).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

func (r *counterRepository) ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]models.UsageCounter, error) {
	var counters []models.UsageCounter
	if err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("resource_key ASC").
		Find(&counters).Error; err != nil {
		return nil, err
	}
	return counters, nil
}

// Upsert overwrites the counter unconditionally.
func (r *counterRepository) Upsert(ctx context.Context, counter models.UsageCounter) error {
	if counter.UpdatedAt.IsZero() {
		counter.UpdatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "resource_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"current_count", "period_start", "period_end", "updated_at"}),
		}).
		Create(&counter).Error
}

type overrideRepository struct {
	db *gorm.DB
}

// NewOverrideRepository returns an override repository bound to the provided database.
func NewOverrideRepository(db *gorm.DB) OverrideRepository {
	return &overrideRepository{db: db}
}

// Find returns nil when the organization has no override for the resource.
// Expired rows are returned; callers check ActiveAt.
func (r *overrideRepository) Find(ctx context.Context, organizationID uuid.UUID, resourceKey string) (*models.OrganizationLimitOverride, error) {
	var override models.OrganizationLimitOverride
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND resource_key = ?", organizationID, resourceKey).
		Take(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &override, nil
}

func (r *overrideRepository) ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]models.OrganizationLimitOverride, error) {
	var overrides []models.OrganizationLimitOverride
	if err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("resource_key ASC").
		Find(&overrides).Error; err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *overrideRepository) Upsert(ctx context.Context, override *models.OrganizationLimitOverride) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "resource_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"limit_value", "reason", "expires_at", "updated_at"}),
		}).
		Create(override).Error
}

func (r *overrideRepository) Delete(ctx context.Context, organizationID uuid.UUID, resourceKey string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("organization_id = ? AND resource_key = ?", organizationID, resourceKey).
		Delete(&models.OrganizationLimitOverride{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
