package organizations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

var ErrOrganizationNotFound = errors.New("organization not found")

// Repository reads tenant records.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an organization repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// ListIDs returns every live organization id in a stable order.
func (r *repository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Organization{}).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
