package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrganizationLimitOverride replaces the plan limit for one resource. A nil
// ExpiresAt keeps the override in force indefinitely.
type OrganizationLimitOverride struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID  `gorm:"column:organization_id;type:uuid;not null;uniqueIndex:ux_limit_overrides_org_resource"`
	ResourceKey    string     `gorm:"column:resource_key;not null;uniqueIndex:ux_limit_overrides_org_resource"`
	LimitValue     int64      `gorm:"column:limit_value;not null"`
	Reason         string     `gorm:"column:reason;not null;default:''"`
	ExpiresAt      *time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *OrganizationLimitOverride) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// ActiveAt reports whether the override applies at the given instant.
func (o OrganizationLimitOverride) ActiveAt(now time.Time) bool {
	return o.ExpiresAt == nil || now.Before(*o.ExpiresAt)
}
