package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// OrganizationSubscription binds an organization to a plan for a period.
type OrganizationSubscription struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID     uuid.UUID                `gorm:"column:organization_id;type:uuid;not null;index"`
	PlanID             uuid.UUID                `gorm:"column:plan_id;type:uuid;not null;index"`
	Plan               *SubscriptionPlan        `gorm:"foreignKey:PlanID"`
	Status             enums.SubscriptionStatus `gorm:"column:status;not null;index"`
	StartedAt          time.Time                `gorm:"column:started_at;not null"`
	ExpiresAt          *time.Time               `gorm:"column:expires_at"`
	Currency           enums.Currency           `gorm:"column:currency;not null;default:'AFN'"`
	AdditionalSchools  int                      `gorm:"column:additional_schools;not null;default:0"`
	CancelledAt        *time.Time               `gorm:"column:cancelled_at"`
	CancellationReason *string                  `gorm:"column:cancellation_reason"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt          gorm.DeletedAt           `gorm:"column:deleted_at;index"`
}

func (s *OrganizationSubscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
