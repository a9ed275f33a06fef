package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// SubscriptionHistory is one audit row per subscription change. Rows are
// written in the transaction that makes the change and never updated.
type SubscriptionHistory struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID                 `gorm:"column:organization_id;type:uuid;not null"`
	SubscriptionID *uuid.UUID                `gorm:"column:subscription_id;type:uuid"`
	Action         enums.HistoryAction       `gorm:"column:action;not null"`
	FromPlanID     *uuid.UUID                `gorm:"column:from_plan_id;type:uuid"`
	ToPlanID       *uuid.UUID                `gorm:"column:to_plan_id;type:uuid"`
	FromStatus     *enums.SubscriptionStatus `gorm:"column:from_status"`
	ToStatus       *enums.SubscriptionStatus `gorm:"column:to_status"`
	ActorKind      string                    `gorm:"column:actor_kind;not null"`
	ActorID        *string                   `gorm:"column:actor_id"`
	Notes          string                    `gorm:"column:notes;not null;default:''"`
	CreatedAt      time.Time                 `gorm:"column:created_at"`
}

func (SubscriptionHistory) TableName() string { return "subscription_history" }

func (h *SubscriptionHistory) BeforeCreate(*gorm.DB) error {
	ensureID(&h.ID)
	return nil
}
