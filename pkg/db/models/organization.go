package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization is a tenant of the platform. AdditionalSchools counts purchased
// school slots beyond what the plan includes.
type Organization struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name              string          `gorm:"column:name;not null"`
	Slug              string          `gorm:"column:slug;not null;uniqueIndex"`
	Settings          json.RawMessage `gorm:"column:settings;type:jsonb"`
	AdditionalSchools int             `gorm:"column:additional_schools;not null;default:0"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt         gorm.DeletedAt  `gorm:"column:deleted_at;index"`
}

func (o *Organization) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
