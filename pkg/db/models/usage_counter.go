package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter caches how many units of a resource an organization holds.
// It trails the counted tables by at most one recalculation interval.
type UsageCounter struct {
	OrganizationID uuid.UUID `gorm:"column:organization_id;type:uuid;primaryKey"`
	ResourceKey    string    `gorm:"column:resource_key;primaryKey"`
	CurrentCount   int64     `gorm:"column:current_count;not null;default:0"`
	// PeriodStart and PeriodEnd bound the window of a resettable counter.
	PeriodStart *time.Time `gorm:"column:period_start"`
	PeriodEnd   *time.Time `gorm:"column:period_end"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// StaleAt reports whether a windowed counter belongs to a period that has
// ended. Counters without a window never go stale.
func (c UsageCounter) StaleAt(now time.Time) bool {
	return c.PeriodEnd != nil && !now.Before(*c.PeriodEnd)
}
