package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// ErrNoCurrentSubscription is returned when an organization has no
// subscription other than cancelled ones.
var ErrNoCurrentSubscription = errors.New("no current subscription")

// Repository persists organization subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Current(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, error)
	ListNonTerminal(ctx context.Context) ([]models.OrganizationSubscription, error)
	Create(ctx context.Context, sub *models.OrganizationSubscription) error
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to enums.SubscriptionStatus, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, at time.Time, reason *string) (bool, error)
	CancelIfOpen(ctx context.Context, id uuid.UUID, at time.Time, reason *string) (bool, error)
	ListOpenByOrganization(ctx context.Context, organizationID uuid.UUID) ([]models.OrganizationSubscription, error)
	AppendHistory(ctx context.Context, entry *models.SubscriptionHistory) error
	History(ctx context.Context, organizationID uuid.UUID, limit int) ([]models.SubscriptionHistory, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func withPlan(db *gorm.DB) *gorm.DB {
	return db.Preload("Plan", func(db *gorm.DB) *gorm.DB { return db.Unscoped() })
}

// Current selects the most recently started subscription that is not
// cancelled; created_at breaks ties between equal start times.
func (r *repository) Current(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, error) {
	var sub models.OrganizationSubscription
	err := withPlan(r.db.WithContext(ctx)).
		Where("organization_id = ? AND status <> ?", organizationID, enums.SubscriptionStatusCancelled).
		Order("started_at DESC").
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCurrentSubscription
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListNonTerminal returns every subscription the lifecycle sweep may advance,
// with its plan loaded.
func (r *repository) ListNonTerminal(ctx context.Context) ([]models.OrganizationSubscription, error) {
	var subs []models.OrganizationSubscription
	if err := withPlan(r.db.WithContext(ctx)).
		Where("status IN ?", enums.NonTerminalSubscriptionStatuses()).
		Order("started_at ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListOpenByOrganization returns the organization's non-terminal
// subscriptions, newest first, with plans loaded.
func (r *repository) ListOpenByOrganization(ctx context.Context, organizationID uuid.UUID) ([]models.OrganizationSubscription, error) {
	var subs []models.OrganizationSubscription
	if err := withPlan(r.db.WithContext(ctx)).
		Where("organization_id = ? AND status IN ?", organizationID, enums.NonTerminalSubscriptionStatuses()).
		Order("started_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) Create(ctx context.Context, sub *models.OrganizationSubscription) error {
	return r.db.WithContext(ctx).Omit("Plan").Create(sub).Error
}

// CompareAndSwapStatus moves the subscription to `to` only while it is still
// in `from`. It reports whether this call made the change.
func (r *repository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to enums.SubscriptionStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrganizationSubscription{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": at.UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, at time.Time, reason *string) (bool, error) {
	return r.cancel(ctx, id, []enums.SubscriptionStatus{from}, at, reason)
}

// CancelIfOpen cancels the subscription from whichever non-terminal state it
// is in now. It reports false when the row had already ended.
func (r *repository) CancelIfOpen(ctx context.Context, id uuid.UUID, at time.Time, reason *string) (bool, error) {
	return r.cancel(ctx, id, enums.NonTerminalSubscriptionStatuses(), at, reason)
}

func (r *repository) cancel(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, at time.Time, reason *string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrganizationSubscription{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":              enums.SubscriptionStatusCancelled,
			"cancelled_at":        at.UTC(),
			"cancellation_reason": reason,
			"updated_at":          at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.SubscriptionHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// History returns the newest entries of an organization first.
func (r *repository) History(ctx context.Context, organizationID uuid.UUID, limit int) ([]models.SubscriptionHistory, error) {
	var entries []models.SubscriptionHistory
	if err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
