package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DLQRepository stores notifications the relay gave up on and puts them back
// in the queue when an operator asks for a replay.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	entry.ErrorMessage = clip(entry.ErrorMessage)
	return tx.Create(&entry).Error
}

// List returns the newest dead letters first, optionally only those parked
// for reason.
func (r *DLQRepository) List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit)
	if reason != "" {
		query = query.Where("error_reason = ?", reason)
	}
	var rows []models.OutboxDLQ
	err := query.Find(&rows).Error
	return rows, err
}

// Replay removes the dead letter for eventID and resets its outbox row so the
// relay picks it up on the next poll. The row keeps its original created_at,
// so it is published ahead of newer notifications.
func (r *DLQRepository) Replay(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.OutboxDLQ
		err := tx.Where("event_id = ?", eventID).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeadLetterNotFound
		}
		if err != nil {
			return err
		}

		reset := tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{"attempt_count": 0, "last_error": nil})
		if reset.Error != nil {
			return reset.Error
		}
		if reset.RowsAffected == 0 {
			// purged by retention; requeue from the copy kept in the dead letter
			if err := tx.Create(&models.OutboxEvent{
				ID:            entry.EventID,
				EventType:     entry.EventType,
				AggregateType: entry.AggregateType,
				AggregateID:   entry.AggregateID,
				Payload:       entry.Payload,
				CreatedAt:     entry.FailedAt,
			}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&entry).Error
	})
}

func clip(msg *string) *string {
	if msg == nil || len(*msg) <= maxLastErrorLen {
		return msg
	}
	short := (*msg)[:maxLastErrorLen]
	return &short
}
