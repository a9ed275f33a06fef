package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// one notification per (event type, aggregate); see the outbox migration
const uniqueEventAggregateIndex = "ux_outbox_events_event_aggregate"

var errNoTx = errors.New("transaction required")

// DomainEvent is a subscription change to announce once its transaction
// commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *Actor
	Data          any
	Version       int
	// OccurredAt defaults to the service clock.
	OccurredAt time.Time
}

// Service writes DomainEvents into outbox_events inside the caller's
// transaction. The relay in cmd/outbox-publisher publishes them.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Emit queues the event inside tx so it commits or rolls back together with
// the state change it describes.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errNoTx
	}
	row, eventID, err := s.buildRow(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":       eventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), "notification queued")
	}
	return nil
}

// EmitIfNotExists queues at most one event per (event type, aggregate) and
// reports whether a row was written. Sweeps retried after a crash rely on it
// to avoid announcing the same transition twice.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) (bool, error) {
	if tx == nil {
		return false, errNoTx
	}
	exists, err := s.repo.ExistsTx(tx, event.EventType, event.AggregateType, event.AggregateID)
	if err != nil || exists {
		return false, err
	}
	err = s.Emit(ctx, tx, event)
	switch {
	case err == nil:
		return true, nil
	case dbpkg.IsUniqueViolation(err, uniqueEventAggregateIndex):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) buildRow(event DomainEvent) (models.OutboxEvent, string, error) {
	if !event.EventType.IsValid() {
		return models.OutboxEvent{}, "", fmt.Errorf("unknown outbox event type %q", event.EventType)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, "", fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	version := event.Version
	if version == 0 {
		version = 1
	}

	envelope := PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurred,
		Actor:      event.Actor,
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, "", err
	}
	return models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
		CreatedAt:     occurred,
	}, envelope.EventID, nil
}
