package main

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/registry"
)

// delivery is what happened to one row; settle persists it.
type delivery struct {
	outcome string
	reason  enums.OutboxDLQErrorReason
	err     error
}

func (r *Relay) dispatch(ctx context.Context, row models.OutboxEvent) delivery {
	decoded, err := r.routes.Decode(row)
	if err != nil {
		return delivery{outcome: metrics.OutcomeDeadLettered, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}

	err = r.publish(ctx, row, decoded)
	switch {
	case err == nil:
		return delivery{outcome: metrics.OutcomePublished}
	case registry.IsPermanent(err):
		return delivery{outcome: metrics.OutcomeDeadLettered, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	case row.AttemptCount+1 >= r.maxAttempts:
		return delivery{
			outcome: metrics.OutcomeDeadLettered,
			reason:  enums.OutboxDLQReasonMaxAttempts,
			err:     fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, err),
		}
	default:
		return delivery{outcome: metrics.OutcomeRetry, err: err}
	}
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, decoded *registry.Decoded) error {
	pub := r.publisherFor(decoded.Route.Topic)
	if pub == nil {
		return registry.Permanent(fmt.Errorf("no publisher for topic %s", decoded.Route.Topic))
	}

	attrs := map[string]string{
		"event_id":       decoded.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"recorded_at":    row.CreatedAt.Format(time.RFC3339Nano),
	}
	if org := decoded.Body.Organization(); org != uuid.Nil {
		attrs["organization_id"] = org.String()
	}
	for k, v := range decoded.Body.Attributes() {
		if v != "" {
			attrs[k] = v
		}
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{Data: row.Payload, Attributes: attrs})
	if result == nil {
		return registry.Permanent(fmt.Errorf("publisher for %s returned no result", decoded.Route.Topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, d delivery) error {
	r.metrics.IncDelivery(string(row.EventType), d.outcome)
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
		"outcome":       d.outcome,
	})

	switch d.outcome {
	case metrics.OutcomePublished:
		if err := r.rows.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.metrics.ObserveLag(row.CreatedAt, r.now())
		r.logg.Info(logCtx, "notification published")
		return nil

	case metrics.OutcomeRetry:
		r.logg.Warn(r.logg.WithField(logCtx, "error", d.err.Error()), "notification publish failed, will retry")
		if err := r.rows.MarkFailedTx(tx, row.ID, d.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", row.ID, err)
		}
		return nil
	}

	logCtx = r.logg.WithFields(logCtx, map[string]any{"error": d.err.Error(), "error_reason": d.reason})
	r.logg.Warn(logCtx, "notification dead-lettered")
	msg := d.err.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   d.reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.now(),
	}
	if err := r.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dead letter %s: %w", row.ID, err)
	}
	if err := r.rows.MarkTerminalTx(tx, row.ID, d.err, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}
