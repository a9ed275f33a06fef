package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// crossing reports which notice, if any, a move from prev to next earns.
// Reaching the limit outranks entering the warning band.
func crossing(resourceKey string, prev, next int64, limit EffectiveLimit) (enums.OutboxEventType, UsageCheck, bool) {
	if limit.Unlimited || limit.Value <= 0 || next <= prev {
		return "", UsageCheck{}, false
	}
	before := Evaluate(resourceKey, prev, limit)
	after := Evaluate(resourceKey, next, limit)
	switch {
	case before.Allowed && !after.Allowed:
		return enums.EventUsageLimitReached, after, true
	case before.Allowed && !before.Warning && after.Warning:
		return enums.EventUsageLimitWarning, after, true
	}
	return "", UsageCheck{}, false
}

// limitNoticeID keys a notice on the organization, the event, the limit it
// was measured against and the counter period. Raising the limit or starting
// a new period re-arms the notice.
func limitNoticeID(organizationID uuid.UUID, eventType enums.OutboxEventType, resourceKey string, limit int64, periodStart *time.Time) uuid.UUID {
	period := "-"
	if periodStart != nil {
		period = periodStart.UTC().Format(time.RFC3339)
	}
	return uuid.NewSHA1(organizationID, []byte(fmt.Sprintf("%s:%s:%d:%s", eventType, resourceKey, limit, period)))
}

// notifyCrossing queues a warning or limit-reached notice when the delta
// crossed a threshold. Failures are logged only.
func (r *Resolver) notifyCrossing(ctx context.Context, organizationID uuid.UUID, resourceKey string, prev, next int64, periodStart *time.Time, now time.Time) {
	if r.outbox == nil || next <= prev {
		return
	}
	logCtx := r.logg.WithFields(r.logg.WithOrganizationID(ctx, organizationID.String()), map[string]any{
		"resource_key": resourceKey,
		"count":        next,
	})
	limit, err := r.GetLimit(ctx, organizationID, resourceKey)
	if err != nil {
		r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "usage limit lookup failed")
		return
	}
	eventType, check, crossed := crossing(resourceKey, prev, next, limit)
	if !crossed {
		return
	}
	var created bool
	err = r.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = r.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateUsageLimit,
			AggregateID:   limitNoticeID(organizationID, eventType, resourceKey, limit.Value, periodStart),
			OccurredAt:    now,
			Data: payloads.UsageLimitEvent{
				OrganizationID: organizationID,
				ResourceKey:    resourceKey,
				Current:        next,
				Limit:          limit.Value,
				Percentage:     check.Percentage,
				PeriodStart:    periodStart,
			},
		})
		return err
	})
	if err != nil {
		r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "usage limit notice failed")
		return
	}
	if created {
		r.logg.Info(r.logg.WithField(logCtx, "event", eventType), "usage limit notice queued")
	}
}
