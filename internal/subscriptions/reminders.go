package subscriptions

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
)

// ReminderSchedule lists, per window, how many days before its deadline a
// reminder goes out.
type ReminderSchedule struct {
	Renewal []int
	Trial   []int
	Grace   []int
}

// DefaultReminderSchedule is used when the service is built without one.
func DefaultReminderSchedule() ReminderSchedule {
	return ReminderSchedule{
		Renewal: []int{30, 14, 7, 1},
		Trial:   []int{3, 1},
		Grace:   []int{7, 1},
	}
}

// Reminder is the notice due for a subscription at one instant.
type Reminder struct {
	EventType  enums.OutboxEventType
	OffsetDays int
	Deadline   time.Time
	DaysLeft   int
}

// key identifies the reminder window; a renewal that moves the deadline
// opens fresh windows.
func (r Reminder) key() string {
	return fmt.Sprintf("%s:%d:%s", r.EventType, r.OffsetDays, r.Deadline.UTC().Format(time.RFC3339))
}

// ReminderResult summarises one reminder run.
type ReminderResult struct {
	Scanned int
	Emitted int
	// Duplicates counts reminders already queued by an earlier run.
	Duplicates int
	Failed     int
}

// DueReminder picks the reminder whose window now falls in: the smallest
// offset not yet passed. Nothing is due once the deadline itself has passed,
// since the lifecycle sweep takes over from there.
func DueReminder(sub models.OrganizationSubscription, plan models.SubscriptionPlan, schedule ReminderSchedule, now time.Time) (Reminder, bool) {
	d := ComputeDeadlines(sub, plan)
	var (
		eventType enums.OutboxEventType
		deadline  time.Time
		offsets   []int
	)
	switch sub.Status {
	case enums.SubscriptionStatusTrial:
		eventType, deadline, offsets = enums.EventSubscriptionTrialEnding, d.TrialEndsAt, schedule.Trial
	case enums.SubscriptionStatusActive:
		if d.ExpiresAt == nil {
			return Reminder{}, false
		}
		eventType, deadline, offsets = enums.EventSubscriptionRenewalReminder, *d.ExpiresAt, schedule.Renewal
	case enums.SubscriptionStatusGrace:
		if d.GraceEndsAt == nil {
			return Reminder{}, false
		}
		eventType, deadline, offsets = enums.EventSubscriptionGraceEnding, *d.GraceEndsAt, schedule.Grace
	default:
		return Reminder{}, false
	}
	now = now.UTC()
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return Reminder{}, false
	}
	sorted := append([]int(nil), offsets...)
	sort.Ints(sorted)
	for _, offset := range sorted {
		if offset <= 0 || remaining > days(offset) {
			continue
		}
		return Reminder{
			EventType:  eventType,
			OffsetDays: offset,
			Deadline:   deadline,
			DaysLeft:   int(math.Ceil(remaining.Hours() / 24)),
		}, true
	}
	return Reminder{}, false
}

// SendReminders queues every due reminder once. The outbox row is keyed on an
// id derived from the subscription and the window, so reruns inside the same
// window are no-ops.
func (s *service) SendReminders(ctx context.Context) (ReminderResult, error) {
	subs, err := s.repo.ListNonTerminal(ctx)
	if err != nil {
		return ReminderResult{}, fmt.Errorf("list subscriptions: %w", err)
	}
	now := s.now().UTC()

	var (
		mu     sync.Mutex
		result = ReminderResult{Scanned: len(subs)}
		errs   error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for i := range subs {
		sub := subs[i]
		if sub.Plan == nil {
			continue
		}
		reminder, due := DueReminder(sub, *sub.Plan, s.reminders, now)
		if !due {
			continue
		}
		group.Go(func() error {
			created, err := s.emitReminder(groupCtx, sub, reminder, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			case created:
				result.Emitted++
			default:
				result.Duplicates++
			}
			return nil
		})
	}
	_ = group.Wait()

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"scanned":    result.Scanned,
		"emitted":    result.Emitted,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	}), "subscription reminders finished")
	return result, errs
}

func (s *service) emitReminder(ctx context.Context, sub models.OrganizationSubscription, reminder Reminder, now time.Time) (bool, error) {
	var created bool
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     reminder.EventType,
			AggregateType: enums.AggregateReminder,
			AggregateID:   uuid.NewSHA1(sub.ID, []byte(reminder.key())),
			Actor:         schedulerActor,
			OccurredAt:    now,
			Data: payloads.SubscriptionReminderEvent{
				SubscriptionID: sub.ID,
				OrganizationID: sub.OrganizationID,
				PlanID:         sub.PlanID,
				PlanSlug:       sub.Plan.Slug,
				Status:         sub.Status,
				DaysLeft:       reminder.DaysLeft,
				Deadline:       reminder.Deadline,
			},
		})
		return err
	})
	if err != nil || !created {
		return false, err
	}
	logCtx := s.logg.WithOrganizationID(ctx, sub.OrganizationID.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"subscription_id": sub.ID.String(),
		"event":           reminder.EventType,
		"days_left":       reminder.DaysLeft,
	}), "subscription reminder queued")
	return true, nil
}
