package subscriptions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
)

// SweepResult summarises one lifecycle sweep.
type SweepResult struct {
	Scanned     int
	Transitions int
	// Skipped counts due subscriptions another runner moved first.
	Skipped int
	Failed  int
}

var schedulerActor = &outbox.Actor{Kind: outbox.ActorScheduler}

// ProcessTransitions advances every due subscription by one step. Each
// organization is handled independently; failures are collected and do not
// stop the sweep.
func (s *service) ProcessTransitions(ctx context.Context) (SweepResult, error) {
	subs, err := s.repo.ListNonTerminal(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list subscriptions: %w", err)
	}
	now := s.now().UTC()

	var (
		mu     sync.Mutex
		result = SweepResult{Scanned: len(subs)}
		errs   error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for i := range subs {
		sub := subs[i]
		if sub.Plan == nil {
			mu.Lock()
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: plan %s missing", sub.ID, sub.PlanID))
			mu.Unlock()
			continue
		}
		transition, due := NextTransition(sub, *sub.Plan, now)
		if !due {
			continue
		}
		group.Go(func() error {
			applied, err := s.applyTransition(groupCtx, sub, transition, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			case applied:
				result.Transitions++
			default:
				result.Skipped++
			}
			return nil
		})
	}
	_ = group.Wait()

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"scanned":     result.Scanned,
		"transitions": result.Transitions,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
	}), "lifecycle sweep finished")
	return result, errs
}

// applyTransition swaps the status only if it is still the observed one and
// queues the notification in the same transaction. The outbox key on
// (event, subscription) keeps a repeated step from notifying twice.
func (s *service) applyTransition(ctx context.Context, sub models.OrganizationSubscription, transition Transition, now time.Time) (bool, error) {
	eventType, ok := enums.TransitionEventType(transition.From, transition.To)
	if !ok {
		return false, fmt.Errorf("no event for %s -> %s", transition.From, transition.To)
	}
	action, ok := enums.HistoryActionForStatus(transition.To)
	if !ok {
		return false, fmt.Errorf("no history action for %s", transition.To)
	}
	applied := false
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		swapped, err := repo.CompareAndSwapStatus(ctx, sub.ID, transition.From, transition.To, now)
		if err != nil {
			return err
		}
		if !swapped {
			return nil
		}
		applied = true
		change := historyChange{
			action:     action,
			fromPlan:   idPtr(sub.PlanID),
			toPlan:     idPtr(sub.PlanID),
			fromStatus: statusPtr(transition.From),
			toStatus:   statusPtr(transition.To),
		}
		if err := appendHistory(ctx, repo, sub, change, schedulerActor, now); err != nil {
			return err
		}
		_, err = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         schedulerActor,
			OccurredAt:    now,
			Data: payloads.SubscriptionTransitionEvent{
				SubscriptionID: sub.ID,
				OrganizationID: sub.OrganizationID,
				PlanID:         sub.PlanID,
				PlanSlug:       sub.Plan.Slug,
				From:           transition.From,
				To:             transition.To,
				DueAt:          transition.DueAt,
				TransitionedAt: now,
				NextDeadline:   DeadlineAfter(sub, *sub.Plan, transition.To),
			},
		})
		return err
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	s.metrics.IncTransition(string(transition.From), string(transition.To))
	logCtx := s.logg.WithOrganizationID(ctx, sub.OrganizationID.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"subscription_id": sub.ID.String(),
		"from":            transition.From,
		"to":              transition.To,
		"due_at":          transition.DueAt,
	}), "subscription transitioned")
	return true, nil
}
