package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type planLookup interface {
	PlanBySlug(ctx context.Context, slug string) (*models.SubscriptionPlan, error)
	DefaultPlan(ctx context.Context) (*models.SubscriptionPlan, error)
}

// Service is the organization subscription state machine.
type Service interface {
	Current(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, error)
	AccessLevel(ctx context.Context, organizationID uuid.UUID) (enums.AccessLevel, error)
	Cancel(ctx context.Context, input CancelInput) (*models.OrganizationSubscription, error)
	Activate(ctx context.Context, input ActivateInput) (*models.OrganizationSubscription, error)
	StartTrial(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, error)
	ProcessTransitions(ctx context.Context) (SweepResult, error)
	SendReminders(ctx context.Context) (ReminderResult, error)
	History(ctx context.Context, organizationID uuid.UUID, limit int) ([]models.SubscriptionHistory, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	Plans             planLookup
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Logger            *logger.Logger
	Metrics           *metrics.EntitlementMetrics
	Workers           int
	// Reminders defaults to DefaultReminderSchedule.
	Reminders *ReminderSchedule
	Now       func() time.Time
}

type service struct {
	repo      Repository
	plans     planLookup
	txRunner  txRunner
	outbox    outboxEmitter
	logg      *logger.Logger
	metrics   *metrics.EntitlementMetrics
	workers   int
	reminders ReminderSchedule
	now       func() time.Time
}

// CancelInput describes an external cancellation.
type CancelInput struct {
	OrganizationID uuid.UUID
	Reason         string
	Actor          *outbox.Actor
}

// ActivateInput describes a paid renewal.
type ActivateInput struct {
	OrganizationID    uuid.UUID
	PlanSlug          string
	Currency          enums.Currency
	AdditionalSchools int
	Actor             *outbox.Actor
}

const supersededReason = "superseded by renewal"

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan lookup required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	workers := params.Workers
	if workers <= 0 {
		workers = 1
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	reminders := DefaultReminderSchedule()
	if params.Reminders != nil {
		reminders = *params.Reminders
	}
	return &service{
		repo:      params.Repo,
		plans:     params.Plans,
		txRunner:  params.TransactionRunner,
		outbox:    params.Outbox,
		logg:      params.Logger,
		metrics:   params.Metrics,
		workers:   workers,
		reminders: reminders,
		now:       now,
	}, nil
}

func (s *service) Current(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, error) {
	return s.repo.Current(ctx, organizationID)
}

// AccessLevel maps the current subscription onto an access level; no
// subscription yields AccessLevelNone.
func (s *service) AccessLevel(ctx context.Context, organizationID uuid.UUID) (enums.AccessLevel, error) {
	sub, err := s.repo.Current(ctx, organizationID)
	if errors.Is(err, ErrNoCurrentSubscription) {
		return enums.AccessLevelNone, nil
	}
	if err != nil {
		return enums.AccessLevelNone, err
	}
	return enums.AccessLevelForStatus(sub.Status), nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.OrganizationSubscription, error) {
	if input.OrganizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	var reason *string
	if trimmed := strings.TrimSpace(input.Reason); trimmed != "" {
		reason = &trimmed
	}
	now := s.now().UTC()

	var cancelled *models.OrganizationSubscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.Current(ctx, input.OrganizationID)
		if errors.Is(err, ErrNoCurrentSubscription) {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "organization has no subscription")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		if sub.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already ended").
				WithDetails(map[string]any{"status": sub.Status})
		}
		previous := sub.Status
		swapped, err := repo.MarkCancelled(ctx, sub.ID, previous, now, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel subscription")
		}
		if !swapped {
			return pkgerrors.New(pkgerrors.CodeConflict, "subscription changed concurrently")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCancelled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         input.Actor,
			OccurredAt:    now,
			Data: payloads.SubscriptionCancelledEvent{
				SubscriptionID: sub.ID,
				OrganizationID: sub.OrganizationID,
				PreviousStatus: previous,
				Reason:         input.Reason,
				CancelledAt:    now,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit cancellation")
		}
		change := historyChange{
			action:     enums.HistoryActionCancelled,
			fromPlan:   idPtr(sub.PlanID),
			toPlan:     idPtr(sub.PlanID),
			fromStatus: statusPtr(previous),
			toStatus:   statusPtr(enums.SubscriptionStatusCancelled),
			notes:      input.Reason,
		}
		if err := appendHistory(ctx, repo, *sub, change, input.Actor, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record cancellation")
		}
		sub.Status = enums.SubscriptionStatusCancelled
		sub.CancelledAt = &now
		sub.CancellationReason = reason
		cancelled = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithOrganizationID(ctx, input.OrganizationID.String())
	s.logg.Info(s.logg.WithField(logCtx, "subscription_id", cancelled.ID.String()), "subscription cancelled")
	return cancelled, nil
}

// Activate starts a paid period on the plan. Open subscriptions of the
// organization are closed as superseded in the same transaction.
func (s *service) Activate(ctx context.Context, input ActivateInput) (*models.OrganizationSubscription, error) {
	if input.OrganizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	if input.AdditionalSchools < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "additional schools must not be negative")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyAFN
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}
	plan, err := s.plans.PlanBySlug(ctx, input.PlanSlug)
	if errors.Is(err, plans.ErrPlanNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "plan not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan is not offered")
	}
	periodDays, err := billing.PeriodDays(*plan)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "plan billing period misconfigured")
	}

	now := s.now().UTC()
	expiresAt := now.Add(days(periodDays))
	sub := &models.OrganizationSubscription{
		OrganizationID:    input.OrganizationID,
		PlanID:            plan.ID,
		Status:            enums.SubscriptionStatusActive,
		StartedAt:         now,
		ExpiresAt:         &expiresAt,
		Currency:          currency,
		AdditionalSchools: input.AdditionalSchools,
	}
	superseded := supersededReason
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		open, err := repo.ListOpenByOrganization(ctx, input.OrganizationID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load open subscriptions")
		}
		var latest *models.OrganizationSubscription
		if len(open) > 0 {
			latest = &open[0]
		}
		// the sweep may have advanced a listed row since; cancel from its current state
		for _, prior := range open {
			closed, err := repo.CancelIfOpen(ctx, prior.ID, now, &superseded)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close prior subscription")
			}
			if !closed {
				s.logg.Info(s.logg.WithField(ctx, "subscription_id", prior.ID.String()), "prior subscription ended before renewal")
				continue
			}
			change := historyChange{
				action:     enums.HistoryActionSuperseded,
				fromPlan:   idPtr(prior.PlanID),
				toPlan:     idPtr(plan.ID),
				fromStatus: statusPtr(prior.Status),
				toStatus:   statusPtr(enums.SubscriptionStatusCancelled),
				notes:      supersededReason,
			}
			if err := appendHistory(ctx, repo, prior, change, input.Actor, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record superseded subscription")
			}
		}
		if err := repo.Create(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
		}
		change := historyChange{
			action:   renewalAction(latest, *plan),
			toPlan:   idPtr(plan.ID),
			toStatus: statusPtr(enums.SubscriptionStatusActive),
		}
		if latest != nil {
			change.fromPlan = idPtr(latest.PlanID)
			change.fromStatus = statusPtr(latest.Status)
		}
		if err := appendHistory(ctx, repo, *sub, change, input.Actor, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record activation")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionActivated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         input.Actor,
			OccurredAt:    now,
			Data: payloads.SubscriptionActivatedEvent{
				SubscriptionID: sub.ID,
				OrganizationID: sub.OrganizationID,
				PlanID:         plan.ID,
				PlanSlug:       plan.Slug,
				Currency:       currency,
				StartedAt:      now,
				ExpiresAt:      expiresAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	sub.Plan = plan
	logCtx := s.logg.WithOrganizationID(ctx, input.OrganizationID.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"subscription_id": sub.ID.String(),
		"plan":            plan.Slug,
		"expires_at":      expiresAt,
	}), "subscription activated")
	return sub, nil
}

// StartTrial opens a trial on the default plan for an organization that has
// never held a subscription, or whose subscriptions were all cancelled.
func (s *service) StartTrial(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, error) {
	if organizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	plan, err := s.plans.DefaultPlan(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "no default plan")
	}
	now := s.now().UTC()
	trialEnds := now.Add(days(plan.TrialDays))
	sub := &models.OrganizationSubscription{
		OrganizationID: organizationID,
		PlanID:         plan.ID,
		Status:         enums.SubscriptionStatusTrial,
		StartedAt:      now,
		ExpiresAt:      &trialEnds,
		Currency:       enums.CurrencyAFN,
	}
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.Current(ctx, organizationID)
		if err == nil && existing != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "organization already has a subscription").
				WithDetails(map[string]any{"status": existing.Status})
		}
		if !errors.Is(err, ErrNoCurrentSubscription) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		if err := repo.Create(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create trial")
		}
		change := historyChange{
			action:   enums.HistoryActionTrialStarted,
			toPlan:   idPtr(plan.ID),
			toStatus: statusPtr(enums.SubscriptionStatusTrial),
		}
		if err := appendHistory(ctx, repo, *sub, change, nil, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record trial")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sub.Plan = plan
	logCtx := s.logg.WithOrganizationID(ctx, organizationID.String())
	s.logg.Info(s.logg.WithField(logCtx, "trial_ends_at", trialEnds), "trial started")
	return sub, nil
}
