package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type historyChange struct {
	action     enums.HistoryAction
	fromPlan   *uuid.UUID
	toPlan     *uuid.UUID
	fromStatus *enums.SubscriptionStatus
	toStatus   *enums.SubscriptionStatus
	notes      string
}

// appendHistory writes one audit row through repo, which must be bound to the
// transaction that made the change.
func appendHistory(ctx context.Context, repo Repository, sub models.OrganizationSubscription, change historyChange, actor *outbox.Actor, at time.Time) error {
	subID := sub.ID
	entry := &models.SubscriptionHistory{
		OrganizationID: sub.OrganizationID,
		SubscriptionID: &subID,
		Action:         change.action,
		FromPlanID:     change.fromPlan,
		ToPlanID:       change.toPlan,
		FromStatus:     change.fromStatus,
		ToStatus:       change.toStatus,
		ActorKind:      outbox.ActorOperator,
		Notes:          change.notes,
		CreatedAt:      at.UTC(),
	}
	if actor != nil {
		entry.ActorKind = actor.Kind
		if actor.ID != "" {
			id := actor.ID
			entry.ActorID = &id
		}
	}
	return repo.AppendHistory(ctx, entry)
}

// renewalAction labels a paid activation against the newest subscription it
// replaces. Plans rank by sort order.
func renewalAction(latest *models.OrganizationSubscription, plan models.SubscriptionPlan) enums.HistoryAction {
	switch {
	case latest == nil || latest.Plan == nil:
		return enums.HistoryActionActivated
	case latest.PlanID == plan.ID && latest.Status == enums.SubscriptionStatusTrial:
		return enums.HistoryActionActivated
	case latest.PlanID == plan.ID:
		return enums.HistoryActionRenewed
	case latest.Plan.SortOrder < plan.SortOrder:
		return enums.HistoryActionUpgraded
	default:
		return enums.HistoryActionDowngraded
	}
}

// History lists an organization's subscription changes, newest first. A
// non-positive limit selects the default page size.
func (s *service) History(ctx context.Context, organizationID uuid.UUID, limit int) ([]models.SubscriptionHistory, error) {
	if organizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.repo.History(ctx, organizationID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription history")
	}
	return entries, nil
}

func statusPtr(status enums.SubscriptionStatus) *enums.SubscriptionStatus {
	return &status
}

func idPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
