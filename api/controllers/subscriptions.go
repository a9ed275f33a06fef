package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	subsvc "github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
)

type SubscriptionService interface {
	Cancel(ctx context.Context, input subsvc.CancelInput) (*models.OrganizationSubscription, error)
	History(ctx context.Context, organizationID uuid.UUID, limit int) ([]models.SubscriptionHistory, error)
}

type cancelSubscriptionRequest struct {
	Reason     string `json:"reason" validate:"max=500"`
	OperatorID string `json:"operator_id" validate:"max=128"`
}

type subscriptionResponse struct {
	ID                 uuid.UUID                `json:"id"`
	OrganizationID     uuid.UUID                `json:"organization_id"`
	PlanID             uuid.UUID                `json:"plan_id"`
	Status             enums.SubscriptionStatus `json:"status"`
	StartedAt          time.Time                `json:"started_at"`
	ExpiresAt          *time.Time               `json:"expires_at"`
	CancelledAt        *time.Time               `json:"cancelled_at"`
	CancellationReason *string                  `json:"cancellation_reason"`
}

func newSubscriptionResponse(sub *models.OrganizationSubscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 sub.ID,
		OrganizationID:     sub.OrganizationID,
		PlanID:             sub.PlanID,
		Status:             sub.Status,
		StartedAt:          sub.StartedAt,
		ExpiresAt:          sub.ExpiresAt,
		CancelledAt:        sub.CancelledAt,
		CancellationReason: sub.CancellationReason,
	}
}

type historyEntryResponse struct {
	ID             uuid.UUID                 `json:"id"`
	SubscriptionID *uuid.UUID                `json:"subscription_id"`
	Action         enums.HistoryAction       `json:"action"`
	FromPlanID     *uuid.UUID                `json:"from_plan_id"`
	ToPlanID       *uuid.UUID                `json:"to_plan_id"`
	FromStatus     *enums.SubscriptionStatus `json:"from_status"`
	ToStatus       *enums.SubscriptionStatus `json:"to_status"`
	ActorKind      string                    `json:"actor_kind"`
	ActorID        *string                   `json:"actor_id"`
	Notes          string                    `json:"notes,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// SubscriptionHistory lists the organization's subscription changes, newest
// first.
func SubscriptionHistory(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.History(r.Context(), orgID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]historyEntryResponse, 0, len(entries))
		for _, entry := range entries {
			out = append(out, historyEntryResponse{
				ID:             entry.ID,
				SubscriptionID: entry.SubscriptionID,
				Action:         entry.Action,
				FromPlanID:     entry.FromPlanID,
				ToPlanID:       entry.ToPlanID,
				FromStatus:     entry.FromStatus,
				ToStatus:       entry.ToStatus,
				ActorKind:      entry.ActorKind,
				ActorID:        entry.ActorID,
				Notes:          entry.Notes,
				CreatedAt:      entry.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// CancelSubscription ends the organization's current subscription on behalf
// of an operator.
func CancelSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		var payload cancelSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.Cancel(r.Context(), subsvc.CancelInput{
			OrganizationID: orgID,
			Reason:         validators.SanitizeString(payload.Reason, 500),
			Actor:          &outbox.Actor{Kind: outbox.ActorOperator, ID: validators.SanitizeString(payload.OperatorID, 128)},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}
