package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const maxOverrideReasonLen = 500

type UsageService interface {
	HasResource(key string) bool
	GetLimit(ctx context.Context, organizationID uuid.UUID, resourceKey string) (usage.EffectiveLimit, error)
	CanCreate(ctx context.Context, organizationID uuid.UUID, resourceKey string) (usage.UsageCheck, error)
	AllUsage(ctx context.Context, organizationID uuid.UUID) ([]usage.ResourceUsage, error)
	Warnings(ctx context.Context, organizationID uuid.UUID) ([]usage.ResourceUsage, error)
	RecordDelta(ctx context.Context, organizationID uuid.UUID, resourceKey string, delta int64)
	SetOverride(ctx context.Context, input usage.OverrideInput) (*models.OrganizationLimitOverride, error)
	RemoveOverride(ctx context.Context, organizationID uuid.UUID, resourceKey string) error
}

type usageDeltaRequest struct {
	Delta int64 `json:"delta" validate:"ne=0"`
}

type limitOverrideRequest struct {
	Limit     *int64     `json:"limit" validate:"required,gte=-1"`
	Reason    string     `json:"reason" validate:"max=500"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type limitOverrideResponse struct {
	ResourceKey string     `json:"resource_key"`
	Limit       int64      `json:"limit"`
	Reason      string     `json:"reason"`
	ExpiresAt   *time.Time `json:"expires_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// resourceKey resolves {resourceKey} and rejects keys outside the registry.
func resourceKey(w http.ResponseWriter, r *http.Request, svc UsageService, logg *logger.Logger) (string, bool) {
	key := chi.URLParam(r, "resourceKey")
	if !svc.HasResource(key) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown resource").
			WithDetails(map[string]any{"resource_key": key}))
		return "", false
	}
	return key, true
}

func OrganizationLimit(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		key, ok := resourceKey(w, r, svc, logg)
		if !ok {
			return
		}
		limit, err := svc.GetLimit(r.Context(), orgID, key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, limit)
	}
}

// OrganizationUsage lists every visible resource; ?warnings=true narrows the
// list to resources at or past their warning threshold.
func OrganizationUsage(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		warningsOnly, err := validators.ParseQueryBool(r, "warnings", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var rows []usage.ResourceUsage
		if warningsOnly {
			rows, err = svc.Warnings(r.Context(), orgID)
		} else {
			rows, err = svc.AllUsage(r.Context(), orgID)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if rows == nil {
			rows = []usage.ResourceUsage{}
		}
		responses.WriteSuccess(w, rows)
	}
}

// OrganizationResourceUsage answers whether one more unit can be created.
func OrganizationResourceUsage(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		key, ok := resourceKey(w, r, svc, logg)
		if !ok {
			return
		}
		check, err := svc.CanCreate(r.Context(), orgID, key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, check)
	}
}

// RecordUsageDelta applies a create or permanent delete to the cached
// counter. A well-formed request gets 202 even when the counter write fails,
// since the write is best effort. The idempotency layer in front of the route
// can still answer 400 for a missing key or 503 when its store is down.
func RecordUsageDelta(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		key, ok := resourceKey(w, r, svc, logg)
		if !ok {
			return
		}
		var payload usageDeltaRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		svc.RecordDelta(r.Context(), orgID, key, payload.Delta)
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"resource_key": key,
			"delta":        payload.Delta,
		})
	}
}

func PutLimitOverride(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		key, ok := resourceKey(w, r, svc, logg)
		if !ok {
			return
		}
		var payload limitOverrideRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		override, err := svc.SetOverride(r.Context(), usage.OverrideInput{
			OrganizationID: orgID,
			ResourceKey:    key,
			LimitValue:     *payload.Limit,
			Reason:         validators.SanitizeString(payload.Reason, maxOverrideReasonLen),
			ExpiresAt:      payload.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, limitOverrideResponse{
			ResourceKey: override.ResourceKey,
			Limit:       override.LimitValue,
			Reason:      override.Reason,
			ExpiresAt:   override.ExpiresAt,
			UpdatedAt:   override.UpdatedAt,
		})
	}
}

func DeleteLimitOverride(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		key, ok := resourceKey(w, r, svc, logg)
		if !ok {
			return
		}
		if err := svc.RemoveOverride(r.Context(), orgID, key); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
