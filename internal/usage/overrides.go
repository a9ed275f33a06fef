package usage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

// OverrideInput replaces the limit of one resource for one organization.
type OverrideInput struct {
	OrganizationID uuid.UUID
	ResourceKey    string
	LimitValue     int64
	Reason         string
	ExpiresAt      *time.Time
}

// SetOverride creates or replaces an override. LimitValue -1 grants
// unlimited use.
func (r *Resolver) SetOverride(ctx context.Context, input OverrideInput) (*models.OrganizationLimitOverride, error) {
	if input.OrganizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	key := strings.TrimSpace(input.ResourceKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resource key is required")
	}
	if !r.HasResource(key) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown resource").WithDetails(map[string]any{"resource_key": key})
	}
	if input.LimitValue < plans.Unlimited {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "limit must be -1 (unlimited) or greater")
	}
	now := r.now().UTC()
	var expiresAt *time.Time
	if input.ExpiresAt != nil {
		utc := input.ExpiresAt.UTC()
		if !utc.After(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future")
		}
		expiresAt = &utc
	}

	override := &models.OrganizationLimitOverride{
		OrganizationID: input.OrganizationID,
		ResourceKey:    key,
		LimitValue:     input.LimitValue,
		Reason:         strings.TrimSpace(input.Reason),
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.overrides.Upsert(ctx, override); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save limit override")
	}
	stored, err := r.overrides.Find(ctx, input.OrganizationID, key)
	if err != nil || stored == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload limit override")
	}

	logCtx := r.logg.WithOrganizationID(ctx, input.OrganizationID.String())
	r.logg.Info(r.logg.WithFields(logCtx, map[string]any{
		"resource_key": key,
		"limit":        input.LimitValue,
		"expires_at":   expiresAt,
	}), "limit override saved")
	return stored, nil
}

// RemoveOverride deletes an override so the plan limit applies again.
func (r *Resolver) RemoveOverride(ctx context.Context, organizationID uuid.UUID, resourceKey string) error {
	deleted, err := r.overrides.Delete(ctx, organizationID, resourceKey)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete limit override")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "limit override not found")
	}
	logCtx := r.logg.WithOrganizationID(ctx, organizationID.String())
	r.logg.Info(r.logg.WithField(logCtx, "resource_key", resourceKey), "limit override removed")
	return nil
}
