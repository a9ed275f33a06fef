package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

type contextKey string

const ctxOrganizationID contextKey = "organization_id"

// OrganizationIDFromContext returns the organization resolved from the path.
func OrganizationIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ctxOrganizationID).(uuid.UUID)
	return id, ok
}

// WithOrganizationID injects the organization identifier into the context.
func WithOrganizationID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOrganizationID, id)
}

// OrganizationContext parses the {orgId} path segment, rejects malformed ids
// and tags the request log context with the organization.
func OrganizationContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, "orgId")
			id, err := uuid.Parse(raw)
			if err != nil || id == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid organization id").
					WithDetails(map[string]any{"field": "orgId"}))
				return
			}
			ctx := WithOrganizationID(r.Context(), id)
			if logg != nil {
				ctx = logg.WithOrganizationID(ctx, id.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
