package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/internal/featuregate"
	"github.com/angelmondragon/entitlements-backend/internal/features"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

type DependencyReader interface {
	DependenciesOf(key string) ([]string, error)
	TransitiveClosure(key string) ([]string, error)
}

type FeatureGate interface {
	GetFeatureAccessStatus(ctx context.Context, organizationID uuid.UUID, featureKey string) (featuregate.AccessStatus, error)
	AllFeatures(ctx context.Context, organizationID uuid.UUID) ([]featuregate.AccessStatus, error)
	Access(ctx context.Context, organizationID uuid.UUID) (featuregate.AccessSummary, error)
}

type featureDependenciesResponse struct {
	FeatureKey   string   `json:"feature_key"`
	Dependencies []string `json:"dependencies"`
	Transitive   []string `json:"transitive"`
}

// FeatureDependencies lists the direct and transitive prerequisites of a feature.
func FeatureDependencies(graph DependencyReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "featureKey")
		direct, err := graph.DependenciesOf(key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, featureLookupError(err))
			return
		}
		closure, err := graph.TransitiveClosure(key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, featureLookupError(err))
			return
		}
		responses.WriteSuccess(w, featureDependenciesResponse{FeatureKey: key, Dependencies: direct, Transitive: closure})
	}
}

func featureLookupError(err error) error {
	if errors.Is(err, features.ErrUnknownFeatureKey) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown feature")
	}
	return err
}

// OrganizationFeature evaluates one feature for the organization.
func OrganizationFeature(gate FeatureGate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		status, err := gate.GetFeatureAccessStatus(r.Context(), orgID, chi.URLParam(r, "featureKey"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// OrganizationFeatures evaluates every known feature for the organization.
func OrganizationFeatures(gate FeatureGate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		statuses, err := gate.AllFeatures(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, statuses)
	}
}

func OrganizationAccess(gate FeatureGate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organizationID(w, r, logg)
		if !ok {
			return
		}
		summary, err := gate.Access(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// organizationID reads the id placed on the context by OrganizationContext.
func organizationID(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	id, ok := middleware.OrganizationIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "organization id required"))
		return uuid.Nil, false
	}
	return id, true
}
