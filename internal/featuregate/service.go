package featuregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/internal/features"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

type subscriptionLookup interface {
	Current(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, error)
}

type planCatalog interface {
	PlanByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	FindMinimumPlanForFeature(ctx context.Context, featureKey string) (*models.SubscriptionPlan, error)
}

type dependencyGraph interface {
	Has(key string) bool
	Keys() []string
	TransitiveClosure(key string) ([]string, error)
}

// RequiredPlan names the tier that would unlock a feature.
type RequiredPlan struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// AccessStatus is the decision for one (organization, feature) pair.
type AccessStatus struct {
	Allowed             bool                       `json:"allowed"`
	AccessLevel         *enums.AccessLevel         `json:"access_level"`
	Reason              *enums.FeatureDenialReason `json:"reason"`
	FeatureKey          string                     `json:"feature_key"`
	MissingDependencies []string                   `json:"missing_dependencies"`
	RequiredPlan        *RequiredPlan              `json:"required_plan"`
}

// AccessSummary describes what the organization may do overall.
type AccessSummary struct {
	OrganizationID uuid.UUID                 `json:"organization_id"`
	Level          enums.AccessLevel         `json:"access_level"`
	CanRead        bool                      `json:"can_read"`
	CanWrite       bool                      `json:"can_write"`
	Status         *enums.SubscriptionStatus `json:"status"`
	PlanSlug       *string                   `json:"plan_slug"`
	ExpiresAt      *time.Time                `json:"expires_at"`
}

// ServiceParams groups dependencies for the feature gate.
type ServiceParams struct {
	Subscriptions subscriptionLookup
	Plans         planCatalog
	Graph         dependencyGraph
}

// Service answers feature access questions. It never mutates state.
type Service struct {
	subs  subscriptionLookup
	plans planCatalog
	graph dependencyGraph
}

// NewService builds a feature gate.
func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, errors.New("subscription lookup required")
	}
	if params.Plans == nil {
		return nil, errors.New("plan catalog required")
	}
	if params.Graph == nil {
		return nil, errors.New("feature graph required")
	}
	return &Service{subs: params.Subscriptions, plans: params.Plans, graph: params.Graph}, nil
}

// GetFeatureAccessStatus decides whether the organization may use featureKey.
func (s *Service) GetFeatureAccessStatus(ctx context.Context, organizationID uuid.UUID, featureKey string) (AccessStatus, error) {
	if !s.graph.Has(featureKey) {
		return AccessStatus{}, pkgerrors.Wrap(pkgerrors.CodeNotFound,
			fmt.Errorf("%w: %q", features.ErrUnknownFeatureKey, featureKey), "unknown feature")
	}
	sub, plan, err := s.resolve(ctx, organizationID)
	if err != nil {
		return AccessStatus{}, err
	}
	return s.evaluate(ctx, sub, plan, featureKey)
}

// AllFeatures evaluates every known feature for the organization, sorted by key.
func (s *Service) AllFeatures(ctx context.Context, organizationID uuid.UUID) ([]AccessStatus, error) {
	sub, plan, err := s.resolve(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	keys := s.graph.Keys()
	out := make([]AccessStatus, 0, len(keys))
	for _, key := range keys {
		status, err := s.evaluate(ctx, sub, plan, key)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

// Access summarises the organization's lifecycle-derived access level.
func (s *Service) Access(ctx context.Context, organizationID uuid.UUID) (AccessSummary, error) {
	summary := AccessSummary{OrganizationID: organizationID, Level: enums.AccessLevelNone}
	sub, plan, err := s.resolve(ctx, organizationID)
	if err != nil {
		return AccessSummary{}, err
	}
	if sub != nil {
		status := sub.Status
		summary.Status = &status
		summary.Level = enums.AccessLevelForStatus(status)
		summary.ExpiresAt = sub.ExpiresAt
		slug := plan.Slug
		summary.PlanSlug = &slug
	}
	summary.CanRead = summary.Level.CanRead()
	summary.CanWrite = summary.Level.CanWrite()
	return summary, nil
}

// resolve returns a nil subscription when the organization has none.
func (s *Service) resolve(ctx context.Context, organizationID uuid.UUID) (*models.OrganizationSubscription, *models.SubscriptionPlan, error) {
	sub, err := s.subs.Current(ctx, organizationID)
	if errors.Is(err, subscriptions.ErrNoCurrentSubscription) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	plan, err := s.plans.PlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	return sub, plan, nil
}

func (s *Service) evaluate(ctx context.Context, sub *models.OrganizationSubscription, plan *models.SubscriptionPlan, featureKey string) (AccessStatus, error) {
	if sub == nil {
		return deny(featureKey, enums.DenialNoSubscription, nil, nil), nil
	}
	switch sub.Status {
	case enums.SubscriptionStatusReadonly:
		return deny(featureKey, enums.DenialSubscriptionReadonly, nil, nil), nil
	case enums.SubscriptionStatusExpired:
		return deny(featureKey, enums.DenialSubscriptionExpired, nil, nil), nil
	}

	closure, err := s.graph.TransitiveClosure(featureKey)
	if err != nil {
		return AccessStatus{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown feature")
	}

	if !plan.FeatureEnabled(featureKey) {
		required, err := s.requiredPlan(ctx, featureKey)
		if err != nil {
			return AccessStatus{}, err
		}
		return deny(featureKey, enums.DenialPlanFeatureDisabled, nil, required), nil
	}

	var missing []string
	for _, dep := range closure {
		if !plan.FeatureEnabled(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		required, err := s.requiredPlan(ctx, featureKey)
		if err != nil {
			return AccessStatus{}, err
		}
		return deny(featureKey, enums.DenialDependencyMissing, missing, required), nil
	}

	full := enums.AccessLevelFull
	return AccessStatus{
		Allowed:             true,
		AccessLevel:         &full,
		FeatureKey:          featureKey,
		MissingDependencies: []string{},
	}, nil
}

// requiredPlan reports the lowest tier enabling the feature itself, whether
// or not that tier also carries its prerequisites.
func (s *Service) requiredPlan(ctx context.Context, featureKey string) (*RequiredPlan, error) {
	plan, err := s.plans.FindMinimumPlanForFeature(ctx, featureKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan catalog")
	}
	if plan == nil {
		return nil, nil
	}
	return &RequiredPlan{Slug: plan.Slug, Name: plan.Name}, nil
}

func deny(featureKey string, reason enums.FeatureDenialReason, missing []string, required *RequiredPlan) AccessStatus {
	if missing == nil {
		missing = []string{}
	}
	return AccessStatus{
		Allowed:             false,
		Reason:              &reason,
		FeatureKey:          featureKey,
		MissingDependencies: missing,
		RequiredPlan:        required,
	}
}
