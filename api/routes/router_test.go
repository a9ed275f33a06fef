package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/entitlements-backend/api/controllers"
	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/internal/featuregate"
	"github.com/angelmondragon/entitlements-backend/internal/features"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubPlans struct{ plans []models.SubscriptionPlan }

func (s stubPlans) ActivePlans(context.Context) ([]models.SubscriptionPlan, error) {
	return s.plans, nil
}

type stubQuotes struct{ last billing.QuoteParams }

func (s *stubQuotes) Quote(_ context.Context, params billing.QuoteParams) (billing.Quote, error) {
	s.last = params
	if params.PlanSlug == "missing" {
		return billing.Quote{}, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return billing.Quote{PlanSlug: params.PlanSlug, Total: decimal.NewFromInt(1395)}, nil
}

type stubGate struct{}

func (stubGate) GetFeatureAccessStatus(_ context.Context, _ uuid.UUID, key string) (featuregate.AccessStatus, error) {
	if key == "teleport" {
		return featuregate.AccessStatus{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, features.ErrUnknownFeatureKey, "unknown feature")
	}
	return featuregate.AccessStatus{Allowed: true, FeatureKey: key, MissingDependencies: []string{}}, nil
}

func (stubGate) AllFeatures(context.Context, uuid.UUID) ([]featuregate.AccessStatus, error) {
	return []featuregate.AccessStatus{}, nil
}

func (stubGate) Access(_ context.Context, id uuid.UUID) (featuregate.AccessSummary, error) {
	return featuregate.AccessSummary{OrganizationID: id, Level: enums.AccessLevelFull, CanRead: true, CanWrite: true}, nil
}

type deltaCall struct {
	org   uuid.UUID
	key   string
	delta int64
}

type stubUsage struct {
	deltas    []deltaCall
	overrides []usage.OverrideInput
}

func (s *stubUsage) HasResource(key string) bool { return key == "students" || key == "schools" }

func (s *stubUsage) GetLimit(_ context.Context, _ uuid.UUID, key string) (usage.EffectiveLimit, error) {
	return usage.EffectiveLimit{ResourceKey: key, Value: 100, Source: usage.SourcePlan, WarningThreshold: 80}, nil
}

func (s *stubUsage) CanCreate(_ context.Context, _ uuid.UUID, key string) (usage.UsageCheck, error) {
	return usage.Evaluate(key, 90, usage.EffectiveLimit{ResourceKey: key, Value: 100, WarningThreshold: 80}), nil
}

func (s *stubUsage) AllUsage(context.Context, uuid.UUID) ([]usage.ResourceUsage, error) {
	return []usage.ResourceUsage{{UsageCheck: usage.UsageCheck{ResourceKey: "students"}}}, nil
}

func (s *stubUsage) Warnings(context.Context, uuid.UUID) ([]usage.ResourceUsage, error) {
	return nil, nil
}

func (s *stubUsage) RecordDelta(_ context.Context, org uuid.UUID, key string, delta int64) {
	s.deltas = append(s.deltas, deltaCall{org: org, key: key, delta: delta})
}

func (s *stubUsage) SetOverride(_ context.Context, input usage.OverrideInput) (*models.OrganizationLimitOverride, error) {
	s.overrides = append(s.overrides, input)
	return &models.OrganizationLimitOverride{
		OrganizationID: input.OrganizationID,
		ResourceKey:    input.ResourceKey,
		LimitValue:     input.LimitValue,
		Reason:         input.Reason,
		ExpiresAt:      input.ExpiresAt,
	}, nil
}

func (s *stubUsage) RemoveOverride(context.Context, uuid.UUID, string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "limit override not found")
}

type stubCanceller struct {
	last         subscriptions.CancelInput
	historyLimit int
}

func (s *stubCanceller) History(_ context.Context, org uuid.UUID, limit int) ([]models.SubscriptionHistory, error) {
	s.historyLimit = limit
	subID := uuid.New()
	to := enums.SubscriptionStatusGrace
	return []models.SubscriptionHistory{{
		ID:             uuid.New(),
		OrganizationID: org,
		SubscriptionID: &subID,
		Action:         enums.HistoryActionGracePeriod,
		ToStatus:       &to,
		ActorKind:      "scheduler",
		CreatedAt:      time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}}, nil
}

func (s *stubCanceller) Cancel(_ context.Context, input subscriptions.CancelInput) (*models.OrganizationSubscription, error) {
	s.last = input
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return &models.OrganizationSubscription{
		ID:             uuid.New(),
		OrganizationID: input.OrganizationID,
		Status:         enums.SubscriptionStatusCancelled,
		CancelledAt:    &now,
	}, nil
}

type harness struct {
	handler   http.Handler
	usage     *stubUsage
	quotes    *stubQuotes
	canceller *stubCanceller
	org       uuid.UUID
}

func newHarness(t *testing.T, store redis.IdempotencyStore, health map[string]controllers.Pinger) *harness {
	t.Helper()
	graph, err := features.NewGraph(features.DefaultDefinitions())
	require.NoError(t, err)
	h := &harness{usage: &stubUsage{}, quotes: &stubQuotes{}, canceller: &stubCanceller{}, org: uuid.New()}
	h.handler = NewRouter(Dependencies{
		Env:         "test",
		CORSOrigins: []string{"http://localhost:3000"},
		Logger:      logger.New(logger.Options{ServiceName: "api-test", Output: io.Discard}),
		Health:      health,
		Idempotency: store,
		Gatherer:    prometheus.NewRegistry(),
		Plans: stubPlans{plans: []models.SubscriptionPlan{{
			Slug:          "pro",
			Name:          "Pro",
			BillingPeriod: enums.BillingPeriodYearly,
			Features:      []models.PlanFeature{{FeatureKey: "students", IsEnabled: true}, {FeatureKey: "finance"}},
			Limits:        []models.PlanLimit{{ResourceKey: "students", LimitValue: 100, WarningThreshold: 80}},
		}}},
		Quotes:        h.quotes,
		Features:      graph,
		Gate:          stubGate{},
		Usage:         h.usage,
		Subscriptions: h.canceller,
	})
	return h
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) orgPath(suffix string) string {
	return "/api/v1/organizations/" + h.org.String() + suffix
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestHealthRoutes(t *testing.T) {
	h := newHarness(t, nil, map[string]controllers.Pinger{"db": stubPinger{}, "redis": stubPinger{}})
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health/live", "", nil).Code)
	rec := h.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Entitlements-Env"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	down := newHarness(t, nil, map[string]controllers.Pinger{"db": stubPinger{err: errors.New("refused")}})
	rec = down.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeDependency), errorCode(t, rec))
}

func TestPlanRoutes(t *testing.T) {
	h := newHarness(t, nil, nil)

	rec := h.do(http.MethodGet, "/api/v1/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plans []struct {
		Slug       string   `json:"slug"`
		PeriodDays *int     `json:"period_days"`
		Features   []string `json:"features"`
	}
	decodeData(t, rec, &plans)
	require.Len(t, plans, 1)
	assert.Equal(t, []string{"students"}, plans[0].Features)
	require.NotNil(t, plans[0].PeriodDays)
	assert.Equal(t, 365, *plans[0].PeriodDays)

	rec = h.do(http.MethodGet, "/api/v1/plans/pro/quote?currency=usd&schools=3&renewal=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.QuoteParams{PlanSlug: "pro", Currency: "usd", SchoolCount: 3, Renewal: true}, h.quotes.last)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/plans/pro/quote?schools=0", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/plans/pro/quote?renewal=maybe", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/plans/missing/quote", "", nil).Code)
}

func TestFeatureRoutes(t *testing.T) {
	h := newHarness(t, nil, nil)

	rec := h.do(http.MethodGet, "/api/v1/features/question_bank/dependencies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deps struct {
		Dependencies []string `json:"dependencies"`
		Transitive   []string `json:"transitive"`
	}
	decodeData(t, rec, &deps)
	assert.Equal(t, []string{"exams_full", "subjects"}, deps.Dependencies)
	assert.Contains(t, deps.Transitive, "students")

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/features/teleport/dependencies", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, h.orgPath("/features/students"), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, h.orgPath("/features/teleport"), "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, h.orgPath("/features"), "", nil).Code)

	rec = h.do(http.MethodGet, h.orgPath("/access"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var access featuregate.AccessSummary
	decodeData(t, rec, &access)
	assert.Equal(t, h.org, access.OrganizationID)
}

func TestOrganizationIDIsValidated(t *testing.T) {
	h := newHarness(t, nil, nil)
	rec := h.do(http.MethodGet, "/api/v1/organizations/not-a-uuid/access", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))
}

func TestUsageRoutes(t *testing.T) {
	h := newHarness(t, nil, nil)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, h.orgPath("/limits/students"), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, h.orgPath("/limits/spaceships"), "", nil).Code)

	rec := h.do(http.MethodGet, h.orgPath("/usage/students"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var check usage.UsageCheck
	decodeData(t, rec, &check)
	assert.True(t, check.Allowed)
	assert.True(t, check.Warning)

	rec = h.do(http.MethodGet, h.orgPath("/usage?warnings=true"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	rec = h.do(http.MethodPost, h.orgPath("/usage/students/delta"), `{"delta":-2}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, h.usage.deltas, 1)
	assert.Equal(t, deltaCall{org: h.org, key: "students", delta: -2}, h.usage.deltas[0])

	rec = h.do(http.MethodPost, h.orgPath("/usage/students/delta"), `{"delta":0}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLimitOverrideRoutes(t *testing.T) {
	h := newHarness(t, nil, nil)

	rec := h.do(http.MethodPut, h.orgPath("/limit-overrides/students"), `{"limit":-1,"reason":"  pilot school  "}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.usage.overrides, 1)
	assert.Equal(t, int64(-1), h.usage.overrides[0].LimitValue)
	assert.Equal(t, "pilot school", h.usage.overrides[0].Reason)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, h.orgPath("/limit-overrides/students"), `{"limit":-5}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, h.orgPath("/limit-overrides/students"), `{"reason":"x"}`, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, h.orgPath("/limit-overrides/students"), "", nil).Code)
}

func TestCancelSubscriptionReplaysWithIdempotencyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	h := newHarness(t, redis.FromClient(raw), nil)

	rec := h.do(http.MethodPost, h.orgPath("/subscription/cancel"), `{"reason":"closed"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "idempotency key is required")

	headers := map[string]string{"Idempotency-Key": "cancel-1"}
	first := h.do(http.MethodPost, h.orgPath("/subscription/cancel"), `{"reason":"closed","operator_id":"ops-7"}`, headers)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, h.org, h.canceller.last.OrganizationID)
	require.NotNil(t, h.canceller.last.Actor)
	assert.Equal(t, "ops-7", h.canceller.last.Actor.ID)
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 7*24*time.Hour, mr.TTL(keys[0]))

	h.canceller.last = subscriptions.CancelInput{}
	replay := h.do(http.MethodPost, h.orgPath("/subscription/cancel"), `{"reason":"closed","operator_id":"ops-7"}`, headers)
	assert.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, uuid.Nil, h.canceller.last.OrganizationID, "replayed without calling the service")
}

func TestUsageDeltaStatusesBehindIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = raw.Close() })
	h := newHarness(t, redis.FromClient(raw), nil)
	path := h.orgPath("/usage/students/delta")

	rec := h.do(http.MethodPost, path, `{"delta":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, path, `{"delta":1}`, map[string]string{"Idempotency-Key": "delta-1"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	mr.Close()
	rec = h.do(http.MethodPost, path, `{"delta":1}`, map[string]string{"Idempotency-Key": "delta-2"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DEPENDENCY_ERROR", errorCode(t, rec))
	assert.Len(t, h.usage.deltas, 1, "the delta is not applied when the key cannot be reserved")
}

func TestSubscriptionHistoryRoute(t *testing.T) {
	h := newHarness(t, nil, nil)

	rec := h.do(http.MethodGet, h.orgPath("/subscription/history"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, h.canceller.historyLimit)
	var entries []struct {
		Action    string `json:"action"`
		ToStatus  string `json:"to_status"`
		ActorKind string `json:"actor_kind"`
	}
	decodeData(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "grace_period", entries[0].Action)
	assert.Equal(t, "grace", entries[0].ToStatus)
	assert.Equal(t, "scheduler", entries[0].ActorKind)

	rec = h.do(http.MethodGet, h.orgPath("/subscription/history?limit=5"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, h.canceller.historyLimit)

	rec = h.do(http.MethodGet, h.orgPath("/subscription/history?limit=500"), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/metrics", "", nil).Code)
}
