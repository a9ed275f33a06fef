package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/registry"
)

var relayNow = time.Date(2026, 4, 1, 2, 0, 5, 0, time.UTC)

func TestDrainContinuesPastTransientFailure(t *testing.T) {
	rows := &fakeRows{events: []models.OutboxEvent{
		transitionRow(t, enums.EventSubscriptionGraceStarted, 0),
		transitionRow(t, enums.EventSubscriptionExpired, 0),
	}}
	pub := &scriptedPublisher{errs: []error{errors.New("unavailable"), nil}}
	relay, _ := newTestRelay(t, rows, pub, config.OutboxConfig{MaxAttempts: 5})

	handled, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, []uuid.UUID{rows.events[0].ID}, rows.failed)
	assert.Equal(t, []uuid.UUID{rows.events[1].ID}, rows.published)
	assert.Empty(t, rows.terminal)
}

func TestPublishedMessageCarriesSubscriptionAttributes(t *testing.T) {
	orgID := uuid.New()
	row := subscriptionEventRow(t, enums.EventSubscriptionGraceStarted, &payloads.SubscriptionTransitionEvent{
		OrganizationID: orgID,
		PlanSlug:       "standard",
		From:           enums.SubscriptionStatusActive,
		To:             enums.SubscriptionStatusGrace,
	}, 0)
	rows := &fakeRows{events: []models.OutboxEvent{row}}
	pub := &scriptedPublisher{}
	relay, reg := newTestRelay(t, rows, pub, config.OutboxConfig{})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)

	attrs := pub.messages[0].Attributes
	assert.Equal(t, orgID.String(), attrs["organization_id"])
	assert.Equal(t, row.AggregateID.String(), attrs["aggregate_id"])
	assert.Equal(t, string(enums.AggregateSubscription), attrs["aggregate_type"])
	assert.Equal(t, string(enums.EventSubscriptionGraceStarted), attrs["event_type"])
	assert.Equal(t, "grace", attrs["to_status"])
	assert.Equal(t, "standard", attrs["plan_slug"])
	assert.JSONEq(t, string(row.Payload), string(pub.messages[0].Data))

	assert.Equal(t, 1.0, deliveries(t, reg, string(enums.EventSubscriptionGraceStarted), metrics.OutcomePublished))
}

func TestUndecodableRowIsDeadLettered(t *testing.T) {
	row := transitionRow(t, enums.EventSubscriptionExpired, 0)
	row.Payload = json.RawMessage(`{"data":null}`)
	rows := &fakeRows{events: []models.OutboxEvent{row}}
	pub := &scriptedPublisher{}
	relay, _ := newTestRelay(t, rows, pub, config.OutboxConfig{})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pub.messages)
	require.Len(t, rows.dead, 1)
	entry := rows.dead[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.JSONEq(t, string(row.Payload), string(entry.Payload))
	assert.True(t, entry.FailedAt.Equal(relayNow))
	assert.Equal(t, []uuid.UUID{row.ID}, rows.terminal)
}

func TestMissingPublisherIsPermanent(t *testing.T) {
	rows := &fakeRows{events: []models.OutboxEvent{transitionRow(t, enums.EventSubscriptionExpired, 0)}}
	relay, _ := newTestRelay(t, rows, nil, config.OutboxConfig{})
	relay.publisherFor = func(string) topicPublisher { return nil }

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, rows.dead, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, rows.dead[0].ErrorReason)
}

func TestLastAttemptIsDeadLettered(t *testing.T) {
	rows := &fakeRows{events: []models.OutboxEvent{transitionRow(t, enums.EventSubscriptionExpired, 2)}}
	pub := &scriptedPublisher{errs: []error{errors.New("deadline exceeded")}}
	relay, reg := newTestRelay(t, rows, pub, config.OutboxConfig{MaxAttempts: 3})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows.failed)
	require.Len(t, rows.dead, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, rows.dead[0].ErrorReason)
	require.NotNil(t, rows.dead[0].ErrorMessage)
	assert.Contains(t, *rows.dead[0].ErrorMessage, "gave up after 3 attempts")
	assert.Equal(t, 1.0, deliveries(t, reg, string(enums.EventSubscriptionExpired), metrics.OutcomeDeadLettered))
}

func TestDrainPropagatesSettleFailure(t *testing.T) {
	rows := &fakeRows{
		events:     []models.OutboxEvent{transitionRow(t, enums.EventSubscriptionExpired, 0)},
		publishErr: errors.New("connection reset"),
	}
	relay, _ := newTestRelay(t, rows, &scriptedPublisher{}, config.OutboxConfig{})

	_, err := relay.drainOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestNextBackoffDoublesUpToCeiling(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, time.Second, nextBackoff(0, base, maxIdleBackoff))
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, base, maxIdleBackoff))
	assert.Equal(t, maxIdleBackoff, nextBackoff(8*time.Second, base, maxIdleBackoff))
}

func TestRunStopsWhenPingFails(t *testing.T) {
	relay, _ := newTestRelay(t, &fakeRows{}, &scriptedPublisher{}, config.OutboxConfig{})
	relay.topics = fakeTopics{err: errors.New("permission denied")}
	err := relay.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub ping failed")
}

func TestRunReturnsOnCancel(t *testing.T) {
	relay, _ := newTestRelay(t, &fakeRows{}, &scriptedPublisher{}, config.OutboxConfig{PollIntervalMS: 5})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, relay.Run(ctx), context.DeadlineExceeded)
}

func TestNewRelayRequiresCollaborators(t *testing.T) {
	_, err := NewRelay(RelayParams{})
	require.Error(t, err)
}

func newTestRelay(t *testing.T, rows *fakeRows, pub topicPublisher, cfg config.OutboxConfig) (*Relay, *prometheus.Registry) {
	t.Helper()
	routes, err := registry.NewRoutes(config.PubSubConfig{NotificationTopic: "notifications"})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	relay, err := NewRelay(RelayParams{
		Outbox:       cfg,
		Logger:       logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard}),
		DB:           fakeDB{},
		Topics:       fakeTopics{},
		Rows:         rows,
		DeadLetters:  rows,
		Routes:       routes,
		Metrics:      metrics.NewNotificationMetrics(reg),
		PublisherFor: func(string) topicPublisher { return pub },
		Now:          func() time.Time { return relayNow },
	})
	require.NoError(t, err)
	return relay, reg
}

func deliveries(t *testing.T, reg *prometheus.Registry, eventType, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "entitlements_notification_deliveries_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["event_type"] == eventType && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("no delivery series for %s/%s", eventType, outcome)
	return 0
}

func transitionRow(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	return subscriptionEventRow(t, eventType, &payloads.SubscriptionTransitionEvent{OrganizationID: uuid.New()}, attempts)
}

func subscriptionEventRow(t *testing.T, eventType enums.OutboxEventType, body any, attempts int) models.OutboxEvent {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: relayNow.Add(-5 * time.Second),
		Data:       data,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   uuid.New(),
		Payload:       envelope,
		AttemptCount:  attempts,
		CreatedAt:     relayNow.Add(-5 * time.Second),
	}
}

type fakeRows struct {
	events     []models.OutboxEvent
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   []uuid.UUID
	dead       []models.OutboxDLQ
	publishErr error
}

func (f *fakeRows) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRows) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRows) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRows) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

func (f *fakeRows) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.dead = append(f.dead, entry)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakeTopics struct {
	err error
}

func (f fakeTopics) Ping(context.Context) error { return f.err }

func (fakeTopics) Publisher(string) *gcppubsub.Publisher { return nil }

// scriptedPublisher records every message and fails according to errs, in
// order; once errs is exhausted every publish succeeds.
type scriptedPublisher struct {
	errs     []error
	messages []*gcppubsub.Message
}

func (p *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	return staticResult{err: err}
}

type staticResult struct {
	err error
}

func (r staticResult) Get(context.Context) (string, error) { return "server-id", r.err }
