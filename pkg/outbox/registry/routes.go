// Package registry decides where each outbox row is published and decodes it
// into the notification the relay sends.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// Route binds one event type to its topic and payload shape.
type Route struct {
	EventType enums.OutboxEventType
	Aggregate enums.OutboxAggregateType
	Topic     string
	newBody   func() payloads.Notification
}

// Decoded is an outbox row ready to publish.
type Decoded struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Body     payloads.Notification
}

// PermanentError marks a row that will never publish no matter how often it
// is retried.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent publish failure"
	}
	return e.Err.Error()
}

func (e PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	return PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var perm PermanentError
	return errors.As(err, &perm)
}

// Routes resolves subscription, reminder and usage-limit events. All of them
// go to the notification topic.
type Routes struct {
	byType map[enums.OutboxEventType]Route
}

func NewRoutes(cfg config.PubSubConfig) (*Routes, error) {
	if cfg.NotificationTopic == "" {
		return nil, errors.New("notification topic is required")
	}
	transition := func() payloads.Notification { return &payloads.SubscriptionTransitionEvent{} }
	reminder := func() payloads.Notification { return &payloads.SubscriptionReminderEvent{} }
	usageLimit := func() payloads.Notification { return &payloads.UsageLimitEvent{} }
	routes := []Route{
		{EventType: enums.EventSubscriptionGraceStarted, newBody: transition},
		{EventType: enums.EventSubscriptionReadonlyStarted, newBody: transition},
		{EventType: enums.EventSubscriptionExpired, newBody: transition},
		{EventType: enums.EventSubscriptionTrialExpired, newBody: transition},
		{EventType: enums.EventSubscriptionCancelled, newBody: func() payloads.Notification { return &payloads.SubscriptionCancelledEvent{} }},
		{EventType: enums.EventSubscriptionActivated, newBody: func() payloads.Notification { return &payloads.SubscriptionActivatedEvent{} }},
		{EventType: enums.EventSubscriptionRenewalReminder, Aggregate: enums.AggregateReminder, newBody: reminder},
		{EventType: enums.EventSubscriptionTrialEnding, Aggregate: enums.AggregateReminder, newBody: reminder},
		{EventType: enums.EventSubscriptionGraceEnding, Aggregate: enums.AggregateReminder, newBody: reminder},
		{EventType: enums.EventUsageLimitWarning, Aggregate: enums.AggregateUsageLimit, newBody: usageLimit},
		{EventType: enums.EventUsageLimitReached, Aggregate: enums.AggregateUsageLimit, newBody: usageLimit},
	}

	r := &Routes{byType: make(map[enums.OutboxEventType]Route, len(routes))}
	for _, route := range routes {
		route.Topic = cfg.NotificationTopic
		if route.Aggregate == "" {
			route.Aggregate = enums.AggregateSubscription
		}
		r.byType[route.EventType] = route
	}
	return r, nil
}

// Decode validates the row and unpacks its envelope. Every error it returns
// is permanent.
func (r *Routes) Decode(row models.OutboxEvent) (*Decoded, error) {
	route, ok := r.byType[row.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("no route for event type %s", row.EventType))
	}
	if row.AggregateType != route.Aggregate {
		return nil, Permanent(fmt.Errorf("event %s recorded against %s, not %s", row.EventType, row.AggregateType, route.Aggregate))
	}
	if row.AggregateID == uuid.Nil {
		return nil, Permanent(errors.New("row has no aggregate id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return nil, Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Permanent(fmt.Errorf("%s envelope carries no data", row.EventType))
	}

	body := route.newBody()
	if err := json.Unmarshal(data, body); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s body: %w", row.EventType, err))
	}
	return &Decoded{Route: route, Envelope: envelope, Body: body}, nil
}
