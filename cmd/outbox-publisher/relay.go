package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackPoll        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	publishTimeout      = 15 * time.Second
	maxIdleBackoff      = 10 * time.Second
	pollJitter          = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type router interface {
	Decode(models.OutboxEvent) (*registry.Decoded, error)
}

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	Topics      topicSource
	Rows        outboxRows
	DeadLetters deadLetters
	Routes      router
	Metrics     *metrics.NotificationMetrics
	// PublisherFor overrides how a topic name becomes a publisher.
	PublisherFor func(topic string) topicPublisher
	Now          func() time.Time
}

// Relay drains the outbox into Pub/Sub so subscription notifications leave
// the database only after the transition that produced them committed.
type Relay struct {
	logg         *logger.Logger
	db           txRunner
	topics       topicSource
	rows         outboxRows
	deadLetters  deadLetters
	routes       router
	metrics      *metrics.NotificationMetrics
	publisherFor func(topic string) topicPublisher
	now          func() time.Time

	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Topics == nil:
		return nil, errors.New("pubsub client is required")
	case params.Rows == nil:
		return nil, errors.New("outbox repository is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter repository is required")
	case params.Routes == nil:
		return nil, errors.New("event routes are required")
	}

	r := &Relay{
		logg:         params.Logger,
		db:           params.DB,
		topics:       params.Topics,
		rows:         params.Rows,
		deadLetters:  params.DeadLetters,
		routes:       params.Routes,
		metrics:      params.Metrics,
		publisherFor: params.PublisherFor,
		now:          params.Now,
		batchSize:    positiveOr(params.Outbox.BatchSize, fallbackBatchSize),
		maxAttempts:  positiveOr(params.Outbox.MaxAttempts, fallbackMaxAttempts),
		poll:         time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if r.poll <= 0 {
		r.poll = fallbackPoll
	}
	if r.publisherFor == nil {
		r.publisherFor = func(topic string) topicPublisher {
			return wrapPublisher(params.Topics.Publisher(topic))
		}
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r, nil
}

// Run polls until ctx is cancelled. A non-empty batch is followed
// immediately by the next poll; errors back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": r.db.Ping,
		"pubsub":   r.topics.Ping,
	} {
		if err := ping(ctx); err != nil {
			r.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := r.poll
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "notification relay stopping")
			return err
		}

		handled, err := r.drainOnce(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "notification relay batch failed", err)
			wait = nextBackoff(wait, r.poll, maxIdleBackoff)
		case handled > 0:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}

		if err := sleepCtx(ctx, wait+jitter()); err != nil {
			return err
		}
	}
}

// drainOnce publishes one locked batch and settles every row in the same
// transaction that fetched it.
func (r *Relay) drainOnce(ctx context.Context) (int, error) {
	handled := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.rows.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := r.settle(ctx, tx, row, r.dispatch(ctx, row)); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < ceiling {
		return next
	}
	return ceiling
}

func jitter() time.Duration {
	return rand.N(pollJitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
