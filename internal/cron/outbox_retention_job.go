package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const OutboxRetentionJobName = "outbox-retention"

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultMinAttempts     = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// OutboxRetentionJobParams configure the purge that follows each lifecycle
// sweep. Rows that exhausted MinAttempts count as settled: the dead-letter
// table keeps a copy for replay.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPurger
	Retention   time.Duration
	MinAttempts int
	Now         func() time.Time
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxPurger
	retention   time.Duration
	minAttempts int
	now         func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   params.Retention,
		minAttempts: params.MinAttempts,
		now:         params.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.minAttempts <= 0 {
		job.minAttempts = defaultMinAttempts
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		deleted, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts)
		return err
	})
	if err != nil {
		return fmt.Errorf("purge outbox before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "outbox purge complete")
	return nil
}
