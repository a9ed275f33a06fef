package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/entitlements-backend/internal/cron"
	"github.com/angelmondragon/entitlements-backend/internal/organizations"
	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/internal/platform"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

const lockNameFormat = "cron-worker:%s:%s"

func main() {
	platform.Main("cron-worker", work)
}

func work(ctx context.Context, rt *platform.Runtime) error {
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	cfg := rt.Config
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	entitlementMetrics := metrics.NewEntitlementMetrics(prometheus.DefaultRegisterer)

	lifecycle, err := newLifecycleService(cfg, rt.Logger, rt.DB, redisClient, cronMetrics, entitlementMetrics)
	if err != nil {
		return fmt.Errorf("lifecycle schedule: %w", err)
	}
	recalculation, err := newUsageService(cfg, rt.Logger, rt.DB, redisClient, cronMetrics, entitlementMetrics)
	if err != nil {
		return fmt.Errorf("usage schedule: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return lifecycle.Run(groupCtx) })
	group.Go(func() error { return recalculation.Run(groupCtx) })
	if cfg.App.MetricsPort != "" {
		group.Go(func() error { return metrics.Serve(groupCtx, ":"+cfg.App.MetricsPort, prometheus.DefaultGatherer) })
	}
	return group.Wait()
}

// newLifecycleService runs the daily subscription sweep, the reminders and
// the outbox purge under one lock.
func newLifecycleService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, cronMetrics *metrics.CronJobMetrics, entitlementMetrics *metrics.EntitlementMetrics) (*cron.Service, error) {
	catalog, err := plans.NewCatalog(plans.CatalogParams{
		Repo:      plans.NewRepository(dbClient.DB()),
		CacheSize: cfg.Entitlements.PlanCacheSize,
		CacheTTL:  cfg.Entitlements.PlanCacheTTL,
		Metrics:   entitlementMetrics,
	})
	if err != nil {
		return nil, err
	}
	outboxRepo := outbox.NewRepository(dbClient.DB())
	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(dbClient.DB()),
		Plans:             catalog,
		TransactionRunner: dbClient,
		Outbox:            outbox.NewService(outboxRepo, logg),
		Logger:            logg,
		Metrics:           entitlementMetrics,
		Workers:           cfg.Cron.Workers,
		Reminders: &subscriptions.ReminderSchedule{
			Renewal: cfg.Entitlements.RenewalReminderDays,
			Trial:   cfg.Entitlements.TrialReminderDays,
			Grace:   cfg.Entitlements.GraceReminderDays,
		},
	})
	if err != nil {
		return nil, err
	}

	lifecycleJob, err := cron.NewSubscriptionLifecycleJob(cron.SubscriptionLifecycleJobParams{
		Logger:        logg,
		Subscriptions: subscriptionService,
	})
	if err != nil {
		return nil, err
	}
	reminderJob, err := cron.NewSubscriptionReminderJob(cron.SubscriptionReminderJobParams{
		Logger:        logg,
		Subscriptions: subscriptionService,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   cfg.Outbox.Retention,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env, cron.SubscriptionLifecycleJobName)), cfg.Cron.LifecycleLockTTL)
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Name:       cron.SubscriptionLifecycleJobName,
		Logger:     logg,
		Jobs:       []cron.Job{lifecycleJob, reminderJob, retentionJob},
		Lock:       lock,
		Metrics:    cronMetrics,
		Schedule:   cfg.Cron.LifecycleSchedule,
		RunOnStart: cfg.Cron.RunOnStart,
	})
}

func newUsageService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, cronMetrics *metrics.CronJobMetrics, entitlementMetrics *metrics.EntitlementMetrics) (*cron.Service, error) {
	registry, err := usage.NewRegistry(usage.DefaultResources()...)
	if err != nil {
		return nil, err
	}
	recalculator, err := usage.NewRecalculator(usage.RecalculatorParams{
		Registry:      registry,
		Organizations: organizations.NewRepository(dbClient.DB()),
		Counters:      usage.NewCounterRepository(dbClient.DB()),
		Source:        usage.NewTableCounter(dbClient.DB()),
		Logger:        logg,
		Metrics:       entitlementMetrics,
		Workers:       cfg.Cron.Workers,
	})
	if err != nil {
		return nil, err
	}
	job, err := cron.NewUsageRecalculationJob(cron.UsageRecalculationJobParams{
		Logger:       logg,
		Recalculator: recalculator,
	})
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env, cron.UsageRecalculationJobName)), cfg.Cron.UsageLockTTL)
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Name:       cron.UsageRecalculationJobName,
		Logger:     logg,
		Jobs:       []cron.Job{job},
		Lock:       lock,
		Metrics:    cronMetrics,
		Schedule:   cfg.Cron.UsageSchedule,
		RunOnStart: cfg.Cron.RunOnStart,
	})
}

func lockName(env, job string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockNameFormat, env, job)
}
