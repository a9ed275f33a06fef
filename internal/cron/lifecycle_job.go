package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const SubscriptionLifecycleJobName = "subscription-lifecycle"

type transitionProcessor interface {
	ProcessTransitions(ctx context.Context) (subscriptions.SweepResult, error)
}

// SubscriptionLifecycleJobParams configures the daily lifecycle sweep.
type SubscriptionLifecycleJobParams struct {
	Logger        *logger.Logger
	Subscriptions transitionProcessor
}

// NewSubscriptionLifecycleJob advances every subscription whose current
// lifecycle window has elapsed.
func NewSubscriptionLifecycleJob(params SubscriptionLifecycleJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	return &subscriptionLifecycleJob{logg: params.Logger, subs: params.Subscriptions}, nil
}

type subscriptionLifecycleJob struct {
	logg *logger.Logger
	subs transitionProcessor
}

func (j *subscriptionLifecycleJob) Name() string { return SubscriptionLifecycleJobName }

func (j *subscriptionLifecycleJob) Run(ctx context.Context) error {
	result, err := j.subs.ProcessTransitions(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":     result.Scanned,
		"transitions": result.Transitions,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
	})
	if err != nil {
		// per-subscription failures are already logged; surface the aggregate
		return fmt.Errorf("subscription lifecycle: %w", err)
	}
	j.logg.Info(logCtx, "subscription lifecycle sweep complete")
	return nil
}
