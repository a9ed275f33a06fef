package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const SubscriptionReminderJobName = "subscription-reminders"

type reminderSender interface {
	SendReminders(ctx context.Context) (subscriptions.ReminderResult, error)
}

type SubscriptionReminderJobParams struct {
	Logger        *logger.Logger
	Subscriptions reminderSender
}

// NewSubscriptionReminderJob queues the renewal, trial and grace reminders
// whose window has opened.
func NewSubscriptionReminderJob(params SubscriptionReminderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	return &subscriptionReminderJob{logg: params.Logger, subs: params.Subscriptions}, nil
}

type subscriptionReminderJob struct {
	logg *logger.Logger
	subs reminderSender
}

func (j *subscriptionReminderJob) Name() string { return SubscriptionReminderJobName }

func (j *subscriptionReminderJob) Run(ctx context.Context) error {
	result, err := j.subs.SendReminders(ctx)
	if err != nil {
		return fmt.Errorf("subscription reminders: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"emitted":    result.Emitted,
		"duplicates": result.Duplicates,
	}), "subscription reminders complete")
	return nil
}
