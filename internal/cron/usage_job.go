package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const UsageRecalculationJobName = "usage-recalculate"

type usageRecalculator interface {
	RecalculateAll(ctx context.Context) (usage.RecalcResult, error)
}

type UsageRecalculationJobParams struct {
	Logger       *logger.Logger
	Recalculator usageRecalculator
}

// NewUsageRecalculationJob rebuilds every cached usage counter from the
// counted tables.
func NewUsageRecalculationJob(params UsageRecalculationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Recalculator == nil {
		return nil, fmt.Errorf("usage recalculator required")
	}
	return &usageRecalculationJob{logg: params.Logger, recalc: params.Recalculator}, nil
}

type usageRecalculationJob struct {
	logg   *logger.Logger
	recalc usageRecalculator
}

func (j *usageRecalculationJob) Name() string { return UsageRecalculationJobName }

func (j *usageRecalculationJob) Run(ctx context.Context) error {
	result, err := j.recalc.RecalculateAll(ctx)
	if err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "failed_organizations", result.Failed), "usage recalculation finished with failures")
		return fmt.Errorf("usage recalculation: %w", err)
	}
	return nil
}
