package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

// CountSource returns the authoritative number of units an organization holds.
type CountSource interface {
	Count(ctx context.Context, organizationID uuid.UUID, res Resource) (int64, error)
}

// TableCounter counts rows in the resource's own table.
type TableCounter struct {
	db *gorm.DB
}

// NewTableCounter returns a count source reading the counted domain's tables.
func NewTableCounter(db *gorm.DB) *TableCounter {
	return &TableCounter{db: db}
}

func (c *TableCounter) Count(ctx context.Context, organizationID uuid.UUID, res Resource) (int64, error) {
	if !res.Counted() {
		return 0, fmt.Errorf("resource %q has no counted table", res.Key)
	}
	query := c.db.WithContext(ctx).Table(res.Table).Where("organization_id = ?", organizationID)
	if res.Filter != "" {
		query = query.Where(res.Filter, res.FilterArgs...)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

type organizationLister interface {
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

// RecalculatorParams groups the recalculator's collaborators.
type RecalculatorParams struct {
	Registry      *Registry
	Organizations organizationLister
	Counters      CounterRepository
	Source        CountSource
	Logger        *logger.Logger
	Metrics       *metrics.EntitlementMetrics
	Workers       int
	Now           func() time.Time
}

// Recalculator rewrites cached counters from authoritative counts.
type Recalculator struct {
	registry *Registry
	orgs     organizationLister
	counters CounterRepository
	source   CountSource
	logg     *logger.Logger
	metrics  *metrics.EntitlementMetrics
	workers  int
	now      func() time.Time
}

// RecalcResult summarises one recalculation sweep.
type RecalcResult struct {
	Organizations int
	Counters      int
	Adjusted      int
	Failed        int
}

// NewRecalculator builds a recalculator.
func NewRecalculator(params RecalculatorParams) (*Recalculator, error) {
	switch {
	case params.Registry == nil:
		return nil, errors.New("resource registry required")
	case params.Organizations == nil:
		return nil, errors.New("organization lister required")
	case params.Counters == nil:
		return nil, errors.New("counter repository required")
	case params.Source == nil:
		return nil, errors.New("count source required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	workers := params.Workers
	if workers <= 0 {
		workers = 1
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Recalculator{
		registry: params.Registry,
		orgs:     params.Organizations,
		counters: params.Counters,
		source:   params.Source,
		logg:     params.Logger,
		metrics:  params.Metrics,
		workers:  workers,
		now:      now,
	}, nil
}

// RecalculateAll recounts every counted resource of every organization and
// overwrites the cache. Organizations are processed in parallel; one
// organization failing does not stop the others.
func (r *Recalculator) RecalculateAll(ctx context.Context) (RecalcResult, error) {
	ids, err := r.orgs.ListIDs(ctx)
	if err != nil {
		return RecalcResult{}, fmt.Errorf("list organizations: %w", err)
	}
	now := r.now().UTC()

	var (
		mu     sync.Mutex
		result = RecalcResult{Organizations: len(ids)}
		errs   error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)
	for _, id := range ids {
		group.Go(func() error {
			written, adjusted, err := r.recalculate(groupCtx, id, now)
			mu.Lock()
			defer mu.Unlock()
			result.Counters += len(written)
			result.Adjusted += adjusted
			if err != nil {
				result.Failed++
				errs = multierr.Append(errs, fmt.Errorf("organization %s: %w", id, err))
			}
			return nil
		})
	}
	_ = group.Wait()

	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"organizations": result.Organizations,
		"counters":      result.Counters,
		"adjusted":      result.Adjusted,
		"failed":        result.Failed,
	}), "usage recalculation finished")
	return result, errs
}

// RecalculateOrganization recounts one organization and returns the new
// counts by resource key.
func (r *Recalculator) RecalculateOrganization(ctx context.Context, organizationID uuid.UUID) (map[string]int64, error) {
	written, _, err := r.recalculate(ctx, organizationID, r.now().UTC())
	return written, err
}

func (r *Recalculator) recalculate(ctx context.Context, organizationID uuid.UUID, now time.Time) (map[string]int64, int, error) {
	logCtx := r.logg.WithOrganizationID(ctx, organizationID.String())
	written := make(map[string]int64)
	adjusted := 0
	var errs error
	for _, res := range r.registry.Resources() {
		if !res.Counted() {
			if res.Reset == ResetNever {
				continue
			}
			count, rolled, err := r.rollover(ctx, organizationID, res, now)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("reset counter %s: %w", res.Key, err))
				continue
			}
			if rolled {
				written[res.Key] = count
				adjusted++
				r.logg.Info(r.logg.WithFields(logCtx, map[string]any{
					"resource_key": res.Key,
					"count":        count,
				}), "usage period rolled over")
			}
			continue
		}
		count, err := r.source.Count(ctx, organizationID, res)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("count %s: %w", res.Key, err))
			continue
		}
		previous, err := r.counters.Get(ctx, organizationID, res.Key)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read counter %s: %w", res.Key, err))
			continue
		}
		if err := r.counters.Upsert(ctx, models.UsageCounter{
			OrganizationID: organizationID,
			ResourceKey:    res.Key,
			CurrentCount:   count,
			UpdatedAt:      now,
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("write counter %s: %w", res.Key, err))
			continue
		}
		written[res.Key] = count

		var cached int64
		if previous != nil {
			cached = previous.CurrentCount
		}
		if drift := count - cached; drift != 0 || previous == nil {
			adjusted++
			r.metrics.ObserveAdjustment(res.Key, drift)
			r.logg.Info(r.logg.WithFields(logCtx, map[string]any{
				"resource_key": res.Key,
				"cached":       cached,
				"counted":      count,
				"drift":        drift,
			}), "usage counter adjusted")
		}
	}
	return written, adjusted, errs
}

// rollover moves a resettable counter into the current window. A counter
// from an ended period restarts at zero; one written before windows existed
// keeps its count. Counters already in the current window are left alone.
func (r *Recalculator) rollover(ctx context.Context, organizationID uuid.UUID, res Resource, now time.Time) (int64, bool, error) {
	counter, err := r.counters.Get(ctx, organizationID, res.Key)
	if err != nil || counter == nil {
		return 0, false, err
	}
	if counter.PeriodEnd != nil && !counter.StaleAt(now) {
		return counter.CurrentCount, false, nil
	}
	start, end, _ := res.Window(now)
	count := liveCount(counter, now)
	err = r.counters.Upsert(ctx, models.UsageCounter{
		OrganizationID: organizationID,
		ResourceKey:    res.Key,
		CurrentCount:   count,
		PeriodStart:    &start,
		PeriodEnd:      &end,
		UpdatedAt:      now,
	})
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}
