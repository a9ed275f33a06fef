package cron

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

type fakeLock struct {
	acquired bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type countingJob struct {
	name string
	runs atomic.Int32
}

func (c *countingJob) Name() string { return c.name }

func (c *countingJob) Run(context.Context) error {
	c.runs.Add(1)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestServiceRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:  testLogger(),
		Jobs:    []Job{success, nil, failure},
		Lock:    &fakeLock{},
		Metrics: metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job to run once, got %d and %d", success.runs, failure.runs)
	}
	if n, err := testutil.GatherAndCount(reg, "entitlements_job_runs_total"); err != nil || n != 2 {
		t.Fatalf("expected a success and a failure series, got %d (%v)", n, err)
	}
}

func TestServiceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: UsageRecalculationJobName}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Jobs:     []Job{job},
		Lock:     &fakeLock{acquired: true},
		Metrics:  metrics.NewCronJobMetrics(reg),
		Schedule: "*/15 * * * *",
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job ran without the lock")
	}
	if n, err := testutil.GatherAndCount(reg, "entitlements_job_runs_total"); err != nil || n != 1 {
		t.Fatalf("expected skipped counter, got %d series (%v)", n, err)
	}
}

func TestServiceSchedule(t *testing.T) {
	jobs := []Job{&testJob{name: UsageRecalculationJobName}}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Jobs:     jobs,
		Lock:     &fakeLock{},
		Schedule: "*/15 * * * *",
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	at := time.Date(2026, 5, 1, 10, 7, 30, 0, time.UTC)
	if next := service.Next(at); !next.Equal(time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick %s", next)
	}

	daily, err := NewService(ServiceParams{Logger: testLogger(), Jobs: jobs, Lock: &fakeLock{}})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if next := daily.Next(at); !next.Equal(time.Date(2026, 5, 2, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected default tick %s", next)
	}

	if _, err := NewService(ServiceParams{Logger: testLogger(), Jobs: jobs, Lock: &fakeLock{}, Schedule: "every day"}); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
}

func TestNewServiceRequiresJobs(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: testLogger(), Lock: &fakeLock{}, Jobs: []Job{nil}}); err == nil {
		t.Fatal("expected error without jobs")
	}
}

type ctxRecordingLock struct {
	fakeLock
	releaseErr error
}

func (l *ctxRecordingLock) Release(ctx context.Context) error {
	l.releaseErr = ctx.Err()
	return l.fakeLock.Release(ctx)
}

type cancellingJob struct {
	cancel context.CancelFunc
}

func (c cancellingJob) Name() string { return "cancelling" }

func (c cancellingJob) Run(context.Context) error {
	c.cancel()
	return nil
}

func TestLockIsReleasedAfterShutdownMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lock := &ctxRecordingLock{}
	service, err := NewService(ServiceParams{
		Logger: testLogger(),
		Jobs:   []Job{cancellingJob{cancel: cancel}, &testJob{name: "after"}},
		Lock:   lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to stop the run, got %v", err)
	}
	if lock.acquired {
		t.Fatal("lock still held after run")
	}
	if lock.releaseErr != nil {
		t.Fatalf("release saw a cancelled context: %v", lock.releaseErr)
	}
}

func TestServiceRunOnStartAndShutdown(t *testing.T) {
	job := &countingJob{name: SubscriptionLifecycleJobName}
	service, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Jobs:       []Job{job},
		Lock:       &fakeLock{},
		RunOnStart: true,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("job did not run on start")
		default:
		}
		if job.runs.Load() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
