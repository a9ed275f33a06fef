// Package platform boots the pieces every process shares: environment,
// config, logger, database and the optional dev migrations. The binaries
// under cmd/ differ only in what they wire on top.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client

	closers []func() error
}

// Start loads .env and config, builds the service logger and connects to the
// database. On error everything opened so far is closed again.
func Start(ctx context.Context, service string) (*Runtime, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Service.Kind = service

	rt := &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: service,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Console:     cfg.App.LogFormat == "console",
		}),
	}
	rt.DB, err = db.New(ctx, cfg.DB, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt.closers = append(rt.closers, rt.DB.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	return rt, nil
}

// Redis connects the shared Redis client and closes it with the runtime.
func (rt *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	rt.closers = append(rt.closers, client.Close)
	return client, nil
}

// OnClose registers fn to run on Close, before anything registered earlier.
func (rt *Runtime) OnClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}

// Fields are attached to every log line of a process.
func (rt *Runtime) Fields(ctx context.Context) context.Context {
	return rt.Logger.WithFields(ctx, map[string]any{
		"env":          rt.Config.App.Env,
		"service_kind": rt.Config.Service.Kind,
	})
}

// Main runs fn until SIGINT or SIGTERM and exits non-zero when fn fails for
// any reason other than that shutdown.
func Main(service string, fn func(ctx context.Context, rt *Runtime) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, service, fn)
	stop()
	if err != nil {
		logger.New(logger.Options{ServiceName: service}).Error(ctx, service+" exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, service string, fn func(context.Context, *Runtime) error) (err error) {
	rt, err := Start(ctx, service)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close()) }()

	ctx = rt.Fields(ctx)
	rt.Logger.Info(ctx, "starting")
	if err := fn(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	rt.Logger.Info(ctx, "shut down cleanly")
	return nil
}
