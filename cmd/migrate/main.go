// Command migrate applies goose migrations and carries the operator commands
// that act on the outbox: listing and replaying dead-lettered notifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "command: "+commandNames())
	flag.StringVar(&opts.dir, "dir", "", "migrations directory; empty uses the embedded set ("+migrate.DefaultDir+" for create)")
	flag.StringVar(&opts.name, "name", "", "migration name (create)")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS (version)")
	flag.StringVar(&opts.eventID, "event", "", "outbox event id (replay)")
	flag.StringVar(&opts.reason, "reason", "", "filter by max_attempts or non_retryable (dead-letters)")
	flag.IntVar(&opts.limit, "limit", 50, "rows to list (dead-letters)")
	flag.Parse()

	cmd, ok := commands[opts.cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd %q, want one of %s\n", opts.cmd, commandNames())
		os.Exit(2)
	}

	cfg, err := config.Load()
	exitOn(context.Background(), logg, "load config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.LogFormat == "console",
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
	})

	env := &environment{opts: opts, out: os.Stdout}
	if cmd.needsDB {
		client, err := db.New(ctx, cfg.DB, logg)
		exitOn(ctx, logg, "connect database", err)
		defer client.Close()
		env.db = client.DB()
	}

	exitOn(ctx, logg, opts.cmd, cmd.run(ctx, env))
}

func exitOn(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, step+" failed", err)
	os.Exit(1)
}
