package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
	eventID string
	reason  string
	limit   int
}

type environment struct {
	opts options
	db   *gorm.DB
	out  io.Writer
}

type command struct {
	needsDB bool
	run     func(context.Context, *environment) error
}

var commands = map[string]command{
	"up":           {needsDB: true, run: migrateUp},
	"down":         {needsDB: true, run: migrateDown},
	"status":       {needsDB: true, run: migrationStatus},
	"version":      {needsDB: true, run: migrateToVersion},
	"create":       {run: createMigration},
	"validate":     {run: validateMigrations},
	"dead-letters": {needsDB: true, run: listDeadLetters},
	"replay":       {needsDB: true, run: replayDeadLetter},
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, "|")
}

func runner(env *environment) (*migrate.Runner, error) {
	migrations, err := migrate.Source(env.opts.dir)
	if err != nil {
		return nil, err
	}
	pool, err := env.db.DB()
	if err != nil {
		return nil, err
	}
	return migrate.NewRunner(pool, migrations)
}

func printResults(out io.Writer, results []*goose.MigrationResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "nothing to do")
		return err
	}
	for _, res := range results {
		if _, err := fmt.Fprintln(out, res); err != nil {
			return err
		}
	}
	return nil
}

func migrateUp(ctx context.Context, env *environment) error {
	r, err := runner(env)
	if err != nil {
		return err
	}
	results, err := r.Up(ctx)
	if perr := printResults(env.out, results); err == nil {
		err = perr
	}
	return err
}

func migrateDown(ctx context.Context, env *environment) error {
	r, err := runner(env)
	if err != nil {
		return err
	}
	results, err := r.Down(ctx)
	if perr := printResults(env.out, results); err == nil {
		err = perr
	}
	return err
}

func migrationStatus(ctx context.Context, env *environment) error {
	r, err := runner(env)
	if err != nil {
		return err
	}
	statuses, err := r.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, filepath.Base(st.Source.Path))
	}
	return w.Flush()
}

func migrateToVersion(ctx context.Context, env *environment) error {
	target, err := strconv.ParseInt(env.opts.version, 10, 64)
	if err != nil {
		return fmt.Errorf("-version must be YYYYMMDDHHMMSS: %w", err)
	}
	r, err := runner(env)
	if err != nil {
		return err
	}
	results, err := r.To(ctx, target)
	if perr := printResults(env.out, results); err == nil {
		err = perr
	}
	return err
}

func createMigration(_ context.Context, env *environment) error {
	if env.opts.name == "" {
		return errors.New("-name is required")
	}
	dir := env.opts.dir
	if dir == "" {
		dir = migrate.DefaultDir
	}
	path, err := migrate.CreateSQLMigration(dir, env.opts.name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.out, "created", path)
	return err
}

func validateMigrations(_ context.Context, env *environment) error {
	migrations, err := migrate.Source(env.opts.dir)
	if err != nil {
		return err
	}
	if err := migrate.Validate(migrations); err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.out, "migrations valid")
	return err
}

func listDeadLetters(ctx context.Context, env *environment) error {
	reason, err := enums.ParseOutboxDLQErrorReason(env.opts.reason)
	if err != nil {
		return err
	}
	rows, err := outbox.NewDLQRepository(env.db).List(ctx, reason, env.opts.limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tTYPE\tSUBSCRIPTION\tREASON\tATTEMPTS\tFAILED AT\tERROR")
	for _, row := range rows {
		msg := ""
		if row.ErrorMessage != nil {
			msg = *row.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			row.EventID, row.EventType, row.AggregateID, row.ErrorReason,
			row.AttemptCount, row.FailedAt.UTC().Format(time.RFC3339), msg)
	}
	return w.Flush()
}

func replayDeadLetter(ctx context.Context, env *environment) error {
	id, err := uuid.Parse(env.opts.eventID)
	if err != nil {
		return fmt.Errorf("-event must be a uuid: %w", err)
	}
	if err := outbox.NewDLQRepository(env.db).Replay(ctx, id); err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.out, "requeued", id)
	return err
}
