package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on startup in dev when
// auto-migrate is enabled. SQLite databases are skipped; the migrations are
// Postgres only.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate || cfg.DB.IsSQLite() {
		return nil
	}
	pool, err := client.DB().DB()
	if err != nil {
		return err
	}
	migrations, err := Source("")
	if err != nil {
		return err
	}
	runner, err := NewRunner(pool, migrations)
	if err != nil {
		return err
	}

	results, err := runner.Up(ctx)
	if err != nil {
		return fmt.Errorf("dev auto-migrate: %w", err)
	}
	logg.Info(logg.WithField(ctx, "applied", len(results)), "dev migrations applied")
	return nil
}
