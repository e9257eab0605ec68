// Package launcher prepares the runtime environment and supervises the
// serving worker processes.
package launcher

import (
	"context"
	"fmt"
	"os"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// DefaultPort is used when PORT is unset or invalid.
const DefaultPort = 5000

// ResolvePort reads PORT through getenv.
func ResolvePort(getenv func(string) string) int {
	return config.ResolvePort(getenv("PORT"))
}

// EnsureDirs creates each directory and its parents. Existing directories
// are left alone.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// MigrationOutcome is how the pre-start migration step ended.
type MigrationOutcome string

const (
	MigrationSkipped      MigrationOutcome = "skipped"
	MigrationCompleted    MigrationOutcome = "completed"
	MigrationWithWarnings MigrationOutcome = "completed with warnings"
)

// Migrator brings the schema up to date. A returned error is reported but
// never stops the launch.
type Migrator func(ctx context.Context) error

// RunMigrationStep runs migrate when databaseURL is set.
func RunMigrationStep(ctx context.Context, databaseURL string, migrate Migrator) MigrationOutcome {
	if databaseURL == "" {
		logging.Info("DATABASE_URL not set, skipping migrations")
		return MigrationSkipped
	}

	logging.Info("running database migrations")
	if err := migrate(ctx); err != nil {
		logging.Warn("Migration completed with warnings", "error", err)
		return MigrationWithWarnings
	}
	logging.Info("Database migration completed")
	return MigrationCompleted
}
