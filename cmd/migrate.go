package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database/postgres"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	Long: `Apply embedded schema migrations, then the compatibility patches
(missing columns, relaxed constraints), then the optimization indexes.

Every patch and index is attempted even when an earlier one fails. Failures
are reported as warnings and the command still exits 0 unless the database
cannot be reached or --strict is given.

On Railway run this inside the service ("railway run attendance migrate"):
private *.railway.internal hosts do not resolve from a workstation.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("strict", false, "Exit non-zero when any statement fails")
}

// errMigrationWarnings is returned under --strict.
var errMigrationWarnings = errors.New("migration completed with warnings")

func logStep(r postgres.StepResult) {
	if r.Err != nil {
		logging.Warn("migration step failed", "step", r.Name, "error", r.Err)
		return
	}
	logging.Debug("migration step", "step", r.Name, "status", r.Status)
}

// printReport renders one row per statement and a totals footer.
func printReport(w io.Writer, report postgres.Report) {
	t := newTable(w, "Step", "Status", "Error")
	for _, r := range report.Results {
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Name, r.Status, msg})
	}
	applied, skipped, failed := report.Counts()
	t.AppendFooter(table.Row{"Total", fmt.Sprintf("%d applied, %d skipped, %d failed", applied, skipped, failed), ""})
	t.Render()
}

// finishReport prints the summary line and applies --strict.
func finishReport(w io.Writer, report postgres.Report, strict bool) error {
	printReport(w, report)
	if report.OK() {
		fmt.Fprintln(w, "Database migration completed")
		return nil
	}
	fmt.Fprintf(w, "Migration completed with warnings (%d failed)\n", len(report.Failed()))
	if strict {
		return errMigrationWarnings
	}
	return nil
}

// migrateDatabase is the launcher's migration step.
func migrateDatabase(cfg *config.DatabaseConfig) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		report, err := postgres.RunMigrations(ctx, cfg, logStep)
		if err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("%d of %d statements failed", len(report.Failed()), len(report.Results))
		}
		return nil
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Database.CheckReachable(); err != nil {
		return err
	}
	fmt.Printf("Migrating %s (from %s)\n", cfg.Database.Redacted(), cfg.Database.Source())

	report, err := postgres.RunMigrations(cmd.Context(), &cfg.Database, logStep)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return finishReport(os.Stdout, report, mustGetBool(cmd, "strict"))
}
