package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/launcher"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Prepare the runtime and supervise the web workers",
	Long: `Container entrypoint. In order it:

  1. resolves PORT (default 5000)
  2. runs database migrations when DATABASE_URL is set; failures are logged
     and the launch continues
  3. creates the upload, face data, vector index and instance directories
  4. binds 0.0.0.0:$PORT and keeps WEB_CONCURRENCY (default 2) "serve"
     workers running on it, with a WORKER_TIMEOUT (default 120s) request
     timeout and shutdown grace period

Logs go to stdout and stderr.`,
	RunE: runLaunch,
}

func init() {
	rootCmd.AddCommand(launchCmd)

	launchCmd.Flags().Int("workers", 0, "Worker processes (defaults to $WEB_CONCURRENCY or 2)")
	launchCmd.Flags().Bool("skip-migrations", false, "Do not run migrations before starting")
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	// Workers would exit on the same error and be restarted in a loop.
	if err := cfg.Validate(); err != nil {
		return err
	}
	if workers := mustGetInt(cmd, "workers"); workers > 0 {
		cfg.Server.Workers = workers
	}
	port := launcher.ResolvePort(os.Getenv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !mustGetBool(cmd, "skip-migrations") {
		launcher.RunMigrationStep(ctx, cfg.Database.URL, migrateDatabase(&cfg.Database))
	}

	if err := launcher.EnsureDirs(cfg.Storage.Dirs()...); err != nil {
		return err
	}

	if runtime.GOOS == "windows" {
		// Listener handoff through ExtraFiles is unsupported here.
		logging.Warn("worker processes unsupported on windows, serving in-process", "port", port)
		return runServe(serveCmd, args)
	}

	logging.Info("starting application", "port", port, "workers", cfg.Server.Workers, "timeout", cfg.Server.Timeout)
	sup := &launcher.Supervisor{
		Addr:     fmt.Sprintf("0.0.0.0:%d", port),
		Workers:  cfg.Server.Workers,
		Timeout:  cfg.Server.Timeout,
		Args:     []string{"serve", "--inherit-listener", "--timeout=" + cfg.Server.Timeout.String()},
		LockPath: filepath.Join(cfg.Storage.InstanceDir, "launcher.lock"),
	}
	return sup.Run(ctx)
}
