package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database/postgres"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Create the query optimization indexes",
	Long:  `Create the CREATE INDEX IF NOT EXISTS list only. Safe to run repeatedly.`,
	RunE:  runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
	optimizeCmd.Flags().Bool("strict", false, "Exit non-zero when any statement fails")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Database.CheckReachable(); err != nil {
		return err
	}

	pool, err := postgres.NewPool(cmd.Context(), &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	report := pool.CreateIndexes(cmd.Context(), logStep)
	return finishReport(os.Stdout, report, mustGetBool(cmd, "strict"))
}
