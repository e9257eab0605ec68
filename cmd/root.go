package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Smart Attendance System server and tooling",
	Long: `Smart Attendance marks attendance from face photos taken in the browser
or by registered cameras.

Use "attendance launch" in containers: it prepares runtime directories, runs
database migrations and supervises the serving workers. "attendance serve"
runs a single worker.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	logging.Init(os.Getenv("LOG_LEVEL"), os.Getenv("FLASK_ENV"))
}
