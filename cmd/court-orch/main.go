package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/logger"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "court-orch",
		Short: "Court booking orchestrator - schedule and run court reservations",
		Long: `court-orch keeps a list of court reservations, starts the booking worker
for each one at its scheduled time, streams the worker's output live and
records whether the booking went through.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
