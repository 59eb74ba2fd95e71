// Command agentops traces, replays, and rates AI-driven financial KPI
// extraction runs.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rrh1441/agentops-replay/internal/config"
	"github.com/rrh1441/agentops-replay/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentops",
	Short: "Trace, replay, and rate AI financial analysis runs",
	Long: `agentops records every step of an AI-driven KPI extraction as an
append-only trace, replays recorded sessions to verify reproducibility,
and rates each run on speed, cost, reproducibility, and accuracy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFrom(cfgFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		slog.SetDefault(logger.New(cfg.Logging))
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultConfigFile+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
