package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civic-data-lab/tractmap/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tractmap",
	Short: "Map fatal police encounters onto census tracts",
	Long: "Fetches the fatal-encounters incident sheet, tract-level ACS estimates, and\n" +
		"TIGER/Line tract geometry, joins each incident to its tract, exports the\n" +
		"enriched table, and renders a county choropleth.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
