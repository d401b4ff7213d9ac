package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/civic-data-lab/tractmap/internal/pipeline"
)

var (
	runOutDir     string
	runYear       int
	runVariables  string
	runSkipRender bool
	runGeoJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: fetch, join, export, review, render",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runOutDir != "" {
			cfg.Output.Dir = runOutDir
		}
		if runYear != 0 {
			cfg.Census.Year = runYear
			cfg.Tiger.Year = runYear
		}
		if runVariables != "" {
			cfg.Census.VariablesFile = runVariables
		}
		if runGeoJSON {
			cfg.Output.GeoJSON = true
		}

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		runner, err := pipeline.NewRunner(cfg)
		if err != nil {
			return err
		}
		runner.SkipRender = runSkipRender

		res, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		m := res.Manifest
		fmt.Printf("Run %s complete.\n", m.RunID)
		fmt.Printf("  incidents: %d (%d with coordinates, %d missing)\n",
			m.Counts.Incidents, m.Coordinates.WithCoords, m.Coordinates.Missing)
		fmt.Printf("  tracts:    %d (%d with ACS attributes)\n",
			m.Counts.Tracts, m.Counts.TractsWithAttrs)
		fmt.Printf("  join:      %d matched, %d unmatched\n",
			m.Counts.Matched, m.Counts.Unmatched)
		if n := len(m.Review); n > 0 {
			fmt.Printf("  review:    %d implausible coordinate pair(s), see manifest\n", n)
		}
		for _, a := range m.Artifacts {
			fmt.Printf("  wrote %s\n", a)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOutDir, "out-dir", "", "output directory (overrides output.dir)")
	runCmd.Flags().IntVar(&runYear, "year", 0, "ACS and TIGER vintage (overrides census.year and tiger.year)")
	runCmd.Flags().StringVar(&runVariables, "variables", "", "variable catalog YAML (overrides census.variables_file)")
	runCmd.Flags().BoolVar(&runSkipRender, "skip-render", false, "stop after the exports and the review; draw no map")
	runCmd.Flags().BoolVar(&runGeoJSON, "geojson", false, "also write GeoJSON point and tract layers")
	rootCmd.AddCommand(runCmd)
}
