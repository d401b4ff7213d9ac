package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/civic-data-lab/tractmap/internal/acs"
	"github.com/civic-data-lab/tractmap/internal/encounters"
	"github.com/civic-data-lab/tractmap/internal/export"
	"github.com/civic-data-lab/tractmap/internal/review"
)

var (
	reviewCSV    string
	reviewMargin float64
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Check exported incident coordinates against the county bounds",
	Long: `Flags incidents in a previously exported enriched CSV whose coordinates fall
outside the county's tract extent plus the configured margin. Findings are
advisory; no row is ever dropped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("margin") {
			cfg.Review.MarginDeg = reviewMargin
		}
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		csvPath := reviewCSV
		if csvPath == "" {
			csvPath = filepath.Join(cfg.Output.Dir, cfg.Output.CSV)
		}

		cat, err := acs.LoadCatalog(cfg.Census.VariablesFile)
		if err != nil {
			return err
		}
		rows, err := export.ReadIncidentsCSV(csvPath, cat.Variables)
		if err != nil {
			return err
		}
		incidents := make([]encounters.Incident, 0, len(rows))
		for _, r := range rows {
			incidents = append(incidents, r.Incident)
		}

		policy := review.Policy{MarginDeg: cfg.Review.MarginDeg}
		var base review.Bounds
		if len(cfg.Review.BBox) == 4 {
			policy.BBox = &review.Bounds{
				West:  cfg.Review.BBox[0],
				South: cfg.Review.BBox[1],
				East:  cfg.Review.BBox[2],
				North: cfg.Review.BBox[3],
			}
		} else {
			tracts, tractsErr := loadCountyTracts(ctx)
			if tractsErr != nil {
				return tractsErr
			}
			base, err = review.CountyBounds(tracts)
			if err != nil {
				return err
			}
		}

		violations := policy.Check(incidents, base)
		if len(violations) == 0 {
			fmt.Printf("All %d incidents within bounds.\n", len(incidents))
			return nil
		}

		fmt.Printf("%d of %d incidents outside the plausibility bounds:\n", len(violations), len(incidents))
		for _, v := range violations {
			fmt.Printf("  %-10s lat %9.5f  lon %10.5f  %.3f deg outside\n",
				v.ID, v.Latitude, v.Longitude, v.DistanceDeg)
		}
		return nil
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewCSV, "csv", "", "enriched CSV to review (default <output.dir>/<output.csv>)")
	reviewCmd.Flags().Float64Var(&reviewMargin, "margin", 1.0, "margin in degrees around the tract extent (overrides review.margin_deg)")
	rootCmd.AddCommand(reviewCmd)
}
