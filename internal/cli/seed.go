package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"orbwatch/internal/app"
)

var (
	seedCurrency string
	seedName     string
	seedBase     float64
	seedDays     int
	seedStep     time.Duration
	seedRandom   int64
	seedDryRun   bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert synthetic price history for a currency",
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}
		if seedStep <= 0 {
			return fmt.Errorf("--step must be greater than zero")
		}

		return getApp().Seed(cmd.Context(), app.SeedOptions{
			CurrencyID:   seedCurrency,
			CurrencyName: seedName,
			BasePrice:    seedBase,
			Days:         seedDays,
			Step:         seedStep,
			Seed:         seedRandom,
			DryRun:       seedDryRun,
		})
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedCurrency, "currency", "divine", "Currency id")
	seedCmd.Flags().StringVar(&seedName, "name", "Divine Orb", "Currency display name")
	seedCmd.Flags().Float64Var(&seedBase, "base-price", 180, "Starting price")
	seedCmd.Flags().IntVar(&seedDays, "days", 7, "Days of history to generate")
	seedCmd.Flags().DurationVar(&seedStep, "step", 2*time.Hour, "Spacing between observations")
	seedCmd.Flags().Int64Var(&seedRandom, "seed", 0, "Random seed (0 = time based)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Generate without writing to storage")
}
