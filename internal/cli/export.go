package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"orbwatch/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportCurrency  string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportWindow    time.Duration
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write price history to CSV and/or a PNG chart",
	Long: `Write stored observations to CSV and/or a PNG line chart with one series
per currency. Without --from the export covers --window (or export.window)
before --to.`,
	Example: "  orbwatch export --currency divine --window 72h --png divine.png",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Currency:  exportCurrency,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
			Window:    exportWindow,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportCurrency, "currency", "", "Currency id to export (all when empty)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().DurationVar(&exportWindow, "window", 0, "History span ending at --to when --from is unset (defaults to config)")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
