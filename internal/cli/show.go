package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"orbwatch/internal/app"
)

var (
	showLimit    int
	showCurrency string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the newest price observations as a table",
	Long: `Print the newest stored observations, newest first, with the move from
the previous observation of the same currency.`,
	Example: "  orbwatch show --currency divine --limit 12",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Limit:    showLimit,
			Currency: strings.TrimSpace(showCurrency),
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of observations to display")
	showCmd.Flags().StringVar(&showCurrency, "currency", "", "Only show this currency id (all when empty)")
}
