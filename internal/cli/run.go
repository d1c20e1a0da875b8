package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scrape scheduler and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API without the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().Scrape(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("cycle %s: extracted=%d inserted=%d failed=%d skipped=%t\n",
			result.ID, result.Extracted, result.Inserted, result.Failed, result.Skipped)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database and schema if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}
