package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"orbwatch/internal/app"
	"orbwatch/internal/config"
	"orbwatch/internal/logging"
)

var (
	cfgFile    string
	logLevel   string
	currencies []string
	appHandle  *app.App
)

var rootCmd = &cobra.Command{
	Use:           "orbwatch",
	Short:         "Track orbwatch.trade currency prices",
	Long: `orbwatch renders the orbwatch.trade listing in headless Chromium, records
each tracked currency's price and exchange price in Postgres, and serves the
history to a small chart dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if cmd.Flags().Changed("currencies") {
			cfg.Scraper.Currencies = currencies
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringSliceVar(&currencies, "currencies", nil, "Override tracked currency ids (empty tracks every row)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
