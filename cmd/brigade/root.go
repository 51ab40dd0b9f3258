package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/brigade"
)

var (
	cfgDBPath    string
	cfgServerURL string
	cfgAPIKey    string
	cfgTenant    string
	cfgDebug     bool
)

var rootCmd = &cobra.Command{
	Use:   "brigade",
	Short: "Brigade - offline-first restaurant sync CLI",
	Long: `Brigade keeps a restaurant terminal's local database in sync with the
central service. Writes made while offline queue durably and reconcile
when connectivity returns.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db-path", "", "Path to local database (default: ~/.brigade/<tenant>.db)")
	rootCmd.PersistentFlags().StringVar(&cfgServerURL, "server-url", "", "URL of the central sync service")
	rootCmd.PersistentFlags().StringVar(&cfgAPIKey, "api-key", "", "API key for the sync service")
	rootCmd.PersistentFlags().StringVar(&cfgTenant, "tenant", "", "Tenant (restaurant account) id")
	rootCmd.PersistentFlags().BoolVar(&cfgDebug, "debug", false, "Log all sync API traffic")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig merges .env, environment, and flags; flags win.
func loadConfig() brigade.Config {
	_ = godotenv.Load()

	cfg := brigade.ConfigFromEnv()

	if cfgDBPath != "" {
		cfg.LocalPath = cfgDBPath
	}
	if cfgServerURL != "" {
		cfg.ServerURL = cfgServerURL
	}
	if cfgAPIKey != "" {
		cfg.APIKey = cfgAPIKey
	}
	if cfgTenant != "" {
		cfg.TenantID = cfgTenant
	}
	if cfgDebug {
		cfg.Debug = true
	}

	// One-shot CLI invocations drive sync explicitly.
	cfg.AutoSync = false

	return cfg
}
