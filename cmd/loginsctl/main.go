package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "loginsctl",
		Short:   "loginsctl - local encrypted credentials store and sync reconciler",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "data directory path")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("chunk-size", 500, "sqlite IN-list chunk size")
	rootCmd.PersistentFlags().Bool("enable-dedupe-cache", true, "enable the pebble-backed dedupe cache")
	rootCmd.PersistentFlags().String("admin-listen", ":8090", "admin health/metrics listen address")
	rootCmd.PersistentFlags().String("association-token-key", "", "HMAC key used to verify a sync association token")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		setupLogging(level)
		return nil
	}

	rootCmd.AddCommand(
		newAddCommand(),
		newImportCommand(),
		newUpdateCommand(),
		newGetCommand(),
		newListCommand(),
		newDeleteCommand(),
		newTouchCommand(),
		newResetCommand(),
		newSyncCommand(),
		newServeCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
