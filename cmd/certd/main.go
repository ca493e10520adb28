/**
 * @description
 * This is the main entry point for certd, the certification service.
 * It exposes the HTTP API, the nightly penalty scheduler, a one-off sweep
 * for operator backfills and the schema migration as cobra subcommands.
 */
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/config"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configDir string
	logLevel  string

	// Set by PersistentPreRunE
	cfg    config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "certd",
	Short: "certd - community certification, scoring and penalty service",
	Long: `certd records daily certifications for communities, keeps each
member's counters and account score, and runs the nightly sweep that
penalizes members who missed a scheduled day.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env into the process environment before viper reads it.
		if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}

		loaded, err := config.LoadConfig(configDir)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		cfg = loaded

		logger, err = logging.New(cfg.LogLevel, "certd")
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory holding an optional .env file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	serveCmd.Flags().BoolVar(&serveWithScheduler, "with-scheduler", false, "Also run the penalty scheduler in this process")
	sweepCmd.Flags().StringVar(&sweepDate, "date", "", "Local date to sweep (YYYY-MM-DD); defaults to yesterday")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
