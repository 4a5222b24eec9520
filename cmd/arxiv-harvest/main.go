// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the arxiv-harvest CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/arxiv-harvest/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds credentials loaded from .secrets/ at startup.
var loadedSecrets secrets.Set

// logger is configured in PersistentPreRunE from --verbose.
var logger = slog.New(slog.DiscardHandler)

// rootCmd is the base command for the arxiv-harvest CLI.
var rootCmd = &cobra.Command{
	Use:   "arxiv-harvest",
	Short: "Harvest arXiv LaTeX sources, metadata, and references",
	Long: `arxiv-harvest walks a window of arXiv identifiers, downloads every
revision's source bundle, keeps only the LaTeX and BibTeX files, and saves
each paper's metadata and arXiv-resolvable references under one directory
per paper.

Use "resolve" to save the identifier plan, "run" to harvest, "check" to
audit the output directory, and "status" to inspect the run ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logger = newLogger(verbose)

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}

		s, err := secrets.Load(secrets.DefaultDir, logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			logger.Debug("loaded secrets", "keys", s.Keys())
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./arxiv-harvest.yaml or ~/.config/arxiv-harvest/config.yaml)")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("data-dir", "", "output root, one directory per paper (default ./data)")

	flags.Int("start-month", 0, "first month of the window (1-12)")
	flags.Int("start-year", 0, "year of the first month")
	flags.Int("start-ordinal", 0, "first ordinal within the first month")
	flags.Int("end-month", 0, "last month of the window (1-12)")
	flags.Int("end-year", 0, "year of the last month")
	flags.Int("end-ordinal", 0, "last ordinal within the last month")
	flags.String("mode", "", "resolution mode: probe or fixed (default fixed)")
	flags.Int("total-paper", 0, "papers per month assumed by fixed mode (default 15000)")
	flags.Int("offset", 0, "skip this many resolved identifiers")
	flags.Int("count", 0, "keep at most this many identifiers (0 = all)")

	bindFlags(flags, map[string]string{
		"data_dir":             "data-dir",
		"window.start_month":   "start-month",
		"window.start_year":    "start-year",
		"window.start_ordinal": "start-ordinal",
		"window.end_month":     "end-month",
		"window.end_year":      "end-year",
		"window.end_ordinal":   "end-ordinal",
		"window.mode":          "mode",
		"window.total_paper":   "total-paper",
		"window.offset":        "offset",
		"window.count":         "count",
	})
	setDefaults()
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("arxiv-harvest")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "arxiv-harvest"))
		}
	}

	viper.SetEnvPrefix("ARXIV_HARVEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
