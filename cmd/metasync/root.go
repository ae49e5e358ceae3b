package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wikilearn/metasync/pkg/metawiki"
	"github.com/wikilearn/metasync/pkg/store"
)

var (
	dbDSN       string
	profilePath string
	coursesDir  string
	logLevel    string
	logger      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "metasync",
	Short: "Translation mapping and synchronization engine",
	Long: `metasync links base-course content blocks to their translated rerun
counterparts and keeps both sides in sync with the external translation
service: changed source content is pushed as message bundles, reviewed
translations are pulled back, and approved versions are applied onto the
live course content.

Mutating commands run as a dry run by default and print the change report;
pass --commit to persist changes and contact the service.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = newLogger(logLevel)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "metasync.db", "Database DSN (sqlite path, mysql:// or postgres:// URL)")
	rootCmd.PersistentFlags().StringVar(&profilePath, "config", "metawiki.yaml", "Translation service connection profile (YAML)")
	rootCmd.PersistentFlags().StringVar(&coursesDir, "courses", "courses", "Directory of course outline exports")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(retireCmd)
	rootCmd.AddCommand(directionCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore() (*store.Store, error) {
	db, err := store.Open(dbDSN)
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(db); err != nil {
		return nil, err
	}
	return store.New(db), nil
}

func newServiceClient() (*metawiki.Client, error) {
	cfg, err := metawiki.LoadConfig(profilePath)
	if err != nil {
		return nil, err
	}
	return metawiki.New(cfg)
}

// addCommitFlag registers the shared --commit flag on a command's flag set.
func addCommitFlag(fs *pflag.FlagSet, target *bool) {
	fs.BoolVar(target, "commit", false, "Persist changes instead of dry-running")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func noteDryRun(commit bool) {
	if !commit {
		fmt.Fprintln(os.Stderr, "dry run: nothing was persisted (use --commit to apply)")
	}
}
