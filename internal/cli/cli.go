// Package cli wires configuration, storage and services into the
// quickfeed command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/quickfeed/internal/config"
	"github.com/bryan-buckman/quickfeed/internal/database"
	"github.com/bryan-buckman/quickfeed/internal/rss"
)

// Version is the version of the application, set at build time
var Version = "dev"

// app holds the services shared by the subcommands.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *database.DB
	fetcher *rss.Fetcher
}

func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := cfg.Log.NewLogger(logOut)

	store, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	source := rss.NewGofeedSource(cfg.Feed.FetchTimeout, cfg.Feed.UserAgent)
	fetcher := rss.NewFetcher(store, source, log, rss.Options{
		FetchTimeout: cfg.Feed.FetchTimeout,
		Concurrency:  cfg.Feed.Concurrency,
	})

	return &app{cfg: cfg, log: log, store: store, fetcher: fetcher}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("Failed to close database",
			"error", err)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "quickfeed",
		Short:         "Self-hosted RSS and Atom reader",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	open := func(cmd *cobra.Command) (*app, error) {
		return newApp(cmd.Context(), configPath, cmd.ErrOrStderr())
	}

	root.AddCommand(
		newServeCommand(open),
		newRefreshCommand(open),
		newImportCommand(open),
		newExportCommand(open),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line and exits on failure.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type opener func(cmd *cobra.Command) (*app, error)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quickfeed %s\n", Version)
		},
	}
}
