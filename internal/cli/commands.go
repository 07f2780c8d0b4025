package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/quickfeed/internal/opml"
	"github.com/bryan-buckman/quickfeed/internal/rss"
	"github.com/bryan-buckman/quickfeed/internal/scheduler"
	"github.com/bryan-buckman/quickfeed/internal/server"
)

func newServeCommand(open opener) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the refresh scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx := cmd.Context()

			var sched *scheduler.Scheduler
			if a.cfg.Scheduler.Enabled {
				sched = scheduler.New(ctx, a.cfg.Scheduler.Spec, a.cfg.Scheduler.RunTimeout, a.fetcher, a.log)
				if err := sched.Start(); err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
				a.log.InfoContext(ctx, "Scheduler started",
					"spec", a.cfg.Scheduler.Spec)
			}

			srv := server.New(a.store, a.fetcher, a.log, a.cfg.UI.PerPage)
			serveErr := make(chan error, 1)
			go func() {
				serveErr <- srv.Start(addr)
			}()

			select {
			case err = <-serveErr:
			case <-ctx.Done():
				a.log.InfoContext(ctx, "Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
				defer cancel()
				err = srv.Shutdown(shutdownCtx)
			}
			if sched != nil {
				sched.Stop()
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newRefreshCommand(open opener) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch every feed once and store new articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Scheduler.RunTimeout)
			defer cancel()

			out := cmd.OutOrStdout()
			summary, err := a.fetcher.FetchAll(ctx, func(p rss.Progress) {
				if verbose || p.Kind == rss.FeedFailed || p.Kind == rss.RunFinished {
					fmt.Fprintln(out, p.String())
				}
			})
			if err != nil {
				return err
			}
			if summary.Feeds > 0 && len(summary.Failures) == summary.Feeds {
				return errors.New("every feed failed to refresh")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every progress event")
	return cmd
}

func newImportCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "import-opml FILE",
		Short: "Subscribe to the feeds listed in an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			entries, err := opml.Parse(f)
			if err != nil {
				return err
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := opml.Import(cmd.Context(), a.store, entries, a.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d feeds, skipped %d, failed %d\n", res.Added, res.Skipped, res.Failed)
			return nil
		},
	}
}

func newExportCommand(open opener) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-opml",
		Short: "Write the subscriptions as OPML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			categories, uncategorized, err := a.store.GetCategoriesWithFeeds(cmd.Context())
			if err != nil {
				return err
			}
			data, err := opml.Export("quickfeed subscriptions", categories, uncategorized)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}
