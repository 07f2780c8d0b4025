// Package scheduler triggers periodic feed refreshes.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bryan-buckman/quickfeed/internal/rss"
)

const (
	DefaultSpec       = "@every 5m"
	DefaultRunTimeout = 10 * time.Minute
)

// Refresher runs one ingestion pass over all feeds.
type Refresher interface {
	FetchAll(ctx context.Context, report rss.ProgressFunc) (rss.Summary, error)
}

type Scheduler struct {
	ctx        context.Context
	cron       *cron.Cron
	spec       string
	runTimeout time.Duration
	refresher  Refresher
	log        *slog.Logger
}

func New(ctx context.Context, spec string, runTimeout time.Duration, refresher Refresher, log *slog.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Scheduler{
		ctx:        ctx,
		cron:       c,
		spec:       spec,
		runTimeout: runTimeout,
		refresher:  refresher,
		log:        log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.refresh); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	start := time.Now()
	summary, err := s.refresher.FetchAll(ctx, nil)
	if errors.Is(err, rss.ErrRunInProgress) {
		s.log.InfoContext(ctx, "Skipping scheduled refresh, another run is active")
		return
	}
	if err != nil {
		s.log.ErrorContext(ctx, "Scheduled refresh stopped early",
			"error", err,
			"feedCount", summary.Feeds)
	}

	s.log.InfoContext(ctx, "Scheduled refresh finished",
		"feedCount", summary.Feeds,
		"newArticles", summary.NewArticles,
		"failedFeeds", len(summary.Failures),
		"duration", time.Since(start))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
