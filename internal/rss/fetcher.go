package rss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/quickfeed/internal/database"
	"github.com/bryan-buckman/quickfeed/internal/model"
)

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of parallel fetches for PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencySQLite is the number of parallel fetches for SQLite (limited due to locking)
	MaxConcurrencySQLite = 1
	// DefaultFetchTimeout bounds a single feed download.
	DefaultFetchTimeout = 20 * time.Second
	// maxErrorLength caps the error text stored on a feed.
	maxErrorLength = 200
)

var (
	// ErrRunInProgress is returned when a refresh is requested while another
	// one is still running.
	ErrRunInProgress = errors.New("feed refresh already in progress")
	// ErrNoEntries is returned when a fetched feed has no entries.
	ErrNoEntries = errors.New("no entries found in feed")
	// ErrInvalidURL is returned for feed URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid feed URL")
)

// Options tunes a Fetcher. Zero values select the defaults.
type Options struct {
	FetchTimeout time.Duration
	Concurrency  int
	HostDelay    time.Duration
}

// Fetcher ingests feeds into the store.
type Fetcher struct {
	store       database.Store
	source      Source
	log         *slog.Logger
	timeout     time.Duration
	concurrency int
	limiter     *hostLimiter
	now         func() time.Time

	// running serializes ingestion runs; see FetchAll.
	running sync.Mutex
}

// NewFetcher creates a new fetcher with concurrency based on database type.
func NewFetcher(store database.Store, source Source, log *slog.Logger, opts Options) *Fetcher {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = MaxConcurrencySQLite
		if store.SupportsHighConcurrency() {
			concurrency = MaxConcurrencyPostgres
		}
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	delay := opts.HostDelay
	if delay <= 0 {
		delay = DelayBetweenHostRequests
	}
	return &Fetcher{
		store:       store,
		source:      source,
		log:         log,
		timeout:     timeout,
		concurrency: concurrency,
		limiter:     newHostLimiter(MaxConcurrencyPerHost, delay),
		now:         time.Now,
	}
}

// DedupKey returns the feed-scoped unique identifier of an entry: its own
// id, or its link when it has none.
func DedupKey(e Entry) string {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id
	}
	return strings.TrimSpace(e.Link)
}

// Articles converts entries into candidate articles. Entries without an id
// and a link are dropped. Entries sharing a dedup key collapse into the
// first one.
func Articles(entries []Entry, fetchedAt time.Time) []model.Article {
	seen := make(map[string]struct{}, len(entries))
	articles := make([]model.Article, 0, len(entries))
	for _, e := range entries {
		key := DedupKey(e)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		published := fetchedAt
		switch {
		case e.Published != nil:
			published = *e.Published
		case e.Updated != nil:
			published = *e.Updated
		}
		articles = append(articles, model.Article{
			UniqueID:    key,
			Title:       e.Title,
			Link:        e.Link,
			Description: e.Description,
			PublishedAt: published,
			AddedAt:     fetchedAt,
		})
	}
	return articles
}

// FetchFeed fetches one feed and stores its new articles. Returns the
// number of new articles. It does not take the run lock; RefreshFeed does.
func (f *Fetcher) FetchFeed(ctx context.Context, feed model.Feed) (int, error) {
	host := hostOf(feed.FeedURL)
	release, err := f.limiter.acquire(ctx, host)
	if err != nil {
		return 0, fmt.Errorf("rate limit cancelled for %s: %w", feed.FeedURL, err)
	}
	defer release()

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	doc, err := f.source.Fetch(fetchCtx, feed.FeedURL)
	if err == nil && len(doc.Entries) == 0 {
		err = ErrNoEntries
	}
	if err != nil {
		f.recordError(ctx, feed, err)
		return 0, fmt.Errorf("fetch feed %s: %w", feed.FeedURL, err)
	}

	now := f.now()
	count, err := f.store.SyncFeed(ctx, feed.ID, Articles(doc.Entries, now), now)
	if err != nil {
		return 0, fmt.Errorf("store feed %s: %w", feed.FeedURL, err)
	}
	return count, nil
}

func (f *Fetcher) recordError(ctx context.Context, feed model.Feed, fetchErr error) {
	msg := fetchErr.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	if err := f.store.UpdateFeedError(ctx, feed.ID, msg); err != nil {
		f.log.ErrorContext(ctx, "Failed to record feed error",
			"error", err,
			"feedID", feed.ID)
	}
}

// FeedFailure describes one feed that could not be refreshed.
type FeedFailure struct {
	FeedID  int64
	FeedURL string
	Err     error
}

// Summary is the outcome of a refresh run.
type Summary struct {
	Feeds       int
	NewArticles int
	Failures    []FeedFailure
}

// Err joins the per-feed failures, or returns nil when every feed succeeded.
func (s Summary) Err() error {
	errs := make([]error, 0, len(s.Failures))
	for _, fail := range s.Failures {
		errs = append(errs, fail.Err)
	}
	return errors.Join(errs...)
}

// FetchAll refreshes every feed. Per-feed failures are logged and reported
// in the summary; they never abort the run. Only one run executes at a
// time: a call made while another run is active returns ErrRunInProgress
// without doing anything. report, when non-nil, receives progress events;
// it is never called concurrently.
func (f *Fetcher) FetchAll(ctx context.Context, report ProgressFunc) (Summary, error) {
	if !f.running.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer f.running.Unlock()

	emit := serialize(report)

	feeds, err := f.store.GetFeeds(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("get feeds: %w", err)
	}

	emit(Progress{Kind: RunStarted, Total: len(feeds)})
	f.log.InfoContext(ctx, "Fetching feeds",
		"feedCount", len(feeds),
		"concurrency", f.concurrency)

	var summary Summary
	if f.concurrency <= 1 {
		summary, err = f.fetchSequential(ctx, feeds, emit)
	} else {
		summary, err = f.fetchParallel(ctx, feeds, emit)
	}

	emit(Progress{Kind: RunFinished, Total: len(feeds), Summary: &summary})
	return summary, err
}

// RefreshFeed refreshes a single feed under the same exclusion as FetchAll.
func (f *Fetcher) RefreshFeed(ctx context.Context, feedID int64) (int, error) {
	if !f.running.TryLock() {
		return 0, ErrRunInProgress
	}
	defer f.running.Unlock()

	feed, err := f.store.GetFeedByID(ctx, feedID)
	if err != nil {
		return 0, err
	}
	return f.FetchFeed(ctx, *feed)
}

func (f *Fetcher) fetchOne(ctx context.Context, feed model.Feed, emit ProgressFunc) (int, error) {
	emit(Progress{Kind: FeedStarted, Feed: feed})
	count, err := f.FetchFeed(ctx, feed)
	if err != nil {
		f.log.WarnContext(ctx, "Failed to fetch feed",
			"error", err,
			"feedID", feed.ID,
			"feedURL", feed.FeedURL)
		emit(Progress{Kind: FeedFailed, Feed: feed, Err: err})
		return 0, err
	}
	emit(Progress{Kind: FeedDone, Feed: feed, NewArticles: count})
	return count, nil
}

// fetchSequential fetches feeds one at a time (for SQLite).
func (f *Fetcher) fetchSequential(ctx context.Context, feeds []model.Feed, emit ProgressFunc) (Summary, error) {
	var summary Summary
	for i, feed := range feeds {
		if err := ctx.Err(); err != nil {
			f.log.WarnContext(ctx, "FetchAll cancelled",
				"done", i,
				"feedCount", len(feeds))
			return summary, err
		}

		summary.Feeds++
		count, err := f.fetchOne(ctx, feed, emit)
		if err != nil {
			summary.Failures = append(summary.Failures, FeedFailure{FeedID: feed.ID, FeedURL: feed.FeedURL, Err: err})
			continue
		}
		summary.NewArticles += count
	}
	return summary, nil
}

type fetchResult struct {
	feed     model.Feed
	newItems int
	err      error
}

// fetchParallel fetches feeds using a worker pool (for PostgreSQL).
func (f *Fetcher) fetchParallel(ctx context.Context, feeds []model.Feed, emit ProgressFunc) (Summary, error) {
	if len(feeds) == 0 {
		return Summary{}, nil
	}
	feedCh := make(chan model.Feed)
	resultCh := make(chan fetchResult, len(feeds))

	var wg sync.WaitGroup
	for i := 0; i < min(f.concurrency, len(feeds)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range feedCh {
				count, err := f.fetchOne(ctx, feed, emit)
				resultCh <- fetchResult{feed: feed, newItems: count, err: err}
			}
		}()
	}

	go func() {
		defer close(feedCh)
		for _, feed := range feeds {
			select {
			case <-ctx.Done():
				return
			case feedCh <- feed:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var summary Summary
	for result := range resultCh {
		summary.Feeds++
		if result.err != nil {
			summary.Failures = append(summary.Failures,
				FeedFailure{FeedID: result.feed.ID, FeedURL: result.feed.FeedURL, Err: result.err})
			continue
		}
		summary.NewArticles += result.newItems
	}
	return summary, ctx.Err()
}

// Subscribe validates feedURL, fetches it and creates the feed. When the
// URL serves an HTML page the advertised feed is used instead. A non-empty
// categoryName is created on demand.
func (f *Fetcher) Subscribe(ctx context.Context, feedURL, categoryName string) (*model.Feed, error) {
	feedURL = strings.TrimSpace(feedURL)
	u, err := url.Parse(feedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q: %w", feedURL, ErrInvalidURL)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	doc, err := f.source.Fetch(fetchCtx, feedURL)
	if err != nil {
		d, ok := f.source.(Discoverer)
		if !ok {
			return nil, err
		}
		discovered, discoverErr := d.Discover(fetchCtx, feedURL)
		if discoverErr != nil {
			return nil, errors.Join(err, discoverErr)
		}
		f.log.InfoContext(ctx, "Discovered feed on page",
			"pageURL", feedURL,
			"feedURL", discovered)
		feedURL = discovered
		if doc, err = f.source.Fetch(fetchCtx, feedURL); err != nil {
			return nil, err
		}
	}
	if len(doc.Entries) == 0 {
		return nil, ErrNoEntries
	}

	if _, err := f.store.GetFeedByURL(ctx, feedURL); err == nil {
		return nil, fmt.Errorf("feed %s: %w", feedURL, database.ErrDuplicate)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	var categoryID *int64
	if name := strings.TrimSpace(categoryName); name != "" {
		id, err := f.store.GetOrCreateCategory(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", name, err)
		}
		categoryID = &id
	}

	title := doc.Title
	if title == "" {
		f.log.WarnContext(ctx, "Empty feed title",
			"feedURL", feedURL)
		title = feedURL
	}
	id, err := f.store.CreateFeed(ctx, model.Feed{
		FeedURL:     feedURL,
		SiteURL:     doc.Link,
		Title:       title,
		Description: doc.Description,
		AddedAt:     f.now(),
		CategoryID:  categoryID,
	})
	if err != nil {
		return nil, err
	}
	return f.store.GetFeedByID(ctx, id)
}
