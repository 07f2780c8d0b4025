package rss

import (
	"fmt"
	"sync"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

// ProgressKind identifies a refresh run event.
type ProgressKind int

const (
	RunStarted ProgressKind = iota
	FeedStarted
	FeedDone
	FeedFailed
	RunFinished
)

// Progress is one event of a refresh run.
type Progress struct {
	Kind        ProgressKind
	Total       int
	Feed        model.Feed
	NewArticles int
	Err         error
	Summary     *Summary
}

// ProgressFunc receives refresh events.
type ProgressFunc func(Progress)

// String renders the event as a single human readable line.
func (p Progress) String() string {
	switch p.Kind {
	case RunStarted:
		return fmt.Sprintf("Refreshing %d feeds", p.Total)
	case FeedStarted:
		return fmt.Sprintf("Fetching %s", p.Feed.Title)
	case FeedDone:
		return fmt.Sprintf("Fetched %s: %d new articles", p.Feed.Title, p.NewArticles)
	case FeedFailed:
		return fmt.Sprintf("Failed %s: %v", p.Feed.Title, p.Err)
	case RunFinished:
		if p.Summary == nil {
			return "Done"
		}
		return fmt.Sprintf("Done: %d feeds, %d new articles, %d failed",
			p.Summary.Feeds, p.Summary.NewArticles, len(p.Summary.Failures))
	default:
		return fmt.Sprintf("unknown event %d", p.Kind)
	}
}

// serialize wraps report so that concurrent workers never call it at the
// same time. A nil report becomes a no-op.
func serialize(report ProgressFunc) ProgressFunc {
	if report == nil {
		return func(Progress) {}
	}
	var mu sync.Mutex
	return func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		report(p)
	}
}
