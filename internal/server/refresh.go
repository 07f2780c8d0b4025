package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bryan-buckman/quickfeed/internal/rss"
)

type failureView struct {
	FeedID  int64  `json:"feed_id"`
	FeedURL string `json:"feed_url"`
	Error   string `json:"error"`
}

func summaryView(summary rss.Summary) map[string]any {
	failures := make([]failureView, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		failures = append(failures, failureView{FeedID: f.FeedID, FeedURL: f.FeedURL, Error: f.Err.Error()})
	}
	return map[string]any{
		"status":       "ok",
		"feeds":        summary.Feeds,
		"new_articles": summary.NewArticles,
		"failures":     failures,
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	summary, err := s.fetcher.FetchAll(ctx, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryView(summary))
}

// handleReload runs a refresh and streams its progress as plain text, one
// line per event. The run is detached from the request: a client that
// goes away stops receiving lines but the run still completes.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	events := make(chan rss.Progress, reloadBuffer)
	done := make(chan struct{})
	defer close(done)
	result := make(chan error, 1)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), refreshTimeout)
	go func() {
		defer cancel()
		_, err := s.fetcher.FetchAll(ctx, func(p rss.Progress) {
			select {
			case events <- p:
			case <-done:
			}
		})
		result <- err
		close(events)
	}()

	first, ok := <-events
	if !ok {
		// The run ended without reporting anything, e.g. another run
		// holds the lock.
		err := <-result
		if err == nil {
			err = errors.New("refresh produced no output")
		}
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	write := func(line string) bool {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if !write(first.String()) {
		return
	}
	for {
		select {
		case p, ok := <-events:
			if !ok {
				if err := <-result; err != nil {
					write("Error: " + err.Error())
				}
				return
			}
			if !write(p.String()) {
				return
			}
		case <-r.Context().Done():
			s.log.InfoContext(ctx, "Reload client disconnected, refresh continues")
			return
		}
	}
}
