package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bryan-buckman/quickfeed/internal/database"
	"github.com/bryan-buckman/quickfeed/internal/model"
)

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.GetFeeds(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	feedID, err := idParam(r, "feedID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.parsePagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	feed, err := s.store.GetFeedByID(r.Context(), feedID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.rankedPage(r.Context(), database.ArticleFilter{FeedID: feedID}, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed":     feed,
		"articles": page,
	})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Category string `json:"category"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	feed, err := s.fetcher.Subscribe(r.Context(), req.URL, req.Category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "Subscribed to feed",
		"feedID", feed.ID,
		"feedURL", feed.FeedURL)

	// Populate the new feed right away; failures surface on the feed row.
	if _, err := s.fetcher.RefreshFeed(r.Context(), feed.ID); err != nil {
		s.log.WarnContext(r.Context(), "Initial fetch failed",
			"error", err,
			"feedID", feed.ID)
	} else if refreshed, err := s.store.GetFeedByID(r.Context(), feed.ID); err == nil {
		feed = refreshed
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleSetFeedCategory(w http.ResponseWriter, r *http.Request) {
	feedID, err := idParam(r, "feedID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		CategoryID int64 `json:"category_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.SetFeedCategory(r.Context(), feedID, req.CategoryID); err != nil {
		s.writeError(w, r, err)
		return
	}
	feed, err := s.store.GetFeedByID(r.Context(), feedID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

// handleBulkSetCategory reassigns several feeds at once. Every referenced
// feed and category is checked before anything changes.
func (s *Server) handleBulkSetCategory(w http.ResponseWriter, r *http.Request) {
	var req map[string]int64
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	moves := make(map[int64]int64, len(req))
	for rawFeedID, categoryID := range req {
		feedID, err := strconv.ParseInt(rawFeedID, 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("feed id %q: %w", rawFeedID, errBadRequest))
			return
		}
		if _, err := s.store.GetFeedByID(r.Context(), feedID); err != nil {
			s.writeError(w, r, err)
			return
		}
		if _, err := s.store.GetCategoryByID(r.Context(), categoryID); err != nil {
			s.writeError(w, r, err)
			return
		}
		moves[feedID] = categoryID
	}

	for feedID, categoryID := range moves {
		if err := s.store.SetFeedCategory(r.Context(), feedID, categoryID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "updated": len(moves)})
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	feedID, err := idParam(r, "feedID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteFeed(r.Context(), feedID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "Deleted feed",
		"feedID", feedID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSidebar(w http.ResponseWriter, r *http.Request) {
	categories, uncategorized, err := s.store.GetCategoriesWithFeeds(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if categories == nil {
		categories = []model.CategoryWithFeeds{}
	}
	if uncategorized == nil {
		uncategorized = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories":    categories,
		"uncategorized": uncategorized,
	})
}
