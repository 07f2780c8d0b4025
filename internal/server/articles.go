package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bryan-buckman/quickfeed/internal/database"
	"github.com/bryan-buckman/quickfeed/internal/model"
	"github.com/bryan-buckman/quickfeed/internal/ranking"
)

type articleView struct {
	model.Article
	Bookmarked bool `json:"bookmarked"`
}

type articlePage struct {
	Articles      []articleView `json:"articles"`
	Page          int           `json:"page"`
	PerPage       int           `json:"per_page"`
	TotalPages    int           `json:"total_pages"`
	TotalArticles int           `json:"total_articles"`
	LastUpdated   *time.Time    `json:"last_updated"`
}

type pagination struct {
	page    int
	perPage int
}

func (s *Server) parsePagination(r *http.Request) (pagination, error) {
	p := pagination{page: 1, perPage: s.perPage}
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, fmt.Errorf("page %q: %w", raw, errBadRequest)
		}
		p.page = n
	}
	if raw := q.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, fmt.Errorf("per_page %q: %w", raw, errBadRequest)
		}
		p.perPage = min(n, MaxPerPage)
	}
	return p, nil
}

// totalPages rounds up so a partial last page is counted.
func totalPages(total, perPage int) int {
	return (total + perPage - 1) / perPage
}

// bookmarkIDs returns the ids of bookmarked articles. A missing Bookmarks
// list is reported as ErrNotFound.
func (s *Server) bookmarkIDs(ctx context.Context) (map[int64]struct{}, error) {
	list, err := s.store.GetListByName(ctx, model.BookmarksListName)
	if err != nil {
		return nil, err
	}
	return s.store.ListArticleIDs(ctx, list.ID)
}

// rankedPage loads the articles matching filter, ranks them and cuts out
// the requested page.
func (s *Server) rankedPage(ctx context.Context, filter database.ArticleFilter, p pagination) (*articlePage, error) {
	articles, err := s.store.GetArticles(ctx, filter)
	if err != nil {
		return nil, err
	}
	ranked := ranking.Sort(articles, s.now())

	bookmarked, err := s.bookmarkIDs(ctx)
	if errors.Is(err, database.ErrNotFound) {
		s.log.WarnContext(ctx, "Bookmarks list is missing")
		bookmarked = map[int64]struct{}{}
	} else if err != nil {
		return nil, err
	}

	lastUpdated, err := s.store.LastSyncedAt(ctx)
	if err != nil {
		return nil, err
	}

	page := &articlePage{
		Articles:      []articleView{},
		Page:          p.page,
		PerPage:       p.perPage,
		TotalPages:    totalPages(len(ranked), p.perPage),
		TotalArticles: len(ranked),
		LastUpdated:   lastUpdated,
	}
	start := (p.page - 1) * p.perPage
	if start >= len(ranked) {
		return page, nil
	}
	end := min(start+p.perPage, len(ranked))
	for _, a := range ranked[start:end] {
		_, ok := bookmarked[a.ID]
		page.Articles = append(page.Articles, articleView{Article: a, Bookmarked: ok})
	}
	return page, nil
}

func (s *Server) serveArticles(w http.ResponseWriter, r *http.Request, filter database.ArticleFilter) {
	p, err := s.parsePagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("unread %q: %w", raw, errBadRequest))
			return
		}
		filter.UnreadOnly = unread
	}

	page, err := s.rankedPage(r.Context(), filter, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	var filter database.ArticleFilter
	if name := r.URL.Query().Get("category"); name != "" {
		if _, err := s.store.GetCategoryByName(r.Context(), name); err != nil {
			s.writeError(w, r, err)
			return
		}
		filter.CategoryName = name
	}
	s.serveArticles(w, r, filter)
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.GetListByName(r.Context(), model.BookmarksListName)
	if err != nil {
		// The Bookmarks list is seeded; its absence is a server fault.
		s.writeError(w, r, missingReserved(err))
		return
	}
	s.serveArticles(w, r, database.ArticleFilter{ListID: list.ID})
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	listID, err := idParam(r, "listID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetListByID(r.Context(), listID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveArticles(w, r, database.ArticleFilter{ListID: listID})
}

func (s *Server) handleToggleBookmark(w http.ResponseWriter, r *http.Request) {
	articleID, err := idParam(r, "articleID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetArticle(r.Context(), articleID); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.store.GetListByName(r.Context(), model.BookmarksListName)
	if err != nil {
		s.writeError(w, r, missingReserved(err))
		return
	}

	bookmarked, err := s.store.ToggleListMembership(r.Context(), articleID, list.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"article_id": articleID,
		"bookmarked": bookmarked,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	articleID, err := idParam(r, "articleID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.MarkArticleRead(r.Context(), articleID, s.now()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "article_id": articleID})
}

// handleOpenArticle marks the article read and redirects to its stored
// link. Only links taken from the article row are followed.
func (s *Server) handleOpenArticle(w http.ResponseWriter, r *http.Request) {
	articleID, err := idParam(r, "articleID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	article, err := s.store.GetArticle(r.Context(), articleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.MarkArticleRead(r.Context(), articleID, s.now()); err != nil {
		s.log.WarnContext(r.Context(), "Failed to mark article read",
			"error", err,
			"articleID", articleID)
	}
	if article.Link == "" {
		s.writeError(w, r, fmt.Errorf("article %d has no link: %w", articleID, database.ErrNotFound))
		return
	}
	http.Redirect(w, r, article.Link, http.StatusFound)
}

// missingReserved turns a lookup miss on a seeded row into an internal
// error.
func missingReserved(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("reserved list missing: %s", err.Error())
	}
	return err
}
