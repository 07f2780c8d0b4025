// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/quickfeed/internal/database"
	"github.com/bryan-buckman/quickfeed/internal/rss"
)

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
	// refreshTimeout bounds runs started over HTTP.
	refreshTimeout = 10 * time.Minute
	// reloadBuffer is how many progress lines a slow reader may lag behind.
	reloadBuffer = 16
)

// Server is the main HTTP server.
type Server struct {
	store   database.Store
	fetcher *rss.Fetcher
	log     *slog.Logger
	perPage int
	now     func() time.Time
	router  chi.Router
	http    *http.Server
}

// New creates a new server.
func New(store database.Store, fetcher *rss.Fetcher, log *slog.Logger, perPage int) *Server {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	s := &Server{
		store:   store,
		fetcher: fetcher,
		log:     log,
		perPage: perPage,
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/articles", http.StatusFound)
	})
	r.Get("/articles/{articleID}/open", s.handleOpenArticle)
	r.Get("/reload", s.handleReload)

	r.Route("/api", func(r chi.Router) {
		r.Get("/articles", s.handleArticles)
		r.Post("/articles/{articleID}/bookmark", s.handleToggleBookmark)
		r.Post("/articles/{articleID}/read", s.handleMarkRead)
		r.Get("/bookmarks", s.handleBookmarks)
		r.Get("/lists/{listID}/articles", s.handleListArticles)

		r.Get("/feeds", s.handleFeeds)
		r.Post("/feeds", s.handleSubscribe)
		r.Post("/feeds/categories", s.handleBulkSetCategory)
		r.Get("/feeds/{feedID}", s.handleFeed)
		r.Patch("/feeds/{feedID}", s.handleSetFeedCategory)
		r.Delete("/feeds/{feedID}", s.handleDeleteFeed)

		r.Get("/categories", s.handleCategories)
		r.Post("/categories", s.handleCreateCategory)
		r.Get("/categories/{categoryID}", s.handleCategory)
		r.Put("/categories/{categoryID}", s.handleUpdateCategory)
		r.Delete("/categories/{categoryID}", s.handleDeleteCategory)

		r.Get("/sidebar", s.handleSidebar)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})

	s.router = r
}

// ServeHTTP lets the server be mounted or tested directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("Server starting",
		"addr", addr,
		"backend", s.store.DatabaseType())
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()))
	})
}
