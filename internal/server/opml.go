package server

import (
	"fmt"
	"net/http"

	"github.com/bryan-buckman/quickfeed/internal/opml"
)

const maxOPMLSize = 10 << 20

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxOPMLSize); err != nil {
		s.writeError(w, r, fmt.Errorf("parse form: %v: %w", err, errBadRequest))
		return
	}
	file, _, err := r.FormFile("opml")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("no file provided: %w", errBadRequest))
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}

	res, err := opml.Import(r.Context(), s.store, entries, s.log)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"imported": res.Added,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
		"total":    len(entries),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	categories, uncategorized, err := s.store.GetCategoriesWithFeeds(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := opml.Export("quickfeed subscriptions", categories, uncategorized)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=quickfeed-feeds.opml")
	w.Write(data)
}
