package server

import (
	"net/http"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OrderNumber int    `json:"order_number"`
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.GetCategories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.store.CreateCategory(r.Context(), model.Category{
		Name:        req.Name,
		Description: req.Description,
		OrderNumber: req.OrderNumber,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	category, err := s.store.GetCategoryByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := idParam(r, "categoryID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	category, err := s.store.GetCategoryByID(r.Context(), categoryID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	feeds, err := s.store.GetFeedsByCategoryID(r.Context(), categoryID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, model.CategoryWithFeeds{Category: *category, Feeds: feeds})
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := idParam(r, "categoryID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.store.UpdateCategory(r.Context(), model.Category{
		ID:          categoryID,
		Name:        req.Name,
		Description: req.Description,
		OrderNumber: req.OrderNumber,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	category, err := s.store.GetCategoryByID(r.Context(), categoryID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := idParam(r, "categoryID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	moved, err := s.store.DeleteCategory(r.Context(), categoryID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "Deleted category",
		"categoryID", categoryID,
		"movedFeeds", moved)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "moved_feeds": moved})
}
