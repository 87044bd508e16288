package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"finboard-backend/internal/middleware"
	"finboard-backend/internal/models"
)

type DashboardHandler struct {
	repo dashboardRepository
}

type dashboardRepository interface {
	Create(ctx context.Context, d *models.Dashboard) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Dashboard, error)
	Update(ctx context.Context, d *models.Dashboard) error
	Delete(ctx context.Context, id uuid.UUID) error
}

func NewDashboardHandler(repo dashboardRepository) *DashboardHandler {
	return &DashboardHandler{repo: repo}
}

func (h *DashboardHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	dashboards, err := h.repo.ListForUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list dashboards", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"dashboards": dashboards})
}

func (h *DashboardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDashboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Title is required", r))
		return
	}

	dashboard := &models.Dashboard{
		OwnerID:  middleware.GetUserID(r.Context()),
		Title:    req.Title,
		Layout:   req.Layout,
		IsShared: req.IsShared,
	}

	if err := h.repo.Create(r.Context(), dashboard); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create dashboard", r))
		return
	}

	writeJSON(w, http.StatusCreated, dashboard)
}

func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid dashboard ID", r))
		return
	}

	dashboard, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Dashboard not found", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	if dashboard.OwnerID != userID && !dashboard.IsShared {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Dashboard not found", r))
		return
	}

	writeJSON(w, http.StatusOK, dashboard)
}

// Update replaces the dashboard document wholesale. Collaboration clients
// resolve concurrent edits among themselves; the last write here wins.
func (h *DashboardHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid dashboard ID", r))
		return
	}

	var req models.UpdateDashboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	dashboard, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Dashboard not found", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	if dashboard.OwnerID != userID && !dashboard.IsShared {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Dashboard not found", r))
		return
	}

	if req.Title != nil {
		dashboard.Title = *req.Title
	}
	if req.Layout != nil {
		dashboard.Layout = req.Layout
	}
	if req.IsShared != nil {
		dashboard.IsShared = *req.IsShared
	}

	if err := h.repo.Update(r.Context(), dashboard); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to update dashboard", r))
		return
	}

	writeJSON(w, http.StatusOK, dashboard)
}

func (h *DashboardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid dashboard ID", r))
		return
	}

	dashboard, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Dashboard not found", r))
		return
	}

	if dashboard.OwnerID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Only the owner can delete a dashboard", r))
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete dashboard", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Dashboard deleted"})
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}
