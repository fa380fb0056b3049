package handler

import (
	"net/http"
	"time"

	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/trips"

	"go.uber.org/zap"
)

type TripsHandler struct {
	list   *trips.List
	logger *zap.Logger
}

func NewTripsHandler(list *trips.List, logger *zap.Logger) *TripsHandler {
	return &TripsHandler{
		list:   list,
		logger: logger,
	}
}

func (h *TripsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.list.Snapshot())
}

func (h *TripsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.list.Refresh(r.Context()); err != nil {
		writeError(w, h.logger, "Trip refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.list.Snapshot())
}

// More loads the next page; loaded is false when there was nothing to load
func (h *TripsHandler) More(w http.ResponseWriter, r *http.Request) {
	loaded, err := h.list.LoadMore(r.Context())
	if err != nil {
		writeError(w, h.logger, "Loading more trips failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded": loaded,
		"list":   h.list.Snapshot(),
	})
}

func (h *TripsHandler) SetFilters(w http.ResponseWriter, r *http.Request) {
	var filters models.TripFilters
	if err := decode(r, &filters); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	for _, d := range []string{filters.DateFrom, filters.DateTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			http.Error(w, "Dates must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	if err := h.list.SetFilters(r.Context(), filters); err != nil {
		writeError(w, h.logger, "Applying trip filters failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.list.Snapshot())
}
