package handler

import (
	"net/http"

	"Mansoor88-6/driver-agent/internal/collector"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/tracker"

	"go.uber.org/zap"
)

type PointsRequest struct {
	Points []models.TripPoint `json:"points"`
}

type TrackingHandler struct {
	recorder  *tracker.Recorder
	collector *collector.PointCollector
	logger    *zap.Logger
}

func NewTrackingHandler(recorder *tracker.Recorder, pc *collector.PointCollector, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{
		recorder:  recorder,
		collector: pc,
		logger:    logger,
	}
}

func (h *TrackingHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recorder.State())
}

func (h *TrackingHandler) Start(w http.ResponseWriter, r *http.Request) {
	trip, err := h.recorder.Start()
	if err != nil {
		writeError(w, h.logger, "Failed to start tracking", err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (h *TrackingHandler) Pause(w http.ResponseWriter, r *http.Request) {
	// buffered fixes belong to the segment before the pause
	h.collector.Flush()
	if err := h.recorder.Pause(); err != nil {
		writeError(w, h.logger, "Failed to pause tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, h.recorder.State())
}

func (h *TrackingHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.recorder.Resume(); err != nil {
		writeError(w, h.logger, "Failed to resume tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, h.recorder.State())
}

// Points accepts fixes from the location source
func (h *TrackingHandler) Points(w http.ResponseWriter, r *http.Request) {
	var req PointsRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	accepted := h.collector.Add(req.Points...)
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

// Finish ends the trip with any buffered fixes plus those in the body
func (h *TrackingHandler) Finish(w http.ResponseWriter, r *http.Request) {
	var req PointsRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	final := h.collector.Drain()
	final = append(final, req.Points...)
	trip, err := h.recorder.Finish(r.Context(), final)
	if err != nil {
		writeError(w, h.logger, "Failed to finish tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
