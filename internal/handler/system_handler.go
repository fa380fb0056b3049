package handler

import (
	"net/http"
	"time"

	"Mansoor88-6/driver-agent/internal/connectivity"
	"Mansoor88-6/driver-agent/internal/service"

	"go.uber.org/zap"
)

type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

// SystemHandler serves health, summary and connectivity endpoints
type SystemHandler struct {
	summary *service.SummaryService
	monitor *connectivity.Monitor
	logger  *zap.Logger
}

func NewSystemHandler(summary *service.SummaryService, monitor *connectivity.Monitor, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		summary: summary,
		monitor: monitor,
		logger:  logger,
	}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"online":    h.monitor.Online(),
		"timestamp": time.Now().Unix(),
	})
}

func (h *SystemHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.summary.Get(r.Context())
	if err != nil {
		writeError(w, h.logger, "Failed to load summary", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SystemHandler) Connectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.monitor.Online()})
}

// SetConnectivity records the network state reported by the device
func (h *SystemHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := decode(r, &req); err != nil || req.Online == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.monitor.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.monitor.Online()})
}
