package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/queue"
	"Mansoor88-6/driver-agent/internal/service"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type QueueResponse struct {
	Items      []models.QueueItem `json:"items"`
	Stats      models.QueueStats  `json:"stats"`
	Flushing   bool               `json:"flushing"`
	LastError  string             `json:"last_error,omitempty"`
	MaxRetries int                `json:"max_retries"`
}

type FlushResponse struct {
	Skipped   bool               `json:"skipped"`
	Reason    string             `json:"reason,omitempty"`
	Submitted int                `json:"submitted"`
	Sent      []models.QueueItem `json:"sent"`
	Failed    []models.QueueItem `json:"failed"`
	Error     string             `json:"error,omitempty"`
}

type QueueHandler struct {
	sync   *service.SyncService
	queue  *queue.TripQueue
	logger *zap.Logger
}

func NewQueueHandler(sync *service.SyncService, q *queue.TripQueue, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{
		sync:   sync,
		queue:  q,
		logger: logger,
	}
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.queue.Items()
	writeJSON(w, http.StatusOK, QueueResponse{
		Items:      items,
		Stats:      h.queue.Stats(),
		Flushing:   h.queue.Flushing(),
		LastError:  h.queue.LastError(),
		MaxRetries: h.queue.MaxRetries(),
	})
}

// Enqueue accepts a single payload object or an array of payloads
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var payloads []models.TripPayload
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &payloads)
	} else {
		var single models.TripPayload
		err = json.Unmarshal(trimmed, &single)
		payloads = []models.TripPayload{single}
	}
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(payloads) == 0 {
		http.Error(w, "No trips in request", http.StatusBadRequest)
		return
	}

	items, err := h.sync.Enqueue(r.Context(), payloads)
	if err != nil {
		writeError(w, h.logger, "Failed to enqueue trips", err)
		return
	}
	writeJSON(w, http.StatusCreated, items)
}

func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		writeError(w, h.logger, "Failed to clear queue", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	if err := h.queue.Remove(r.Context(), clientID); err != nil {
		writeError(w, h.logger, "Failed to remove queue item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	res, err := h.sync.Retry(r.Context(), clientID)
	h.writeFlush(w, res, err)
}

func (h *QueueHandler) Flush(w http.ResponseWriter, r *http.Request) {
	res, err := h.sync.Flush(r.Context())
	h.writeFlush(w, res, err)
}

// writeFlush reports a failed submission as 502 with the per-item outcome
func (h *QueueHandler) writeFlush(w http.ResponseWriter, res *queue.FlushResult, err error) {
	if res == nil {
		if err == nil {
			writeJSON(w, http.StatusOK, FlushResponse{Skipped: true})
			return
		}
		writeError(w, h.logger, "Flush failed", err)
		return
	}

	out := FlushResponse{
		Skipped:   res.Skipped,
		Reason:    res.Reason,
		Submitted: res.Submitted,
		Sent:      res.Sent,
		Failed:    res.Failed,
	}
	status := http.StatusOK
	if err != nil {
		out.Error = err.Error()
		status = statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, out)
}
