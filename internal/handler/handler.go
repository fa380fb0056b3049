package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"Mansoor88-6/driver-agent/internal/client"
	"Mansoor88-6/driver-agent/internal/queue"
	"Mansoor88-6/driver-agent/internal/tracker"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain and backend errors to HTTP statuses
func writeError(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
	} else {
		logger.Debug(msg, zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var (
		authErr      *client.AuthError
		rateErr      *client.RateLimitError
		badReqErr    *client.BadRequestError
		backendErr   *client.BackendError
		syntaxErr    *json.SyntaxError
		unmarshalErr *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, queue.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrItemSyncing), errors.Is(err, tracker.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &syntaxErr), errors.As(err, &unmarshalErr):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	case errors.As(err, &badReqErr):
		return http.StatusBadRequest
	case errors.As(err, &backendErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
