package handler

import (
	"net/http"
	"time"

	"Mansoor88-6/driver-agent/internal/session"

	"go.uber.org/zap"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionStatus struct {
	Authenticated bool          `json:"authenticated"`
	Phase         session.Phase `json:"phase"`
	WarningActive bool          `json:"warning_active"`
	IdleMs        int64         `json:"idle_ms"`
	RemainingMs   int64         `json:"remaining_ms"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
}

type SessionHandler struct {
	session *session.Manager
	logger  *zap.Logger
}

func NewSessionHandler(manager *session.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		session: manager,
		logger:  logger,
	}
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Missing username or password", http.StatusBadRequest)
		return
	}

	if err := h.session.Login(r.Context(), req.Username, req.Password); err != nil {
		writeError(w, h.logger, "Login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout(r.Context(), session.ReasonUser)
	writeJSON(w, http.StatusOK, h.status())
}

func (h *SessionHandler) Activity(w http.ResponseWriter, r *http.Request) {
	h.session.TouchActivity()
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) DismissWarning(w http.ResponseWriter, r *http.Request) {
	h.session.DismissWarning()
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *SessionHandler) status() SessionStatus {
	timer := h.session.Timer()
	st := SessionStatus{
		Authenticated: h.session.Authenticated(),
		Phase:         timer.Phase(),
		WarningActive: timer.WarningActive(),
		IdleMs:        timer.IdleFor().Milliseconds(),
		RemainingMs:   timer.Remaining().Milliseconds(),
	}
	if exp := h.session.ExpiresAt(); !exp.IsZero() {
		st.ExpiresAt = &exp
	}
	return st
}
