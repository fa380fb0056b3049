package router

import (
	"net/http"
	"strings"
	"time"

	"Mansoor88-6/driver-agent/internal/handler"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ActivityRecorder receives driver activity from mutating UI requests
type ActivityRecorder interface {
	TouchActivity()
}

// Handlers groups everything the router mounts
type Handlers struct {
	Session  *handler.SessionHandler
	Queue    *handler.QueueHandler
	Trips    *handler.TripsHandler
	Tracking *handler.TrackingHandler
	System   *handler.SystemHandler
	Events   http.Handler
	Metrics  http.Handler
}

func New(h Handlers, activity ActivityRecorder, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.System.Health).Methods(http.MethodGet)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}
	if h.Events != nil {
		r.Handle("/ws", h.Events).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(activityMiddleware(activity))

	api.HandleFunc("/session", h.Session.Status).Methods(http.MethodGet)
	api.HandleFunc("/session/login", h.Session.Login).Methods(http.MethodPost)
	api.HandleFunc("/session/logout", h.Session.Logout).Methods(http.MethodPost)
	api.HandleFunc("/session/activity", h.Session.Activity).Methods(http.MethodPost)
	api.HandleFunc("/session/dismiss-warning", h.Session.DismissWarning).Methods(http.MethodPost)

	api.HandleFunc("/queue", h.Queue.List).Methods(http.MethodGet)
	api.HandleFunc("/queue", h.Queue.Enqueue).Methods(http.MethodPost)
	api.HandleFunc("/queue", h.Queue.Clear).Methods(http.MethodDelete)
	api.HandleFunc("/queue/flush", h.Queue.Flush).Methods(http.MethodPost)
	api.HandleFunc("/queue/{clientId}", h.Queue.Remove).Methods(http.MethodDelete)
	api.HandleFunc("/queue/{clientId}/retry", h.Queue.Retry).Methods(http.MethodPost)

	api.HandleFunc("/trips", h.Trips.List).Methods(http.MethodGet)
	api.HandleFunc("/trips/refresh", h.Trips.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/trips/more", h.Trips.More).Methods(http.MethodPost)
	api.HandleFunc("/trips/filters", h.Trips.SetFilters).Methods(http.MethodPut)

	api.HandleFunc("/summary", h.System.Summary).Methods(http.MethodGet)
	api.HandleFunc("/connectivity", h.System.Connectivity).Methods(http.MethodGet)
	api.HandleFunc("/connectivity", h.System.SetConnectivity).Methods(http.MethodPost)

	api.HandleFunc("/tracking", h.Tracking.State).Methods(http.MethodGet)
	api.HandleFunc("/tracking/start", h.Tracking.Start).Methods(http.MethodPost)
	api.HandleFunc("/tracking/pause", h.Tracking.Pause).Methods(http.MethodPost)
	api.HandleFunc("/tracking/resume", h.Tracking.Resume).Methods(http.MethodPost)
	api.HandleFunc("/tracking/finish", h.Tracking.Finish).Methods(http.MethodPost)
	api.HandleFunc("/tracking/points", h.Tracking.Points).Methods(http.MethodPost)

	return withLogging(withCORS(r), logger)
}

// activityMiddleware treats mutating requests as driver activity. Session
// routes manage the timer themselves and location fixes are not driver input.
func activityMiddleware(activity ActivityRecorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if activity != nil && isMutating(r.Method) &&
				!strings.HasPrefix(r.URL.Path, "/api/v1/session") &&
				r.URL.Path != "/api/v1/tracking/points" &&
				r.URL.Path != "/api/v1/connectivity" {
				activity.TouchActivity()
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
