package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"Mansoor88-6/driver-agent/internal/client"
	"Mansoor88-6/driver-agent/internal/collector"
	"Mansoor88-6/driver-agent/internal/connectivity"
	"Mansoor88-6/driver-agent/internal/handler"
	"Mansoor88-6/driver-agent/internal/idgen"
	"Mansoor88-6/driver-agent/internal/metrics"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/queue"
	"Mansoor88-6/driver-agent/internal/server"
	"Mansoor88-6/driver-agent/internal/service"
	"Mansoor88-6/driver-agent/internal/session"
	"Mansoor88-6/driver-agent/internal/storage"
	"Mansoor88-6/driver-agent/internal/tracker"
	"Mansoor88-6/driver-agent/internal/trips"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingActivity struct {
	n atomic.Int32
}

func (c *countingActivity) TouchActivity() { c.n.Add(1) }

type apiFixture struct {
	api      *httptest.Server
	queue    *queue.TripQueue
	monitor  *connectivity.Monitor
	hub      *server.Hub
	activity *countingActivity
}

func backend() http.Handler {
	var next atomic.Int64
	next.Store(100)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jwt-auth/v1/token":
			json.NewEncoder(w).Encode(models.LoginResponse{Token: "tok"})
		case "/highwayads/v1/driver-trip":
			var payloads []models.TripPayload
			json.NewDecoder(r.Body).Decode(&payloads)
			ids := make([]int64, len(payloads))
			for i := range ids {
				ids[i] = next.Add(1)
			}
			json.NewEncoder(w).Encode(models.PostTripsResponse{Success: true, IDs: ids, Count: len(ids)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	be := httptest.NewServer(backend())
	t.Cleanup(be.Close)

	clock := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()
	api := client.NewAPIClient(be.URL, "/highwayads/v1", 5*time.Second, logger)
	timer := session.NewIdleTimer(session.TimerConfig{}, clock, logger)
	t.Cleanup(timer.Stop)
	mgr := session.NewManager(api, store, timer, false, clock, logger)
	api.SetTokenSource(mgr)

	gen, err := idgen.NewGenerator("router-test")
	require.NoError(t, err)
	q := queue.New(store, api, mgr, gen, queue.Options{Clock: clock}, logger)
	list := trips.NewList(api, mgr, store, 50, logger)
	mon := connectivity.NewMonitor(api, "/", time.Minute, clock, logger)
	rec := tracker.NewRecorder(store, clock, logger)
	pc := collector.NewPointCollector(100, 0, func() bool { return rec.Status() == models.TrackingActive }, clock, logger)
	pc.Start(func(points []models.TripPoint) { rec.AddPoints(points) })
	t.Cleanup(pc.Stop)

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg, reg)
	hub := server.NewHub(logger)
	svc := service.NewSyncService(service.Deps{
		Queue: q, List: list, Session: mgr, Monitor: mon, Recorder: rec, Metrics: m, Events: hub,
	}, service.Options{Clock: clock}, logger)

	activity := &countingActivity{}
	h := New(Handlers{
		Session:  handler.NewSessionHandler(mgr, logger),
		Queue:    handler.NewQueueHandler(svc, q, logger),
		Trips:    handler.NewTripsHandler(list, logger),
		Tracking: handler.NewTrackingHandler(rec, pc, logger),
		System:   handler.NewSystemHandler(service.NewSummaryService(api, store, logger), mon, logger),
		Events:   hub,
		Metrics:  m.Handler(),
	}, activity, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &apiFixture{api: srv, queue: q, monitor: mon, hub: hub, activity: activity}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.api.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthAndCORS(t *testing.T) {
	f := newAPI(t)

	resp, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, _ = f.do(t, http.MethodOptions, "/api/v1/queue", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestQueueFlow(t *testing.T) {
	f := newAPI(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/queue", `{"route":"Morning Route","miles":12.4,"earnings":18.5}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/v1/queue/flush", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var flush handler.FlushResponse
	require.NoError(t, json.Unmarshal(body, &flush))
	assert.True(t, flush.Skipped)
	assert.Equal(t, queue.SkipUnauthenticated, flush.Reason)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/session/login", `{"username":"driver","password":"pw"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/v1/queue/flush", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &flush))
	require.Len(t, flush.Sent, 1)
	assert.Equal(t, int64(101), *flush.Sent[0].ServerID)

	resp, body = f.do(t, http.MethodGet, "/api/v1/queue", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q handler.QueueResponse
	require.NoError(t, json.Unmarshal(body, &q))
	assert.Empty(t, q.Items)
	assert.Equal(t, queue.DefaultMaxRetries, q.MaxRetries)
}

func TestQueueErrors(t *testing.T) {
	f := newAPI(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/queue", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/queue", `[]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/queue/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/queue", `[{"route":"A"},{"route":"B"}]`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, f.queue.Items(), 2)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/queue", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.queue.Items())
}

func TestActivityMiddleware(t *testing.T) {
	f := newAPI(t)

	f.do(t, http.MethodGet, "/api/v1/queue", "")
	f.do(t, http.MethodPost, "/api/v1/session/activity", "")
	assert.Zero(t, f.activity.n.Load())

	f.do(t, http.MethodPost, "/api/v1/queue", `{"route":"A"}`)
	assert.Equal(t, int32(1), f.activity.n.Load())
}

func TestTrackingEndpoints(t *testing.T) {
	f := newAPI(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/tracking/pause", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/v1/tracking/points", `{"points":[{"latitude":1,"longitude":1,"timestamp":1}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"accepted":0}`, string(body))

	resp, _ = f.do(t, http.MethodPost, "/api/v1/tracking/start", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/v1/tracking/points", `{"points":[{"latitude":0,"longitude":0,"timestamp":1}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"accepted":1}`, string(body))

	resp, body = f.do(t, http.MethodPost, "/api/v1/tracking/finish", `{"points":[{"latitude":0.1,"longitude":0,"timestamp":2}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trip models.TrackedTrip
	require.NoError(t, json.Unmarshal(body, &trip))
	assert.Len(t, trip.Points, 2)
	assert.NotNil(t, trip.EndedAt)
}

func TestFiltersAndConnectivity(t *testing.T) {
	f := newAPI(t)

	resp, _ := f.do(t, http.MethodPut, "/api/v1/trips/filters", `{"date_from":"03/01/2025"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/v1/trips/filters", `{"date_from":"2025-03-01"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/connectivity", `{"online":false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, f.monitor.Online())
}

func TestSessionStatus(t *testing.T) {
	f := newAPI(t)

	resp, body := f.do(t, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st handler.SessionStatus
	require.NoError(t, json.Unmarshal(body, &st))
	assert.False(t, st.Authenticated)
	assert.Equal(t, session.PhaseExpired, st.Phase)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/session/login", `{"username":"driver"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/v1/session/login", `{"username":"driver","password":"pw"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Authenticated)
	assert.Equal(t, session.PhaseActive, st.Phase)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPI(t)
	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "driver_connectivity_online")
}

func TestEventsWebsocket(t *testing.T) {
	f := newAPI(t)

	url := "ws" + strings.TrimPrefix(f.api.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	f.hub.Publish(service.EventQueueChanged, map[string]int{"pending": 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg server.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, service.EventQueueChanged, msg.Type)
}
