package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Mansoor88-6/driver-agent/internal/client"
	"Mansoor88-6/driver-agent/internal/connectivity"
	"Mansoor88-6/driver-agent/internal/idgen"
	"Mansoor88-6/driver-agent/internal/metrics"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/queue"
	"Mansoor88-6/driver-agent/internal/session"
	"Mansoor88-6/driver-agent/internal/storage"
	"Mansoor88-6/driver-agent/internal/tracker"
	"Mansoor88-6/driver-agent/internal/trips"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend assigns increasing server ids starting at nextID and lists
// everything it accepted.
type fakeBackend struct {
	mu       sync.Mutex
	nextID   int64
	accepted []models.Trip
	posts    atomic.Int32
	revokes  atomic.Int32
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/jwt-auth/v1/token":
		json.NewEncoder(w).Encode(models.LoginResponse{Token: "opaque-token"})
	case "/jwt-auth/v1/token/revoke":
		b.revokes.Add(1)
		w.WriteHeader(http.StatusOK)
	case "/highwayads/v1/driver-trip":
		b.posts.Add(1)
		var payloads []models.TripPayload
		if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		ids := make([]int64, len(payloads))
		for i, p := range payloads {
			ids[i] = b.nextID
			trip := models.Trip{ID: b.nextID, Route: p.Route, Date: p.TripDate, Status: "Active"}
			if p.Miles != nil {
				trip.Miles = *p.Miles
			}
			if p.Earnings != nil {
				trip.Earnings = *p.Earnings
			}
			b.accepted = append(b.accepted, trip)
			b.nextID++
		}
		b.mu.Unlock()
		json.NewEncoder(w).Encode(models.PostTripsResponse{Success: true, IDs: ids, Count: len(ids)})
	case "/highwayads/v1/driver-trips":
		b.mu.Lock()
		list := append([]models.Trip{}, b.accepted...)
		b.mu.Unlock()
		json.NewEncoder(w).Encode(models.PaginatedTrips{Page: 1, PerPage: 50, Total: len(list), TotalPages: 1, Trips: list})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type recordedEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *recordedEvents) Publish(event string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordedEvents) has(event string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev == event {
			return true
		}
	}
	return false
}

type memoryHistory struct {
	mu      sync.Mutex
	records []models.FlushRecord
}

func (h *memoryHistory) Create(_ context.Context, r *models.FlushRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *r)
	return nil
}

type harness struct {
	svc      *SyncService
	backend  *fakeBackend
	store    *storage.MemoryStore
	queue    *queue.TripQueue
	list     *trips.List
	session  *session.Manager
	monitor  *connectivity.Monitor
	recorder *tracker.Recorder
	history  *memoryHistory
	events   *recordedEvents
	registry *prometheus.Registry
	clock    *clockwork.FakeClock
}

func newHarness(t *testing.T, autoLoad bool) *harness {
	t.Helper()
	logger := zap.NewNop()
	backend := &fakeBackend{nextID: 55}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore()
	api := client.NewAPIClient(srv.URL, "/highwayads/v1", 5*time.Second, logger)

	timer := session.NewIdleTimer(session.TimerConfig{}, clock, logger)
	mgr := session.NewManager(api, store, timer, false, clock, logger)
	api.SetTokenSource(mgr)
	api.OnUnauthorized(mgr.HandleUnauthorized)

	gen, err := idgen.NewGenerator("test-device")
	require.NoError(t, err)

	q := queue.New(store, api, mgr, gen, queue.Options{Clock: clock}, logger)
	list := trips.NewList(api, mgr, store, 50, logger)
	mon := connectivity.NewMonitor(api, "/", time.Minute, clock, logger)
	rec := tracker.NewRecorder(store, clock, logger)
	reg := prometheus.NewRegistry()
	history := &memoryHistory{}
	events := &recordedEvents{}

	svc := NewSyncService(Deps{
		Queue:    q,
		List:     list,
		Session:  mgr,
		Monitor:  mon,
		Recorder: rec,
		History:  history,
		Metrics:  metrics.NewCollector(reg, reg),
		Events:   events,
	}, Options{
		DeviceID:      "test-device",
		AutoLoadTrips: autoLoad,
		Clock:         clock,
		Location:      time.UTC,
	}, logger)

	t.Cleanup(func() {
		timer.Stop()
		svc.Stop()
	})

	return &harness{
		svc: svc, backend: backend, store: store, queue: q, list: list,
		session: mgr, monitor: mon, recorder: rec, history: history,
		events: events, registry: reg, clock: clock,
	}
}

func morningRoute() models.TripPayload {
	return models.TripPayload{
		Route:    "Morning Route",
		Miles:    models.Ptr(12.4),
		Earnings: models.Ptr(18.5),
		TripDate: "2025-03-14",
	}
}

func TestOfflineTripSyncsAfterLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.svc.Start(ctx))

	_, err := h.svc.Enqueue(ctx, []models.TripPayload{morningRoute()})
	require.NoError(t, err)

	res, err := h.svc.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, queue.SkipUnauthenticated, res.Reason)
	assert.Len(t, h.queue.Items(), 1)

	require.NoError(t, h.session.Login(ctx, "driver", "secret"))
	h.svc.Wait()

	assert.Empty(t, h.queue.Items())
	snap := h.list.Snapshot()
	require.Len(t, snap.Trips, 1)
	trip := snap.Trips[0]
	assert.Equal(t, int64(55), trip.ID)
	assert.Equal(t, "Morning Route", trip.Route)
	assert.Equal(t, 12.4, trip.Miles)
	assert.Equal(t, 18.5, trip.Earnings)
	assert.Equal(t, "2025-03-14", trip.Date)

	h.history.mu.Lock()
	require.Len(t, h.history.records, 1)
	assert.Equal(t, 1, h.history.records[0].Sent)
	assert.Equal(t, "test-device", h.history.records[0].DeviceID)
	h.history.mu.Unlock()

	expected := `
# HELP driver_trips_sent_total Total number of trips confirmed by the server
# TYPE driver_trips_sent_total counter
driver_trips_sent_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "driver_trips_sent_total"))
	assert.True(t, h.events.has(EventQueueChanged))
	assert.True(t, h.events.has(EventTripsChanged))
}

func TestLoginRefreshesListAfterFlush(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.svc.Start(ctx))

	_, err := h.svc.Enqueue(ctx, []models.TripPayload{morningRoute(), {Route: "Evening Route", TripDate: "2025-03-13"}})
	require.NoError(t, err)

	require.NoError(t, h.session.Login(ctx, "driver", "secret"))
	h.svc.Wait()

	snap := h.list.Snapshot()
	require.Len(t, snap.Trips, 2)
	assert.Equal(t, int64(55), snap.Trips[0].ID)
	assert.Equal(t, int64(56), snap.Trips[1].ID)
	assert.Equal(t, 2, snap.Total)
}

func TestOnlineTransitionTriggersFlush(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.svc.Start(ctx))

	h.monitor.SetOnline(false)
	_, err := h.svc.Enqueue(ctx, []models.TripPayload{morningRoute()})
	require.NoError(t, err)

	require.NoError(t, h.session.Login(ctx, "driver", "secret"))
	h.svc.Wait()
	assert.Len(t, h.queue.Items(), 1)
	assert.Zero(t, h.backend.posts.Load())

	h.monitor.SetOnline(true)
	h.svc.Wait()
	assert.Empty(t, h.queue.Items())
	assert.Equal(t, int32(1), h.backend.posts.Load())
	assert.True(t, h.events.has(EventConnectivity))
}

func TestScheduledTickSkipsWhenNothingEligible(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.svc.Start(ctx))
	require.NoError(t, h.session.Login(ctx, "driver", "secret"))
	h.svc.Wait()

	h.svc.tick(TriggerSchedule)
	assert.Zero(t, h.backend.posts.Load())

	_, err := h.svc.Enqueue(ctx, []models.TripPayload{morningRoute()})
	require.NoError(t, err)
	h.svc.tick(TriggerSchedule)
	assert.Equal(t, int32(1), h.backend.posts.Load())
}

func TestLogoutClearsList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.svc.Start(ctx))
	require.NoError(t, h.session.Login(ctx, "driver", "secret"))
	h.svc.Wait()

	h.list.AppendOptimistic(ctx, models.Trip{ID: 9, Route: "Cached", Date: "2025-03-01"})
	require.Len(t, h.list.Snapshot().Trips, 1)

	_, cached, err := h.store.Get(ctx, storage.KeyTripCache)
	require.NoError(t, err)
	require.True(t, cached)

	h.session.Logout(ctx, session.ReasonUser)
	assert.Empty(t, h.list.Snapshot().Trips)
	assert.True(t, h.events.has(EventLogout))
	assert.Equal(t, int32(1), h.backend.revokes.Load())

	_, cached, err = h.store.Get(ctx, storage.KeyTripCache)
	require.NoError(t, err)
	assert.False(t, cached, "previous driver's trips must not survive logout")

	// after a restart nothing is shown until someone logs in
	restarted := trips.NewList(nil, h.session, h.store, 50, zap.NewNop())
	restarted.LoadCache(ctx)
	assert.Empty(t, restarted.Snapshot().Trips)
}

func TestFinishedTripIsQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.svc.Start(ctx))

	_, err := h.recorder.Start()
	require.NoError(t, err)
	h.recorder.AddPoints([]models.TripPoint{{Latitude: 0, Longitude: 0}, {Latitude: 0.1, Longitude: 0}})
	h.clock.Advance(30 * time.Minute)
	_, err = h.recorder.Finish(ctx, nil)
	require.NoError(t, err)
	h.svc.Wait()

	items := h.queue.Items()
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Payload.Miles)
	assert.Equal(t, 6.9, *items[0].Payload.Miles)
	assert.Equal(t, "2025-03-14", items[0].Payload.TripDate)
	assert.Empty(t, h.recorder.Unqueued())
}

func TestStartQueuesLeftoverTrackedTrips(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	end := h.clock.Now().UnixMilli()
	blob, err := json.Marshal([]models.TrackedTrip{{ID: "left", StartedAt: end - 60000, EndedAt: &end}})
	require.NoError(t, err)
	require.NoError(t, h.store.Set(ctx, storage.KeyTrackedTrips, string(blob)))

	require.NoError(t, h.svc.Start(ctx))
	assert.Len(t, h.queue.Items(), 1)
	assert.Empty(t, h.recorder.Unqueued())
}
