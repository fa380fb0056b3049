package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/driver-agent/internal/connectivity"
	"Mansoor88-6/driver-agent/internal/idgen"
	"Mansoor88-6/driver-agent/internal/metrics"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/queue"
	"Mansoor88-6/driver-agent/internal/session"
	"Mansoor88-6/driver-agent/internal/tracker"
	"Mansoor88-6/driver-agent/internal/trips"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event names pushed to the UI
const (
	EventIdleWarning  = "idle_warning"
	EventSessionAlive = "session_active"
	EventLogin        = "login"
	EventLogout       = "logout"
	EventQueueChanged = "queue_changed"
	EventTripsChanged = "trips_changed"
	EventTracking     = "tracking_changed"
	EventConnectivity = "connectivity_changed"
)

// Flush triggers
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerOnline   = "online"
	TriggerLogin    = "login"
	TriggerStartup  = "startup"
	TriggerRetry    = "retry"
)

// Publisher pushes events to connected UI clients
type Publisher interface {
	Publish(event string, data any)
}

// HistoryRecorder stores flush outcomes
type HistoryRecorder interface {
	Create(ctx context.Context, record *models.FlushRecord) error
}

// Deps are the components the sync service orchestrates
type Deps struct {
	Queue    *queue.TripQueue
	List     *trips.List
	Session  *session.Manager
	Monitor  *connectivity.Monitor
	Recorder *tracker.Recorder
	History  HistoryRecorder
	Metrics  *metrics.Collector
	Events   Publisher
}

// Options controls scheduling
type Options struct {
	DeviceID      string
	FlushInterval time.Duration
	AutoFlush     bool
	AutoLoadTrips bool
	Clock         clockwork.Clock
	Location      *time.Location
}

// SyncService drives the queue and the trip list from login, connectivity and
// schedule signals.
type SyncService struct {
	queue    *queue.TripQueue
	list     *trips.List
	session  *session.Manager
	monitor  *connectivity.Monitor
	recorder *tracker.Recorder
	history  HistoryRecorder
	metrics  *metrics.Collector
	events   Publisher

	opts         Options
	placeholders idgen.Placeholders
	logger       *zap.Logger

	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// NewSyncService creates a new sync service
func NewSyncService(deps Deps, opts Options, logger *zap.Logger) *SyncService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	return &SyncService{
		queue:    deps.Queue,
		list:     deps.List,
		session:  deps.Session,
		monitor:  deps.Monitor,
		recorder: deps.Recorder,
		history:  deps.History,
		metrics:  deps.Metrics,
		events:   deps.Events,
		opts:     opts,
		logger:   logger,
		baseCtx:  context.Background(),
	}
}

// Start loads persisted state, wires the signal handlers and starts the flush schedule
func (s *SyncService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.logger.Info("Starting sync service", zap.String("device_id", s.opts.DeviceID))

	if err := s.queue.Load(ctx); err != nil {
		return fmt.Errorf("failed to load trip queue: %w", err)
	}
	s.list.LoadCache(ctx)
	if s.recorder != nil {
		if err := s.recorder.LoadPersisted(ctx); err != nil {
			return fmt.Errorf("failed to load tracked trips: %w", err)
		}
	}

	s.wire()
	s.updateQueueMetrics()

	if s.recorder != nil {
		s.enqueueUnqueued(ctx)
	}

	if s.opts.AutoFlush {
		s.cron = cron.New()
		spec := "@every " + s.opts.FlushInterval.String()
		if _, err := s.cron.AddFunc(spec, func() { s.tick(TriggerSchedule) }); err != nil {
			return fmt.Errorf("failed to schedule flush: %w", err)
		}
		s.cron.Start()
	}

	if s.session.Authenticated() {
		s.async(func(ctx context.Context) {
			s.autoFlush(ctx, TriggerStartup)
			if s.opts.AutoLoadTrips {
				s.refreshList(ctx)
			}
		})
	}

	s.logger.Info("Sync service started",
		zap.Duration("flush_interval", s.opts.FlushInterval),
		zap.Bool("auto_flush", s.opts.AutoFlush),
	)
	return nil
}

// Run starts the service and the connectivity probe loop, and blocks until ctx is done
func (s *SyncService) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Stop()
		return nil
	})
	return g.Wait()
}

// Stop halts the schedule and waits for in-flight background work
func (s *SyncService) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Sync service stopped")
}

func (s *SyncService) wire() {
	s.session.OnLogin(func() {
		s.events.Publish(EventLogin, nil)
		s.async(func(ctx context.Context) {
			s.autoFlush(ctx, TriggerLogin)
			if s.opts.AutoLoadTrips {
				s.refreshList(ctx)
			}
		})
	})
	s.session.OnLogout(func(reason string) {
		s.list.Purge(context.Background())
		if s.metrics != nil {
			s.metrics.RecordLogout(reason)
		}
		s.events.Publish(EventLogout, map[string]string{"reason": reason})
	})

	timer := s.session.Timer()
	timer.OnWarning(func(remaining time.Duration) {
		s.events.Publish(EventIdleWarning, map[string]int64{"remaining_ms": remaining.Milliseconds()})
	})
	timer.OnActive(func() {
		s.events.Publish(EventSessionAlive, nil)
	})

	s.monitor.Subscribe(func(online bool) {
		if s.metrics != nil {
			s.metrics.SetOnline(online)
		}
		s.events.Publish(EventConnectivity, map[string]bool{"online": online})
		if online {
			s.async(func(ctx context.Context) { s.autoFlush(ctx, TriggerOnline) })
		}
	})

	s.queue.OnChange(func() {
		s.updateQueueMetrics()
		s.events.Publish(EventQueueChanged, s.queue.Stats())
	})
	s.list.OnChange(func() {
		s.events.Publish(EventTripsChanged, nil)
	})
	s.list.OnStale(func() {
		if s.metrics != nil {
			s.metrics.RecordStaleLoad()
		}
	})

	if s.recorder != nil {
		s.recorder.OnFinish(func(trip models.TrackedTrip) {
			s.events.Publish(EventTracking, map[string]string{"status": string(models.TrackingIdle)})
			s.async(func(ctx context.Context) {
				if err := s.enqueueTracked(ctx, trip); err != nil {
					s.logger.Warn("Failed to enqueue finished trip",
						zap.String("trip_id", trip.ID),
						zap.Error(err),
					)
				}
			})
		})
	}
}

// Enqueue adds trips to the durable queue
func (s *SyncService) Enqueue(ctx context.Context, payloads []models.TripPayload) ([]models.QueueItem, error) {
	items, err := s.queue.AddTripsBatch(ctx, payloads)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordEnqueued(len(items))
	}
	return items, nil
}

// Flush submits eligible queue items now, whatever the connectivity state
func (s *SyncService) Flush(ctx context.Context) (*queue.FlushResult, error) {
	return s.flush(ctx, TriggerManual)
}

// Retry resubmits one item regardless of its retry count
func (s *SyncService) Retry(ctx context.Context, clientID string) (*queue.FlushResult, error) {
	started := s.opts.Clock.Now()
	res, err := s.queue.RetryItem(ctx, clientID)
	s.handleResult(ctx, TriggerRetry, started, res, err)
	return res, err
}

func (s *SyncService) tick(trigger string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	s.autoFlush(ctx, trigger)
}

// autoFlush flushes only when a flush could succeed
func (s *SyncService) autoFlush(ctx context.Context, trigger string) {
	if !s.monitor.Online() || !s.session.Authenticated() || !s.queue.HasEligible() {
		return
	}
	if _, err := s.flush(ctx, trigger); err != nil {
		s.logger.Warn("Automatic flush failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

func (s *SyncService) flush(ctx context.Context, trigger string) (*queue.FlushResult, error) {
	started := s.opts.Clock.Now()
	res, err := s.queue.Flush(ctx)
	s.handleResult(ctx, trigger, started, res, err)
	return res, err
}

// handleResult moves confirmed trips into the list and records the outcome
func (s *SyncService) handleResult(ctx context.Context, trigger string, started time.Time, res *queue.FlushResult, err error) {
	if res == nil {
		return
	}
	if res.Skipped {
		s.logger.Debug("Flush skipped", zap.String("trigger", trigger), zap.String("reason", res.Reason))
		if s.metrics != nil {
			s.metrics.RecordFlush(res.Reason, 0, 0, 0)
		}
		return
	}

	now := s.opts.Clock.Now().In(s.opts.Location)
	for _, item := range res.Sent {
		trip := trips.QueueItemToTrip(item, nil, &s.placeholders, now)
		s.list.AppendOptimistic(ctx, trip)
	}

	result := "ok"
	switch {
	case len(res.Sent) == 0:
		result = "error"
	case len(res.Failed) > 0:
		result = "partial"
	}
	if s.metrics != nil {
		s.metrics.RecordFlush(result, len(res.Sent), len(res.Failed), s.opts.Clock.Since(started).Seconds())
	}

	s.logger.Info("Flush finished",
		zap.String("trigger", trigger),
		zap.Int("submitted", res.Submitted),
		zap.Int("sent", len(res.Sent)),
		zap.Int("failed", len(res.Failed)),
	)

	if s.history == nil {
		return
	}
	record := &models.FlushRecord{
		DeviceID:  s.opts.DeviceID,
		FlushedAt: started.UnixMilli(),
		Submitted: res.Submitted,
		Sent:      len(res.Sent),
		Failed:    len(res.Failed),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if herr := s.history.Create(ctx, record); herr != nil {
		s.logger.Warn("Failed to record flush history", zap.Error(herr))
	}
}

func (s *SyncService) refreshList(ctx context.Context) {
	if err := s.list.Refresh(ctx); err != nil {
		s.logger.Warn("Trip list refresh failed", zap.Error(err))
	}
}

// enqueueTracked turns a finished GPS trip into a queued submission
func (s *SyncService) enqueueTracked(ctx context.Context, trip models.TrackedTrip) error {
	payload := tracker.Summarize(trip, s.opts.Location)
	items, err := s.Enqueue(ctx, []models.TripPayload{payload})
	if err != nil {
		return err
	}
	return s.recorder.MarkQueued(ctx, trip.ID, items[0].ClientID)
}

func (s *SyncService) enqueueUnqueued(ctx context.Context) {
	for _, trip := range s.recorder.Unqueued() {
		if err := s.enqueueTracked(ctx, trip); err != nil {
			s.logger.Warn("Failed to enqueue tracked trip", zap.String("trip_id", trip.ID), zap.Error(err))
			return
		}
	}
}

func (s *SyncService) updateQueueMetrics() {
	if s.metrics == nil {
		return
	}
	st := s.queue.Stats()
	s.metrics.SetQueue(st.Pending, st.Failed, st.Exhausted)
}

// async runs fn in the background; Stop waits for it
func (s *SyncService) async(fn func(ctx context.Context)) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

// Wait blocks until background work started so far has finished
func (s *SyncService) Wait() {
	s.wg.Wait()
}
