package cli

import (
	"context"
	"fmt"
	"time"

	"Mansoor88-6/driver-agent/internal/client"
	"Mansoor88-6/driver-agent/internal/collector"
	"Mansoor88-6/driver-agent/internal/config"
	"Mansoor88-6/driver-agent/internal/connectivity"
	"Mansoor88-6/driver-agent/internal/database"
	"Mansoor88-6/driver-agent/internal/handler"
	"Mansoor88-6/driver-agent/internal/idgen"
	"Mansoor88-6/driver-agent/internal/metrics"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/queue"
	"Mansoor88-6/driver-agent/internal/repository"
	"Mansoor88-6/driver-agent/internal/router"
	"Mansoor88-6/driver-agent/internal/server"
	"Mansoor88-6/driver-agent/internal/service"
	"Mansoor88-6/driver-agent/internal/session"
	"Mansoor88-6/driver-agent/internal/storage"
	"Mansoor88-6/driver-agent/internal/tracker"
	"Mansoor88-6/driver-agent/internal/trips"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App is the fully wired agent
type App struct {
	*base
	cfg    *config.Config
	logger *zap.Logger

	api       *client.APIClient
	session   *session.Manager
	queue     *queue.TripQueue
	list      *trips.List
	monitor   *connectivity.Monitor
	recorder  *tracker.Recorder
	collector *collector.PointCollector
	metrics   *metrics.Collector
	history   *repository.SyncHistoryRepository
	summary   *service.SummaryService
	sync      *service.SyncService
	hub       *server.Hub
	server    *server.Server
}

// base holds what every command needs: database, store and device identity
type base struct {
	db         *database.DB
	store      storage.Store
	closeStore func() error
	deviceID   string
	ids        *idgen.Generator
}

func openBase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*base, error) {
	db, err := database.New(cfg.StoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store, closeStore, err := storage.Open(ctx, cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	deviceID := idgen.DeviceID(cfg.Device.ID)
	ids, err := idgen.NewGenerator(deviceID)
	if err != nil {
		closeStore()
		db.Close()
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	return &base{db: db, store: store, closeStore: closeStore, deviceID: deviceID, ids: ids}, nil
}

func (b *base) close(logger *zap.Logger) {
	if err := b.closeStore(); err != nil {
		logger.Warn("Failed to close storage", zap.Error(err))
	}
	if err := b.db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	}
}

// NewApp wires every component from cfg
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	b, err := openBase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	api := client.NewAPIClient(cfg.Backend.BaseURL, cfg.Backend.Namespace, time.Duration(cfg.Backend.Timeout)*time.Second, logger)

	timer := session.NewIdleTimer(session.TimerConfig{
		MaxIdle:       cfg.Session.MaxIdle,
		WarningLead:   cfg.Session.WarningLead,
		FallbackCheck: cfg.Session.FallbackCheck,
	}, clock, logger)
	mgr := session.NewManager(api, b.store, timer, cfg.Auth.PersistToken, clock, logger)
	api.SetTokenSource(mgr)
	api.OnUnauthorized(mgr.HandleUnauthorized)

	q := queue.New(b.store, api, mgr, b.ids, queue.Options{MaxRetries: cfg.Queue.MaxRetries, Clock: clock}, logger)
	list := trips.NewList(api, mgr, b.store, cfg.Trips.PerPage, logger)
	monitor := connectivity.NewMonitor(api, cfg.Connectivity.ProbePath, cfg.Connectivity.ProbeInterval, clock, logger)
	recorder := tracker.NewRecorder(b.store, clock, logger)
	points := collector.NewPointCollector(
		cfg.Tracking.PointBatchSize,
		cfg.Tracking.PointFlushInterval,
		func() bool { return recorder.Status() == models.TrackingActive },
		clock,
		logger,
	)

	m := metrics.NewCollector(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	history := repository.NewSyncHistoryRepository(b.db.DB)
	hub := server.NewHub(logger)
	summary := service.NewSummaryService(api, b.store, logger)

	syncSvc := service.NewSyncService(service.Deps{
		Queue:    q,
		List:     list,
		Session:  mgr,
		Monitor:  monitor,
		Recorder: recorder,
		History:  history,
		Metrics:  m,
		Events:   hub,
	}, service.Options{
		DeviceID:      b.deviceID,
		FlushInterval: cfg.Queue.FlushInterval,
		AutoFlush:     cfg.Queue.AutoFlush,
		AutoLoadTrips: cfg.Trips.AutoLoad,
		Clock:         clock,
	}, logger)

	mgr.OnLogout(func(string) { summary.Purge(context.Background()) })

	app := &App{
		base:      b,
		cfg:       cfg,
		logger:    logger,
		api:       api,
		session:   mgr,
		queue:     q,
		list:      list,
		monitor:   monitor,
		recorder:  recorder,
		collector: points,
		metrics:   m,
		history:   history,
		summary:   summary,
		sync:      syncSvc,
		hub:       hub,
	}

	if cfg.Server.Enabled {
		h := router.New(router.Handlers{
			Session:  handler.NewSessionHandler(mgr, logger),
			Queue:    handler.NewQueueHandler(syncSvc, q, logger),
			Trips:    handler.NewTripsHandler(list, logger),
			Tracking: handler.NewTrackingHandler(recorder, points, logger),
			System:   handler.NewSystemHandler(summary, monitor, logger),
			Events:   hub,
			Metrics:  m.Handler(),
		}, mgr, logger)
		app.server = server.New(cfg.Server.Port, h, hub, logger)
	}

	return app, nil
}

// Run starts the agent and blocks until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	if err := a.session.Init(ctx); err != nil {
		a.logger.Warn("Failed to restore session", zap.Error(err))
	}
	if !a.session.Authenticated() && a.cfg.Auth.Username != "" {
		if err := a.session.Login(ctx, a.cfg.Auth.Username, a.cfg.Auth.Password); err != nil {
			a.logger.Warn("Automatic login failed", zap.Error(err))
		}
	}

	a.collector.Start(func(points []models.TripPoint) {
		a.metrics.RecordPoints(a.recorder.AddPoints(points))
	})
	defer a.collector.Stop()

	maintenance := cron.New()
	if _, err := maintenance.AddFunc(a.cfg.History.Cleanup, func() { a.cleanupHistory(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule history cleanup: %w", err)
	}
	maintenance.Start()
	defer func() { <-maintenance.Stop().Done() }()

	a.logger.Info("Driver agent started",
		zap.String("device_id", a.deviceID),
		zap.String("backend_url", a.cfg.Backend.BaseURL),
		zap.Bool("authenticated", a.session.Authenticated()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sync.Run(gctx) })
	if a.server != nil {
		g.Go(func() error { return a.server.Run(gctx) })
	}
	err := g.Wait()

	a.session.Timer().Stop()
	return err
}

func (a *App) cleanupHistory(ctx context.Context) {
	n, err := a.history.DeleteOlderThan(ctx, a.cfg.History.Retention)
	if err != nil {
		a.logger.Warn("Failed to clean up flush history", zap.Error(err))
		return
	}
	if n > 0 {
		a.logger.Info("Old flush history removed", zap.Int64("rows", n))
	}
}

// Close releases storage
func (a *App) Close() {
	a.base.close(a.logger)
}
