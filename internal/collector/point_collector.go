package collector

import (
	"sync"
	"time"

	"Mansoor88-6/driver-agent/internal/models"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// PointCollector batches GPS fixes before handing them to the recorder
type PointCollector struct {
	points        []models.TripPoint
	batchSize     int
	flushInterval time.Duration
	accept        func() bool
	onBatchReady  func([]models.TripPoint)
	clock         clockwork.Clock
	logger        *zap.Logger
	mu            sync.Mutex
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewPointCollector creates a new point collector. accept reports whether a
// trip is being tracked; fixes arriving while it returns false are dropped.
func NewPointCollector(
	batchSize int,
	flushInterval time.Duration,
	accept func() bool,
	clock clockwork.Clock,
	logger *zap.Logger,
) *PointCollector {
	if batchSize <= 0 {
		batchSize = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PointCollector{
		batchSize:     batchSize,
		flushInterval: flushInterval,
		accept:        accept,
		clock:         clock,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the collector with auto-flush
func (pc *PointCollector) Start(onBatchReady func([]models.TripPoint)) {
	pc.mu.Lock()
	pc.onBatchReady = onBatchReady
	pc.mu.Unlock()

	if pc.flushInterval > 0 {
		ticker := pc.clock.NewTicker(pc.flushInterval)
		pc.wg.Add(1)
		go pc.autoFlushLoop(ticker)
	}

	pc.logger.Info("Point collector started",
		zap.Int("batch_size", pc.batchSize),
		zap.Duration("flush_interval", pc.flushInterval),
	)
}

// Stop stops the collector and flushes what is left
func (pc *PointCollector) Stop() {
	pc.mu.Lock()
	select {
	case <-pc.stopChan:
		pc.mu.Unlock()
		return
	default:
		close(pc.stopChan)
	}
	pc.mu.Unlock()

	pc.wg.Wait()
	pc.Flush()

	pc.logger.Info("Point collector stopped")
}

// Add queues fixes and returns how many were accepted
func (pc *PointCollector) Add(points ...models.TripPoint) int {
	if len(points) == 0 {
		return 0
	}
	if pc.accept != nil && !pc.accept() {
		pc.logger.Debug("Dropping fixes outside a tracked trip", zap.Int("count", len(points)))
		return 0
	}

	pc.mu.Lock()
	pc.points = append(pc.points, points...)
	var batch []models.TripPoint
	if len(pc.points) >= pc.batchSize {
		batch = pc.takeLocked()
	}
	cb := pc.onBatchReady
	pc.mu.Unlock()

	if batch != nil {
		pc.logger.Debug("Batch size reached, flushing fixes", zap.Int("count", len(batch)))
		if cb != nil {
			cb(batch)
		}
	}
	return len(points)
}

// Flush hands all pending fixes to the batch callback
func (pc *PointCollector) Flush() {
	pc.mu.Lock()
	if len(pc.points) == 0 {
		pc.mu.Unlock()
		return
	}
	batch := pc.takeLocked()
	cb := pc.onBatchReady
	pc.mu.Unlock()

	if cb != nil {
		cb(batch)
	}
}

// Drain returns and clears pending fixes without invoking the callback
func (pc *PointCollector) Drain() []models.TripPoint {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.points) == 0 {
		return nil
	}
	return pc.takeLocked()
}

// PendingCount returns the number of buffered fixes
func (pc *PointCollector) PendingCount() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.points)
}

func (pc *PointCollector) takeLocked() []models.TripPoint {
	batch := make([]models.TripPoint, len(pc.points))
	copy(batch, pc.points)
	pc.points = pc.points[:0]
	return batch
}

func (pc *PointCollector) autoFlushLoop(ticker clockwork.Ticker) {
	defer pc.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			pc.Flush()
		case <-pc.stopChan:
			return
		}
	}
}
