package trips

import (
	"context"
	"encoding/json"
	"sync"

	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/storage"

	"go.uber.org/zap"
)

const DefaultPerPage = 50

// Fetcher loads one page of the trip list
type Fetcher interface {
	GetTrips(ctx context.Context, page, perPage int, filters models.TripFilters) (*models.PaginatedTrips, error)
}

type TokenProvider interface {
	Token() string
}

// Snapshot is the visible state of the list
type Snapshot struct {
	Trips      []models.Trip      `json:"trips"`
	Page       int                `json:"page"`
	TotalPages int                `json:"totalPages"`
	Total      int                `json:"total"`
	Loading    bool               `json:"loading"`
	Refreshing bool               `json:"refreshing"`
	Error      string             `json:"error,omitempty"`
	Filters    models.TripFilters `json:"filters"`
}

// List is the paginated trip view. Every load takes a sequence number and
// only the latest one may touch state.
type List struct {
	fetcher Fetcher
	tokens  TokenProvider
	store   storage.Store
	perPage int
	logger  *zap.Logger

	mu         sync.Mutex
	trips      []models.Trip
	page       int
	totalPages int
	total      int
	filters    models.TripFilters
	loading    bool
	refreshing bool
	lastError  string
	seq        uint64

	onChange []func()
	onStale  []func()
}

func NewList(fetcher Fetcher, tokens TokenProvider, store storage.Store, perPage int, logger *zap.Logger) *List {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	return &List{
		fetcher:    fetcher,
		tokens:     tokens,
		store:      store,
		perPage:    perPage,
		logger:     logger,
		trips:      []models.Trip{},
		page:       1,
		totalPages: 1,
	}
}

// LoadCache seeds the list from the cached confirmed trips. A corrupted cache is ignored.
// Nothing is shown without a session.
func (l *List) LoadCache(ctx context.Context) {
	if l.tokens == nil || l.tokens.Token() == "" {
		return
	}
	raw, ok, err := l.store.Get(ctx, storage.KeyTripCache)
	if err != nil || !ok || raw == "" {
		return
	}
	var cached []models.Trip
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		l.logger.Warn("Corrupted trip cache, ignoring", zap.Error(err))
		return
	}

	l.mu.Lock()
	l.trips = MergePage(l.trips, cached, false)
	l.mu.Unlock()
	l.notify()
}

// LoadPage fetches page and merges it. Responses of superseded requests are
// dropped without touching state, errors included.
func (l *List) LoadPage(ctx context.Context, page int, replace bool) error {
	if l.tokens == nil || l.tokens.Token() == "" {
		return nil
	}

	l.mu.Lock()
	l.seq++
	reqID := l.seq
	l.loading = true
	l.lastError = ""
	filters := l.filters
	l.mu.Unlock()
	l.notify()

	res, err := l.fetcher.GetTrips(ctx, page, l.perPage, filters)

	l.mu.Lock()
	if reqID != l.seq {
		l.mu.Unlock()
		l.logger.Debug("Discarding stale trip page", zap.Int("page", page))
		l.stale()
		return nil
	}
	l.loading = false
	if err != nil {
		l.lastError = err.Error()
		l.mu.Unlock()
		l.notify()
		return err
	}
	l.trips = MergePage(l.trips, res.Trips, replace)
	l.page = res.Page
	l.totalPages = res.TotalPages
	l.total = res.Total
	l.mu.Unlock()

	l.saveCache(ctx)
	l.notify()
	return nil
}

// Refresh reloads the first page, replacing the list
func (l *List) Refresh(ctx context.Context) error {
	if l.tokens == nil || l.tokens.Token() == "" {
		return nil
	}
	l.mu.Lock()
	l.refreshing = true
	l.mu.Unlock()

	err := l.LoadPage(ctx, 1, true)

	l.mu.Lock()
	l.refreshing = false
	l.mu.Unlock()
	l.notify()
	return err
}

// LoadMore fetches the next page. It does nothing while a load is in flight or
// on the last page, and reports whether a load was started.
func (l *List) LoadMore(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.loading || l.page >= l.totalPages {
		l.mu.Unlock()
		return false, nil
	}
	next := l.page + 1
	l.mu.Unlock()

	return true, l.LoadPage(ctx, next, false)
}

// SetFilters replaces the filters and reloads from the first page
func (l *List) SetFilters(ctx context.Context, filters models.TripFilters) error {
	l.mu.Lock()
	l.filters = filters
	l.page = 1
	l.mu.Unlock()

	return l.LoadPage(ctx, 1, true)
}

// AppendOptimistic shows trip before the server lists it
func (l *List) AppendOptimistic(ctx context.Context, trip models.Trip) {
	l.mu.Lock()
	l.trips = AppendOptimistic(l.trips, trip)
	l.mu.Unlock()

	if !trip.IsPlaceholder() {
		l.saveCache(ctx)
	}
	l.notify()
}

// Clear resets the list and the pagination cursor
func (l *List) Clear() {
	l.mu.Lock()
	l.trips = []models.Trip{}
	l.page = 1
	l.totalPages = 1
	l.total = 0
	l.lastError = ""
	// in-flight loads are now stale
	l.seq++
	l.loading = false
	l.mu.Unlock()
	l.notify()
}

// Purge clears the list and drops the cached trips, so the next driver on the
// device never sees them
func (l *List) Purge(ctx context.Context) {
	l.Clear()
	if err := l.store.Remove(ctx, storage.KeyTripCache); err != nil {
		l.logger.Warn("Failed to remove trip cache", zap.Error(err))
	}
}

func (l *List) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	trips := make([]models.Trip, len(l.trips))
	copy(trips, l.trips)
	return Snapshot{
		Trips:      trips,
		Page:       l.page,
		TotalPages: l.totalPages,
		Total:      l.total,
		Loading:    l.loading,
		Refreshing: l.refreshing,
		Error:      l.lastError,
		Filters:    l.filters,
	}
}

// OnChange registers a callback run after the visible state changes
func (l *List) OnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// OnStale registers a callback run when a superseded response is dropped
func (l *List) OnStale(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStale = append(l.onStale, fn)
}

func (l *List) notify() {
	l.mu.Lock()
	fns := append([]func(){}, l.onChange...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *List) stale() {
	l.mu.Lock()
	fns := append([]func(){}, l.onStale...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// saveCache writes confirmed trips. Failures are logged and otherwise ignored.
func (l *List) saveCache(ctx context.Context) {
	l.mu.Lock()
	confirmed := make([]models.Trip, 0, len(l.trips))
	for _, t := range l.trips {
		if !t.IsPlaceholder() {
			confirmed = append(confirmed, t)
		}
	}
	l.mu.Unlock()

	data, err := json.Marshal(confirmed)
	if err != nil {
		l.logger.Warn("Failed to marshal trip cache", zap.Error(err))
		return
	}
	if err := l.store.Set(ctx, storage.KeyTripCache, string(data)); err != nil {
		l.logger.Warn("Failed to write trip cache", zap.Error(err))
	}
}
