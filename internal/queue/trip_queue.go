package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Mansoor88-6/driver-agent/internal/client"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/storage"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 5

	// bound on the detached writes that record flush state
	persistTimeout = 5 * time.Second

	errNoServerID   = "Server did not return ID"
	errInterrupted  = "Interrupted before server confirmation"
	defaultFlushErr = "Flush error"
)

var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrItemSyncing  = errors.New("queue item is being synced")
)

// Skip reasons reported in FlushResult.Reason
const (
	SkipInProgress      = "in_progress"
	SkipUnauthenticated = "unauthenticated"
	SkipNoCandidates    = "no_candidates"
)

// Submitter posts a batch of trips and returns ids in submission order
type Submitter interface {
	PostTrips(ctx context.Context, payloads []models.TripPayload) (*models.PostTripsResponse, error)
}

// TokenProvider reports the current bearer token; empty means logged out
type TokenProvider interface {
	Token() string
}

// IDGenerator produces client ids for new items
type IDGenerator interface {
	NewClientID() string
}

type Options struct {
	MaxRetries int
	Clock      clockwork.Clock
}

// FlushResult describes one flush. Sent items carry their server ids and are
// already gone from the queue. Every submitted item has its attempts
// incremented, except when the server rejected the token (401): that batch is
// failed without spending retry budget, so it resumes once a new token exists.
type FlushResult struct {
	Skipped   bool
	Reason    string
	Submitted int
	Sent      []models.QueueItem
	Failed    []models.QueueItem
}

// TripQueue is the durable staging buffer for trip submissions.
// The persisted blob is the source of truth; memory mirrors the last successful write.
type TripQueue struct {
	store     storage.Store
	submitter Submitter
	tokens    TokenProvider
	ids       IDGenerator
	opts      Options
	logger    *zap.Logger

	mu        sync.Mutex
	items     []models.QueueItem
	lastError string
	listeners []func()

	flushing atomic.Bool
}

// New creates a queue. Call Load before use.
func New(store storage.Store, submitter Submitter, tokens TokenProvider, ids IDGenerator, opts Options, logger *zap.Logger) *TripQueue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &TripQueue{
		store:     store,
		submitter: submitter,
		tokens:    tokens,
		ids:       ids,
		opts:      opts,
		logger:    logger,
		items:     []models.QueueItem{},
	}
}

// Load rebuilds in-memory state from the persisted blob. Items left in syncing
// by an interrupted flush become failed with their attempts unchanged. A
// corrupted blob yields an empty queue.
func (q *TripQueue) Load(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	raw, ok, err := q.store.Get(ctx, storage.KeyTripQueue)
	if err != nil {
		q.logger.Warn("Failed to read trip queue, starting empty", zap.Error(err))
		q.items = []models.QueueItem{}
		return nil
	}
	if !ok || raw == "" {
		q.items = []models.QueueItem{}
		return nil
	}

	var parsed []models.QueueItem
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		q.logger.Warn("Corrupted trip queue, starting empty", zap.Error(err))
		q.items = []models.QueueItem{}
		return nil
	}

	items := make([]models.QueueItem, 0, len(parsed))
	changed := false
	recovered := 0
	for _, item := range parsed {
		switch item.Status {
		case models.QueueStatusSent:
			// confirmed before the prune was written
			changed = true
			continue
		case models.QueueStatusSyncing:
			item.Status = models.QueueStatusFailed
			item.LastError = errInterrupted
			changed = true
			recovered++
		case models.QueueStatusPending, models.QueueStatusFailed:
		default:
			item.Status = models.QueueStatusPending
			changed = true
		}
		items = append(items, item)
	}

	if changed {
		if err := q.write(ctx, items); err != nil {
			q.logger.Warn("Failed to rewrite recovered trip queue", zap.Error(err))
		}
	}
	q.items = items

	q.logger.Info("Trip queue loaded",
		zap.Int("items", len(items)),
		zap.Int("recovered_syncing", recovered),
	)
	return nil
}

// AddTrip enqueues one payload. The item exists only once the durable write succeeded.
func (q *TripQueue) AddTrip(ctx context.Context, payload models.TripPayload) (models.QueueItem, error) {
	items, err := q.AddTripsBatch(ctx, []models.TripPayload{payload})
	if err != nil {
		return models.QueueItem{}, err
	}
	return items[0], nil
}

// AddTripsBatch enqueues several payloads with a single durable write
func (q *TripQueue) AddTripsBatch(ctx context.Context, payloads []models.TripPayload) ([]models.QueueItem, error) {
	if len(payloads) == 0 {
		return []models.QueueItem{}, nil
	}

	now := q.opts.Clock.Now().UnixMilli()
	added := make([]models.QueueItem, len(payloads))
	for i, p := range payloads {
		added[i] = models.QueueItem{
			ClientID:  q.ids.NewClientID(),
			CreatedAt: now,
			Payload:   p,
			Status:    models.QueueStatusPending,
			Attempts:  0,
		}
	}

	q.mu.Lock()
	next := make([]models.QueueItem, 0, len(q.items)+len(added))
	next = append(next, q.items...)
	next = append(next, added...)
	if err := q.write(ctx, next); err != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to persist queued trips: %w", err)
	}
	q.items = next
	q.mu.Unlock()

	q.logger.Debug("Trips enqueued", zap.Int("count", len(added)))
	q.notify()
	return added, nil
}

// Flush submits every eligible item in one request. Concurrent calls while a
// flush is running return immediately with Reason SkipInProgress.
func (q *TripQueue) Flush(ctx context.Context) (*FlushResult, error) {
	return q.run(ctx, func(items []models.QueueItem) ([]string, error) {
		var ids []string
		for _, item := range items {
			if item.Eligible(q.opts.MaxRetries) {
				ids = append(ids, item.ClientID)
			}
		}
		return ids, nil
	})
}

// RetryItem submits a single pending or failed item, ignoring the retry ceiling.
// Attempts keep counting up.
func (q *TripQueue) RetryItem(ctx context.Context, clientID string) (*FlushResult, error) {
	return q.run(ctx, func(items []models.QueueItem) ([]string, error) {
		for _, item := range items {
			if item.ClientID != clientID {
				continue
			}
			if item.Status == models.QueueStatusSyncing {
				return nil, ErrItemSyncing
			}
			return []string{clientID}, nil
		}
		return nil, ErrItemNotFound
	})
}

func (q *TripQueue) run(ctx context.Context, selectIDs func([]models.QueueItem) ([]string, error)) (*FlushResult, error) {
	if !q.flushing.CompareAndSwap(false, true) {
		return &FlushResult{Skipped: true, Reason: SkipInProgress}, nil
	}
	defer q.flushing.Store(false)

	if q.tokens == nil || q.tokens.Token() == "" {
		return &FlushResult{Skipped: true, Reason: SkipUnauthenticated}, nil
	}

	// once a batch may reach the server its state must be recorded even if the
	// caller goes away, or a confirmed trip is resubmitted after a restart
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	candidates, err := q.markSyncing(persistCtx, selectIDs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &FlushResult{Skipped: true, Reason: SkipNoCandidates}, nil
	}
	q.notify()

	payloads := make([]models.TripPayload, len(candidates))
	for i, c := range candidates {
		payloads[i] = c.Payload
	}

	q.logger.Info("Flushing trip queue", zap.Int("candidates", len(candidates)))
	res, submitErr := q.submitter.PostTrips(ctx, payloads)

	result, persistErr := q.applyOutcome(persistCtx, candidates, res, submitErr)
	q.notify()

	if submitErr != nil {
		q.logger.Warn("Trip flush failed",
			zap.Int("candidates", len(candidates)),
			zap.Error(submitErr),
		)
		if persistErr != nil {
			return result, errors.Join(submitErr, persistErr)
		}
		return result, submitErr
	}

	q.logger.Info("Trip flush completed",
		zap.Int("submitted", result.Submitted),
		zap.Int("sent", len(result.Sent)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, persistErr
}

// markSyncing selects candidates and durably marks them syncing before any network call
func (q *TripQueue) markSyncing(ctx context.Context, selectIDs func([]models.QueueItem) ([]string, error)) ([]models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids, err := selectIDs(q.items)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	selected := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		selected[id] = struct{}{}
	}

	next := make([]models.QueueItem, len(q.items))
	candidates := make([]models.QueueItem, 0, len(ids))
	for i, item := range q.items {
		if _, ok := selected[item.ClientID]; ok {
			item.Status = models.QueueStatusSyncing
			candidates = append(candidates, item)
		}
		next[i] = item
	}

	if err := q.write(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to persist syncing state: %w", err)
	}
	q.items = next
	q.lastError = ""
	return candidates, nil
}

// applyOutcome maps the response onto candidates by position and writes the pruned queue.
// Attempts are incremented for every candidate unless submitErr is a 401.
func (q *TripQueue) applyOutcome(ctx context.Context, candidates []models.QueueItem, res *models.PostTripsResponse, submitErr error) (*FlushResult, error) {
	result := &FlushResult{Submitted: len(candidates)}

	// a rejected token says nothing about the trips, so the retry budget is left alone
	countAttempt := submitErr == nil || !client.IsUnauthorized(submitErr)

	outcome := make(map[string]models.QueueItem, len(candidates))
	for i, c := range candidates {
		if countAttempt {
			c.Attempts++
		}
		switch {
		case submitErr != nil:
			c.Status = models.QueueStatusFailed
			c.LastError = submitErr.Error()
			if c.LastError == "" {
				c.LastError = defaultFlushErr
			}
		case res != nil && i < len(res.IDs) && res.IDs[i] > 0:
			serverID := res.IDs[i]
			c.Status = models.QueueStatusSent
			c.ServerID = &serverID
			c.LastError = ""
		default:
			c.Status = models.QueueStatusFailed
			c.LastError = errNoServerID
		}
		outcome[c.ClientID] = c

		if c.Status == models.QueueStatusSent {
			result.Sent = append(result.Sent, c)
		} else {
			result.Failed = append(result.Failed, c)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]models.QueueItem, 0, len(q.items))
	for _, item := range q.items {
		if updated, ok := outcome[item.ClientID]; ok {
			item = updated
		}
		if item.Status == models.QueueStatusSent {
			continue
		}
		next = append(next, item)
	}

	if submitErr != nil {
		q.lastError = submitErr.Error()
	}

	// memory follows the outcome even if the write fails, so nothing is resubmitted in this process
	q.items = next
	if err := q.write(ctx, next); err != nil {
		q.logger.Error("Failed to persist flush outcome", zap.Error(err))
		return result, fmt.Errorf("failed to persist flush outcome: %w", err)
	}
	return result, nil
}

// Remove deletes one item without contacting the server
func (q *TripQueue) Remove(ctx context.Context, clientID string) error {
	q.mu.Lock()
	next := make([]models.QueueItem, 0, len(q.items))
	found := false
	for _, item := range q.items {
		if item.ClientID == clientID {
			found = true
			continue
		}
		next = append(next, item)
	}
	if !found {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if err := q.write(ctx, next); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to persist removal: %w", err)
	}
	q.items = next
	q.mu.Unlock()

	q.notify()
	return nil
}

// Clear drops every item
func (q *TripQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	if err := q.write(ctx, []models.QueueItem{}); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to persist cleared queue: %w", err)
	}
	q.items = []models.QueueItem{}
	q.lastError = ""
	q.mu.Unlock()

	q.notify()
	return nil
}

// Items returns a copy of the queue in insertion order
func (q *TripQueue) Items() []models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

func (q *TripQueue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return CountStats(q.items, q.opts.MaxRetries)
}

// CountStats tallies items by status
func CountStats(items []models.QueueItem, maxRetries int) models.QueueStats {
	stats := models.QueueStats{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case models.QueueStatusPending:
			stats.Pending++
		case models.QueueStatusSyncing:
			stats.Syncing++
		case models.QueueStatusFailed:
			stats.Failed++
			if item.Attempts >= maxRetries {
				stats.Exhausted++
			}
		}
	}
	return stats
}

// ReadItems decodes the persisted queue without normalizing or rewriting it
func ReadItems(ctx context.Context, store storage.Store) ([]models.QueueItem, error) {
	raw, ok, err := store.Get(ctx, storage.KeyTripQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	if !ok || raw == "" {
		return []models.QueueItem{}, nil
	}
	var items []models.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}
	return items, nil
}

// HasEligible reports whether an automatic flush would pick anything
func (q *TripQueue) HasEligible() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.Eligible(q.opts.MaxRetries) {
			return true
		}
	}
	return false
}

func (q *TripQueue) Flushing() bool {
	return q.flushing.Load()
}

// LastError is the error of the most recent failed flush, cleared when a flush starts
func (q *TripQueue) LastError() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastError
}

func (q *TripQueue) MaxRetries() int {
	return q.opts.MaxRetries
}

// OnChange registers a callback run after every queue mutation
func (q *TripQueue) OnChange(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

func (q *TripQueue) notify() {
	q.mu.Lock()
	listeners := make([]func(), len(q.listeners))
	copy(listeners, q.listeners)
	q.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// write persists items; callers hold q.mu
func (q *TripQueue) write(ctx context.Context, items []models.QueueItem) error {
	if items == nil {
		items = []models.QueueItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	return q.store.Set(ctx, storage.KeyTripQueue, string(data))
}
