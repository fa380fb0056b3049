package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/storage"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when an action does not apply to the current state
var ErrInvalidTransition = errors.New("invalid tracking transition")

// Recorder records GPS trips and persists the finished ones
type Recorder struct {
	store  storage.Store
	clock  clockwork.Clock
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	onFinish func(models.TrackedTrip)
}

// NewRecorder creates an idle recorder
func NewRecorder(store storage.Store, clock clockwork.Clock, logger *zap.Logger) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		store:  store,
		clock:  clock,
		logger: logger,
		state:  InitialState(nil),
	}
}

// LoadPersisted replaces the state with trips finished in a previous run.
// A corrupted blob leaves the recorder empty.
func (r *Recorder) LoadPersisted(ctx context.Context) error {
	raw, ok, err := r.store.Get(ctx, storage.KeyTrackedTrips)
	if err != nil {
		return fmt.Errorf("failed to read tracked trips: %w", err)
	}

	var finished []models.TrackedTrip
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &finished); err != nil {
			r.logger.Warn("Discarding corrupted tracked trips", zap.Error(err))
			finished = nil
		}
	}

	r.mu.Lock()
	r.state = InitialState(finished)
	r.mu.Unlock()

	r.logger.Info("Tracked trips loaded", zap.Int("count", len(finished)))
	return nil
}

// OnFinish registers a callback invoked with every finished trip
func (r *Recorder) OnFinish(fn func(models.TrackedTrip)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinish = fn
}

// Start begins a new trip
func (r *Recorder) Start() (models.TrackedTrip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := Reduce(r.state, Action{Type: ActionStart, TripID: uuid.NewString(), At: r.clock.Now().UnixMilli()})
	if next.Status == r.state.Status {
		return models.TrackedTrip{}, fmt.Errorf("%w: start while %s", ErrInvalidTransition, r.state.Status)
	}
	r.state = next
	r.logger.Info("Trip tracking started", zap.String("trip_id", next.Current.ID))
	return *next.Current, nil
}

func (r *Recorder) Pause() error {
	return r.transition(ActionPause)
}

func (r *Recorder) Resume() error {
	return r.transition(ActionResume)
}

func (r *Recorder) transition(t ActionType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := Reduce(r.state, Action{Type: t})
	if next.Status == r.state.Status {
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, t, r.state.Status)
	}
	r.state = next
	r.logger.Debug("Tracking state changed", zap.String("status", string(next.Status)))
	return nil
}

// AddPoints appends fixes to the current trip. Fixes arriving while not
// tracking are dropped; the accepted count is returned.
func (r *Recorder) AddPoints(points []models.TripPoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status != models.TrackingActive {
		return 0
	}
	r.state = Reduce(r.state, Action{Type: ActionPoints, Points: points})
	return len(points)
}

// Finish ends the current trip, persists it and hands it to the finish callback
func (r *Recorder) Finish(ctx context.Context, finalPoints []models.TripPoint) (models.TrackedTrip, error) {
	r.mu.Lock()
	if r.state.Current == nil {
		status := r.state.Status
		r.mu.Unlock()
		return models.TrackedTrip{}, fmt.Errorf("%w: finish while %s", ErrInvalidTransition, status)
	}
	next := Reduce(r.state, Action{Type: ActionFinish, At: r.clock.Now().UnixMilli(), Points: finalPoints})
	if err := r.persist(ctx, next.Finished); err != nil {
		r.mu.Unlock()
		return models.TrackedTrip{}, err
	}
	r.state = next
	done := next.Finished[len(next.Finished)-1]
	cb := r.onFinish
	r.mu.Unlock()

	r.logger.Info("Trip tracking finished",
		zap.String("trip_id", done.ID),
		zap.Int("points", len(done.Points)),
	)
	if cb != nil {
		cb(done)
	}
	return done, nil
}

// MarkQueued records that a finished trip was handed to the queue
func (r *Recorder) MarkQueued(ctx context.Context, tripID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	finished := make([]models.TrackedTrip, len(r.state.Finished))
	copy(finished, r.state.Finished)
	found := false
	for i := range finished {
		if finished[i].ID == tripID {
			finished[i].QueuedAs = clientID
			found = true
		}
	}
	if !found {
		return fmt.Errorf("tracked trip %s not found", tripID)
	}
	if err := r.persist(ctx, finished); err != nil {
		return err
	}
	r.state.Finished = finished
	return nil
}

// Unqueued returns finished trips that never made it into the queue
func (r *Recorder) Unqueued() []models.TrackedTrip {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.TrackedTrip
	for _, t := range r.state.Finished {
		if t.QueuedAs == "" {
			out = append(out, t)
		}
	}
	return out
}

// State returns a copy of the current state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := State{Status: r.state.Status}
	if r.state.Current != nil {
		cur := *r.state.Current
		cur.Points = append([]models.TripPoint(nil), cur.Points...)
		out.Current = &cur
	}
	out.Finished = append([]models.TrackedTrip{}, r.state.Finished...)
	return out
}

func (r *Recorder) Status() models.TrackingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Status
}

func (r *Recorder) persist(ctx context.Context, finished []models.TrackedTrip) error {
	data, err := json.Marshal(finished)
	if err != nil {
		return fmt.Errorf("failed to marshal tracked trips: %w", err)
	}
	if err := r.store.Set(ctx, storage.KeyTrackedTrips, string(data)); err != nil {
		return fmt.Errorf("failed to persist tracked trips: %w", err)
	}
	return nil
}
