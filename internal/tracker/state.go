package tracker

import (
	"Mansoor88-6/driver-agent/internal/models"
)

// ActionType is a recorder state transition
type ActionType string

const (
	ActionStart  ActionType = "start"
	ActionPause  ActionType = "pause"
	ActionResume ActionType = "resume"
	ActionPoints ActionType = "points"
	ActionFinish ActionType = "finish"
)

// Action carries everything a transition needs so Reduce stays deterministic
type Action struct {
	Type   ActionType
	TripID string
	At     int64 // Unix milliseconds
	Points []models.TripPoint
}

// State is the recorder state
type State struct {
	Status   models.TrackingState `json:"status"`
	Current  *models.TrackedTrip  `json:"current,omitempty"`
	Finished []models.TrackedTrip `json:"finished"`
}

// InitialState builds the state a recorder starts from, seeded with trips
// finished in a previous run.
func InitialState(finished []models.TrackedTrip) State {
	out := make([]models.TrackedTrip, 0, len(finished))
	for _, t := range finished {
		if t.EndedAt == nil {
			continue
		}
		out = append(out, t)
	}
	return State{Status: models.TrackingIdle, Finished: out}
}

// Reduce applies a to s. Actions that make no sense in the current state
// return s unchanged.
func Reduce(s State, a Action) State {
	switch a.Type {
	case ActionStart:
		if s.Status != models.TrackingIdle {
			return s
		}
		s.Status = models.TrackingActive
		s.Current = &models.TrackedTrip{ID: a.TripID, StartedAt: a.At, Points: []models.TripPoint{}}
		return s

	case ActionPause:
		if s.Status != models.TrackingActive {
			return s
		}
		s.Status = models.TrackingPaused
		return s

	case ActionResume:
		if s.Status != models.TrackingPaused {
			return s
		}
		s.Status = models.TrackingActive
		return s

	case ActionPoints:
		if s.Status != models.TrackingActive || s.Current == nil || len(a.Points) == 0 {
			return s
		}
		cur := *s.Current
		points := make([]models.TripPoint, 0, len(cur.Points)+len(a.Points))
		points = append(points, cur.Points...)
		points = append(points, a.Points...)
		cur.Points = points
		s.Current = &cur
		return s

	case ActionFinish:
		if s.Current == nil {
			return s
		}
		done := *s.Current
		ended := a.At
		done.EndedAt = &ended
		if len(a.Points) > 0 {
			points := make([]models.TripPoint, 0, len(done.Points)+len(a.Points))
			points = append(points, done.Points...)
			points = append(points, a.Points...)
			done.Points = points
		}
		finished := make([]models.TrackedTrip, 0, len(s.Finished)+1)
		finished = append(finished, s.Finished...)
		finished = append(finished, done)
		return State{Status: models.TrackingIdle, Finished: finished}
	}
	return s
}
