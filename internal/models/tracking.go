package models

// TrackingState is the GPS recorder state
type TrackingState string

const (
	TrackingIdle   TrackingState = "idle"
	TrackingActive TrackingState = "tracking"
	TrackingPaused TrackingState = "paused"
)

// TripPoint is a single GPS fix
type TripPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"` // Unix timestamp in milliseconds
}

// TrackedTrip is a trip recorded on the device
type TrackedTrip struct {
	ID        string      `json:"id"`
	StartedAt int64       `json:"startedAt"`
	EndedAt   *int64      `json:"endedAt,omitempty"`
	Points    []TripPoint `json:"points"`
	// QueuedAs is the queue client id the trip was submitted under
	QueuedAs string `json:"queuedAs,omitempty"`
}
