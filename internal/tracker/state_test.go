package tracker

import (
	"testing"

	"Mansoor88-6/driver-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce_Lifecycle(t *testing.T) {
	s := InitialState(nil)
	assert.Equal(t, models.TrackingIdle, s.Status)

	s = Reduce(s, Action{Type: ActionStart, TripID: "t1", At: 1000})
	require.NotNil(t, s.Current)
	assert.Equal(t, models.TrackingActive, s.Status)
	assert.Equal(t, int64(1000), s.Current.StartedAt)

	s = Reduce(s, Action{Type: ActionPoints, Points: []models.TripPoint{{Latitude: 1, Longitude: 1, Timestamp: 1100}}})
	s = Reduce(s, Action{Type: ActionPause})
	assert.Equal(t, models.TrackingPaused, s.Status)

	// fixes while paused are ignored
	s = Reduce(s, Action{Type: ActionPoints, Points: []models.TripPoint{{Latitude: 9, Longitude: 9}}})
	assert.Len(t, s.Current.Points, 1)

	s = Reduce(s, Action{Type: ActionResume})
	assert.Equal(t, models.TrackingActive, s.Status)

	s = Reduce(s, Action{Type: ActionFinish, At: 5000, Points: []models.TripPoint{{Latitude: 2, Longitude: 2, Timestamp: 4900}}})
	assert.Equal(t, models.TrackingIdle, s.Status)
	assert.Nil(t, s.Current)
	require.Len(t, s.Finished, 1)
	assert.Equal(t, "t1", s.Finished[0].ID)
	require.NotNil(t, s.Finished[0].EndedAt)
	assert.Equal(t, int64(5000), *s.Finished[0].EndedAt)
	assert.Len(t, s.Finished[0].Points, 2)
}

func TestReduce_IgnoresInvalidActions(t *testing.T) {
	idle := InitialState(nil)
	assert.Equal(t, idle, Reduce(idle, Action{Type: ActionPause}))
	assert.Equal(t, idle, Reduce(idle, Action{Type: ActionResume}))
	assert.Equal(t, idle, Reduce(idle, Action{Type: ActionFinish, At: 1}))

	active := Reduce(idle, Action{Type: ActionStart, TripID: "a"})
	again := Reduce(active, Action{Type: ActionStart, TripID: "b"})
	assert.Equal(t, "a", again.Current.ID)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s := Reduce(InitialState(nil), Action{Type: ActionStart, TripID: "a"})
	before := len(s.Current.Points)

	_ = Reduce(s, Action{Type: ActionPoints, Points: []models.TripPoint{{Latitude: 1}}})
	assert.Len(t, s.Current.Points, before)
}

func TestInitialState_SkipsUnfinished(t *testing.T) {
	end := int64(10)
	s := InitialState([]models.TrackedTrip{
		{ID: "done", StartedAt: 1, EndedAt: &end},
		{ID: "open", StartedAt: 2},
	})
	require.Len(t, s.Finished, 1)
	assert.Equal(t, "done", s.Finished[0].ID)
	assert.Equal(t, models.TrackingIdle, s.Status)
}
