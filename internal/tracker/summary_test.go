package tracker

import (
	"testing"
	"time"

	"Mansoor88-6/driver-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	assert.Zero(t, Distance(nil))
	assert.Zero(t, Distance([]models.TripPoint{{Latitude: 10, Longitude: 10}}))

	// one degree of latitude
	d := Distance([]models.TripPoint{{Latitude: 0, Longitude: 0}, {Latitude: 1, Longitude: 0}})
	assert.InDelta(t, 69.09, d, 0.01)

	back := Distance([]models.TripPoint{{Latitude: 0}, {Latitude: 1}, {Latitude: 0}})
	assert.InDelta(t, 2*d, back, 1e-9)
}

func TestSummarize(t *testing.T) {
	start := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute).UnixMilli()
	trip := models.TrackedTrip{
		ID:        "t",
		StartedAt: start.UnixMilli(),
		EndedAt:   &end,
		Points:    []models.TripPoint{{Latitude: 0, Longitude: 0}, {Latitude: 0.1, Longitude: 0}},
	}

	p := Summarize(trip, time.UTC)
	require.NotNil(t, p.Miles)
	assert.Equal(t, 6.9, *p.Miles)
	assert.Equal(t, "2025-03-14", p.TripDate)
	assert.Equal(t, "2025-03-14T08:00:00Z", p.StartDate)
	assert.Equal(t, "2025-03-14T08:45:00Z", p.EndDate)
	assert.Nil(t, p.Earnings)
}
