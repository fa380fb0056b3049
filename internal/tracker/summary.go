package tracker

import (
	"math"
	"time"

	"Mansoor88-6/driver-agent/internal/models"
)

const earthRadiusMiles = 3958.8

// Distance returns the path length of points in miles
func Distance(points []models.TripPoint) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += haversine(points[i-1], points[i])
	}
	return total
}

func haversine(a, b models.TripPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Summarize turns a finished trip into a submission payload. Miles are
// rounded to one decimal.
func Summarize(trip models.TrackedTrip, loc *time.Location) models.TripPayload {
	if loc == nil {
		loc = time.Local
	}
	start := time.UnixMilli(trip.StartedAt).In(loc)
	end := start
	if trip.EndedAt != nil {
		end = time.UnixMilli(*trip.EndedAt).In(loc)
	}
	miles := math.Round(Distance(trip.Points)*10) / 10

	return models.TripPayload{
		Miles:     models.Ptr(miles),
		TripDate:  start.Format(models.DateLayout),
		StartDate: start.Format(time.RFC3339),
		EndDate:   end.Format(time.RFC3339),
	}
}
