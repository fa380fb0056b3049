package models

import "time"

// DateLayout is the backend's trip_date format
const DateLayout = "2006-01-02"

// Trip is a trip as shown to the driver. Positive ids are server-confirmed,
// negative ids are local placeholders.
type Trip struct {
	ID          int64   `json:"id"`
	Route       string  `json:"route"`
	Miles       float64 `json:"miles"`
	Earnings    float64 `json:"earnings"`
	Date        string  `json:"date"`
	Status      string  `json:"status"`
	Assignment  int64   `json:"assignment"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
}

// Time parses Date. Unparseable dates sort as the zero time.
func (t Trip) Time() time.Time {
	if len(t.Date) >= len(DateLayout) {
		if ts, err := time.Parse(time.RFC3339, t.Date); err == nil {
			return ts
		}
		if ts, err := time.Parse(DateLayout, t.Date[:len(DateLayout)]); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// IsPlaceholder reports whether the trip has no server id yet
func (t Trip) IsPlaceholder() bool {
	return t.ID <= 0
}

// TripPayload is a single trip submission. Every field is optional; validation
// is the server's job.
type TripPayload struct {
	Route       string   `json:"route,omitempty" yaml:"route,omitempty"`
	Miles       *float64 `json:"miles,omitempty" yaml:"miles,omitempty"`
	Earnings    *float64 `json:"earnings,omitempty" yaml:"earnings,omitempty"`
	TripDate    string   `json:"trip_date,omitempty" yaml:"trip_date,omitempty"` // YYYY-MM-DD
	StartDate   string   `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Status      string   `json:"status,omitempty" yaml:"status,omitempty"`
	Assignment  *int64   `json:"assignment,omitempty" yaml:"assignment,omitempty"`
	Impressions *int64   `json:"impressions,omitempty" yaml:"impressions,omitempty"`
	Clicks      *int64   `json:"clicks,omitempty" yaml:"clicks,omitempty"`
}

// PaginatedTrips is one page of the driver's trip list
type PaginatedTrips struct {
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
	Total      int    `json:"total"`
	TotalPages int    `json:"total_pages"`
	Trips      []Trip `json:"trips"`
}

// PostTripsResponse is returned by the batch submission endpoint. Ids are in
// submission order; a zero or missing id means the entry was not stored.
type PostTripsResponse struct {
	Success bool    `json:"success"`
	IDs     []int64 `json:"ids"`
	Count   int     `json:"count"`
}

// TripFilters narrows the trip list by date
type TripFilters struct {
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// Ptr returns a pointer to v, for optional payload fields
func Ptr[T any](v T) *T {
	return &v
}
