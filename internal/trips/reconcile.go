package trips

import (
	"sort"
	"time"

	"Mansoor88-6/driver-agent/internal/idgen"
	"Mansoor88-6/driver-agent/internal/models"
)

// SortByDateDesc sorts newest first. Equal dates keep their relative order.
func SortByDateDesc(list []models.Trip) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Time().After(list[j].Time())
	})
}

// MergePage folds a fetched page into the current list. With replace the page
// becomes the list as-is. Otherwise entries are keyed by id: existing entries
// keep their slot, incoming ones overwrite a matching slot or are appended, and
// the result is sorted by date descending.
func MergePage(existing, incoming []models.Trip, replace bool) []models.Trip {
	if replace {
		out := make([]models.Trip, len(incoming))
		copy(out, incoming)
		return out
	}

	out := make([]models.Trip, 0, len(existing)+len(incoming))
	index := make(map[int64]int, len(existing)+len(incoming))
	for _, list := range [][]models.Trip{existing, incoming} {
		for _, t := range list {
			if i, ok := index[t.ID]; ok {
				out[i] = t
				continue
			}
			index[t.ID] = len(out)
			out = append(out, t)
		}
	}

	SortByDateDesc(out)
	return out
}

// AppendOptimistic adds trip unless its id is already listed
func AppendOptimistic(list []models.Trip, trip models.Trip) []models.Trip {
	for _, t := range list {
		if t.ID == trip.ID {
			return list
		}
	}

	out := make([]models.Trip, 0, len(list)+1)
	out = append(out, trip)
	out = append(out, list...)
	SortByDateDesc(out)
	return out
}

// QueueItemToTrip derives a list entry from a queued submission. The id is the
// server id, else fallbackID, else a fresh negative placeholder.
func QueueItemToTrip(item models.QueueItem, fallbackID *int64, placeholders *idgen.Placeholders, now time.Time) models.Trip {
	var id int64
	switch {
	case item.ServerID != nil:
		id = *item.ServerID
	case fallbackID != nil:
		id = *fallbackID
	default:
		id = placeholders.Next()
	}

	p := item.Payload
	trip := models.Trip{
		ID:     id,
		Route:  p.Route,
		Date:   p.TripDate,
		Status: p.Status,
	}
	if trip.Route == "" {
		trip.Route = "—"
	}
	if trip.Date == "" {
		trip.Date = now.Format(models.DateLayout)
	}
	if trip.Status == "" {
		trip.Status = "Active"
	}
	if p.Miles != nil {
		trip.Miles = *p.Miles
	}
	if p.Earnings != nil {
		trip.Earnings = *p.Earnings
	}
	if p.Assignment != nil {
		trip.Assignment = *p.Assignment
	}
	if p.Impressions != nil {
		trip.Impressions = *p.Impressions
	}
	if p.Clicks != nil {
		trip.Clicks = *p.Clicks
	}
	return trip
}
