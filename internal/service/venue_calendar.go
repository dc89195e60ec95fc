package service

import (
	"sort"
	"time"

	"github.com/noah-isme/dronexam-api/internal/models"
)

// IsFree reports whether [start, end) can be booked for activity at venue
// given the venue's existing schedules on that date.
//
// Practical venues are serial: any overlap blocks the window. Theory venues
// seat up to Capacity candidates, but only in exactly equal windows.
// Waiting venues are never bookable.
func IsFree(venue models.Venue, existing []models.Schedule, start, end time.Time, activity models.ActivityType) bool {
	if !end.After(start) {
		return false
	}
	switch venue.Kind {
	case models.VenuePractical:
		if activity != models.ActivityPracticalExam {
			return false
		}
		for _, s := range existing {
			if s.Status.Active() && s.VenueID == venue.ID && s.Overlaps(start, end) {
				return false
			}
		}
		return true
	case models.VenueTheory:
		if activity != models.ActivityTheoryExam {
			return false
		}
		seated := 0
		for _, s := range existing {
			if !s.Status.Active() || s.VenueID != venue.ID || !s.Overlaps(start, end) {
				continue
			}
			if !s.SameWindow(start, end) {
				return false
			}
			seated++
		}
		capacity := venue.Capacity
		if capacity < 1 {
			capacity = 1
		}
		return seated < capacity
	default:
		return false
	}
}

// CandidateFree reports whether none of the candidate's non-cancelled
// schedules overlaps [start, end).
func CandidateFree(own []models.Schedule, start, end time.Time) bool {
	for _, s := range own {
		if s.Status.Active() && s.Overlaps(start, end) {
			return false
		}
	}
	return true
}

// NextFreeStart returns the earliest start at or after from such that a slot
// of length d fits before dayEnd, the venue window is free and the candidate
// is not busy. The second result is false when nothing fits.
func NextFreeStart(venue models.Venue, existing, own []models.Schedule, from, dayEnd time.Time, d time.Duration, activity models.ActivityType) (time.Time, bool) {
	// The earliest free start is either from itself or a boundary of an
	// existing booking: an end time, or for theory rooms an identical start.
	starts := []time.Time{from}
	for _, s := range existing {
		if !s.Status.Active() {
			continue
		}
		if s.EndTime.After(from) {
			starts = append(starts, s.EndTime)
		}
		if venue.Kind == models.VenueTheory && s.StartTime.After(from) {
			starts = append(starts, s.StartTime)
		}
	}
	for _, s := range own {
		if s.Status.Active() && s.EndTime.After(from) {
			starts = append(starts, s.EndTime)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	for _, start := range starts {
		end := start.Add(d)
		if end.After(dayEnd) {
			return time.Time{}, false
		}
		if IsFree(venue, existing, start, end, activity) && CandidateFree(own, start, end) {
			return start, true
		}
	}
	return time.Time{}, false
}
