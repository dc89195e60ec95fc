package models

import "time"

// Institution owns candidates.
type Institution struct {
	ID        int64        `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Code      string       `db:"code" json:"code"`
	Status    ActiveStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// ExamProduct is the exam package a candidate is registered for.
type ExamProduct struct {
	ID                   int64       `db:"id" json:"id"`
	Code                 string      `db:"code" json:"code"`
	Name                 string      `db:"name" json:"name"`
	Kind                 ProductKind `db:"kind" json:"kind"`
	TheoryDurationMin    int         `db:"theory_duration_min" json:"theory_duration_min"`
	PracticalDurationMin int         `db:"practical_duration_min" json:"practical_duration_min"`
}

// Activities lists the activities the product requires.
func (p ExamProduct) Activities() []ActivityType {
	switch p.Kind {
	case ProductTheory:
		return []ActivityType{ActivityTheoryExam}
	case ProductPractical:
		return []ActivityType{ActivityPracticalExam}
	case ProductTheoryPlusPractical:
		return []ActivityType{ActivityTheoryExam, ActivityPracticalExam}
	}
	return nil
}

// DurationFor returns the configured slot length for activity.
func (p ExamProduct) DurationFor(activity ActivityType) int {
	switch activity {
	case ActivityTheoryExam:
		return p.TheoryDurationMin
	case ActivityPracticalExam:
		return p.PracticalDurationMin
	}
	return 0
}

// ActivityAt resolves which activity of the product a venue of the given kind hosts.
func (p ExamProduct) ActivityAt(kind VenueKind) (ActivityType, bool) {
	var want ActivityType
	switch kind {
	case VenueTheory:
		want = ActivityTheoryExam
	case VenuePractical:
		want = ActivityPracticalExam
	default:
		return "", false
	}
	for _, a := range p.Activities() {
		if a == want {
			return a, true
		}
	}
	return "", false
}

// Venue is a theory room, practical field, or waiting area.
type Venue struct {
	ID       int64        `db:"id" json:"id"`
	Name     string       `db:"name" json:"name"`
	Kind     VenueKind    `db:"kind" json:"kind"`
	Capacity int          `db:"capacity" json:"capacity"`
	Status   ActiveStatus `db:"status" json:"status"`
	Timezone string       `db:"timezone" json:"timezone"`
}

// Location resolves the venue timezone, falling back to UTC.
func (v Venue) Location() *time.Location {
	if v.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Schedulable reports whether slots may be placed at the venue.
func (v Venue) Schedulable() bool {
	return v.Status == StatusActive && v.Kind != VenueWaiting
}
