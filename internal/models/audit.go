package models

import "time"

// EventType names a core event.
type EventType string

const (
	EventBatchScheduled EventType = "BATCH_SCHEDULED"
	EventCheckedIn      EventType = "CHECKED_IN"
	EventInProgress     EventType = "IN_PROGRESS"
	EventCompleted      EventType = "COMPLETED"
	EventNoShow         EventType = "NO_SHOW"
	EventCancelled      EventType = "CANCELLED"
	EventLaneRecomputed EventType = "LANE_RECOMPUTED"
	EventAccessDenied   EventType = "ACCESS_DENIED"
	EventAlert          EventType = "ALERT"
)

// Event is emitted after a transaction commits. Collectors subscribe to it.
type Event struct {
	ID          string        `json:"id"`
	Type        EventType     `json:"type"`
	OccurredAt  time.Time     `json:"occurred_at"`
	PrincipalID string        `json:"principal_id,omitempty"`
	ScheduleID  int64         `json:"schedule_id,omitempty"`
	CandidateID int64         `json:"candidate_id,omitempty"`
	Lane        *Lane         `json:"lane,omitempty"`
	Lateness    time.Duration `json:"lateness,omitempty"`
	Count       int           `json:"count,omitempty"`
	Action      string        `json:"action,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// Lanes returns the lanes touched by the event.
func (e Event) Lanes() []Lane {
	if e.Lane == nil {
		return nil
	}
	return []Lane{*e.Lane}
}
