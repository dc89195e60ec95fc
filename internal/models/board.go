package models

import "time"

// BoardEntry is one masked row of a venue board.
type BoardEntry struct {
	ScheduleID       int64          `json:"schedule_id"`
	CandidateName    string         `json:"candidate_name"`
	ActivityType     ActivityType   `json:"activity_type"`
	Status           ScheduleStatus `json:"status"`
	QueuePosition    *int           `json:"queue_position,omitempty"`
	CheckedIn        bool           `json:"checked_in"`
	EstimatedWaitMin *int           `json:"estimated_wait_min,omitempty"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time"`
}

// VenueBoard is the public projection of one venue's day.
type VenueBoard struct {
	VenueID         int64        `json:"venue_id"`
	VenueName       string       `json:"venue_name"`
	Date            string       `json:"date"`
	Current         *BoardEntry  `json:"current,omitempty"`
	InProgressCount int          `json:"in_progress_count"`
	Waiting         []BoardEntry `json:"waiting"`
	TotalWaiting    int          `json:"total_waiting"`
	CompletedToday  int          `json:"completed_today"`
	GeneratedAt     time.Time    `json:"generated_at"`
}

// CheckInResult is returned to the scanning device.
type CheckInResult struct {
	ScheduleID          int64        `json:"schedule_id"`
	CandidateID         int64        `json:"candidate_id"`
	CandidateNameMasked string       `json:"candidate_name_masked"`
	ActivityType        ActivityType `json:"activity_type"`
	VenueID             int64        `json:"venue_id"`
	QueuePosition       *int         `json:"queue_position,omitempty"`
	EstimatedWaitMin    *int         `json:"estimated_wait_min,omitempty"`
	CheckInAt           time.Time    `json:"check_in_at"`
	LatenessSeconds     int64        `json:"lateness_seconds"`
}

// ScanOutcome is the per-token result of a batch scan.
type ScanOutcome struct {
	Index  int            `json:"index"`
	Result *CheckInResult `json:"result,omitempty"`
	Error  *OutcomeError  `json:"error,omitempty"`
}

// OutcomeError is the machine-readable failure of one batch item.
type OutcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IssuedToken is a freshly signed QR token.
type IssuedToken struct {
	ScheduleID int64     `json:"schedule_id"`
	Token      string    `json:"token"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
