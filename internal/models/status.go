package models

// CandidateStatus tracks a candidate through the examination day.
type CandidateStatus string

const (
	CandidatePendingSchedule     CandidateStatus = "PENDING_SCHEDULE"
	CandidateScheduled           CandidateStatus = "SCHEDULED"
	CandidateTheoryWaiting       CandidateStatus = "THEORY_WAITING"
	CandidatePracticalWaiting    CandidateStatus = "PRACTICAL_WAITING"
	CandidateTheoryInProgress    CandidateStatus = "THEORY_IN_PROGRESS"
	CandidatePracticalInProgress CandidateStatus = "PRACTICAL_IN_PROGRESS"
	CandidateCompleted           CandidateStatus = "COMPLETED"
	CandidateCancelled           CandidateStatus = "CANCELLED"
)

// ScheduleStatus is the lifecycle of one slot.
type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "PENDING"
	ScheduleCheckedIn  ScheduleStatus = "CHECKED_IN"
	ScheduleInProgress ScheduleStatus = "IN_PROGRESS"
	ScheduleCompleted  ScheduleStatus = "COMPLETED"
	ScheduleCancelled  ScheduleStatus = "CANCELLED"
	ScheduleNoShow     ScheduleStatus = "NO_SHOW"
)

// ActivityType identifies what happens during a slot.
type ActivityType string

const (
	ActivityTheoryExam    ActivityType = "THEORY_EXAM"
	ActivityPracticalExam ActivityType = "PRACTICAL_EXAM"
	ActivityWaiting       ActivityType = "WAITING"
)

// VenueKind classifies rooms and flying fields.
type VenueKind string

const (
	VenueTheory    VenueKind = "THEORY"
	VenuePractical VenueKind = "PRACTICAL"
	VenueWaiting   VenueKind = "WAITING"
)

// ProductKind describes which activities an exam product contains.
type ProductKind string

const (
	ProductTheory              ProductKind = "THEORY"
	ProductPractical           ProductKind = "PRACTICAL"
	ProductTheoryPlusPractical ProductKind = "THEORY_PLUS_PRACTICAL"
)

// ActiveStatus is shared by institutions and venues.
type ActiveStatus string

const (
	StatusActive   ActiveStatus = "ACTIVE"
	StatusInactive ActiveStatus = "INACTIVE"
)

var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	SchedulePending:    {ScheduleCheckedIn, ScheduleCancelled, ScheduleNoShow},
	ScheduleCheckedIn:  {ScheduleInProgress, ScheduleCancelled},
	ScheduleInProgress: {ScheduleCompleted, ScheduleCancelled},
}

// CanTransition reports whether the schedule may move from s to next.
func (s ScheduleStatus) CanTransition(next ScheduleStatus) bool {
	for _, allowed := range scheduleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ScheduleStatus) Terminal() bool {
	return len(scheduleTransitions[s]) == 0
}

// Active reports whether the schedule still occupies its slot.
func (s ScheduleStatus) Active() bool {
	return s != ScheduleCancelled
}

// InLane reports whether the schedule takes part in queue ordering.
func (s ScheduleStatus) InLane() bool {
	return s == SchedulePending || s == ScheduleCheckedIn
}

// Valid reports whether s is a known status.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case SchedulePending, ScheduleCheckedIn, ScheduleInProgress, ScheduleCompleted, ScheduleCancelled, ScheduleNoShow:
		return true
	}
	return false
}

var candidateForward = map[CandidateStatus][]CandidateStatus{
	CandidatePendingSchedule:     {CandidateScheduled},
	CandidateScheduled:           {CandidateTheoryWaiting, CandidatePracticalWaiting},
	CandidateTheoryWaiting:       {CandidateTheoryInProgress},
	CandidatePracticalWaiting:    {CandidatePracticalInProgress},
	CandidateTheoryInProgress:    {CandidateCompleted},
	CandidatePracticalInProgress: {CandidateCompleted},
}

// candidateResets lists the explicit backward moves. They happen only when a
// schedule ends without completing the product.
var candidateResets = map[CandidateStatus][]CandidateStatus{
	CandidateScheduled:           {CandidatePendingSchedule},
	CandidateTheoryWaiting:       {CandidateScheduled, CandidatePendingSchedule},
	CandidatePracticalWaiting:    {CandidateScheduled, CandidatePendingSchedule},
	CandidateTheoryInProgress:    {CandidateScheduled, CandidatePendingSchedule},
	CandidatePracticalInProgress: {CandidateScheduled, CandidatePendingSchedule},
}

// CanAdvance reports a forward move along the candidate state machine.
// Cancelled is reachable from every non-terminal state.
func (s CandidateStatus) CanAdvance(next CandidateStatus) bool {
	if next == CandidateCancelled {
		return !s.Terminal()
	}
	for _, allowed := range candidateForward[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanReset reports whether next is an allowed explicit reset from s.
func (s CandidateStatus) CanReset(next CandidateStatus) bool {
	for _, allowed := range candidateResets[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the candidate can no longer change.
func (s CandidateStatus) Terminal() bool {
	return s == CandidateCompleted || s == CandidateCancelled
}

// WaitingFor returns the waiting status entered on check-in for activity.
func WaitingFor(activity ActivityType) (CandidateStatus, bool) {
	switch activity {
	case ActivityTheoryExam:
		return CandidateTheoryWaiting, true
	case ActivityPracticalExam:
		return CandidatePracticalWaiting, true
	}
	return "", false
}

// InProgressFor returns the in-progress status for activity.
func InProgressFor(activity ActivityType) (CandidateStatus, bool) {
	switch activity {
	case ActivityTheoryExam:
		return CandidateTheoryInProgress, true
	case ActivityPracticalExam:
		return CandidatePracticalInProgress, true
	}
	return "", false
}
