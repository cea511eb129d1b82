package booking

// Status is a booking's lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusMatched    Status = "MATCHED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusDisputed   Status = "DISPUTED"
)

// allowedTransitions encodes the lifecycle flow. Absent sources are
// terminal. DISPUTED appears as a target only because the escalation
// protocol drives it; nothing else may request that transition.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusMatched, StatusCancelled},
	StatusMatched:    {StatusConfirmed, StatusCancelled, StatusDisputed},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusDisputed},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusDisputed},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing transitions.
func Terminal(s Status) bool {
	return len(allowedTransitions[s]) == 0
}

// Escalatable reports whether an emergency escalation may be raised while
// the booking is in this status.
func Escalatable(s Status) bool {
	return CanTransition(s, StatusDisputed)
}
