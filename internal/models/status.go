package models

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusBounced   Status = "bounced"
	StatusCancelled Status = "cancelled"
)

var AllStatuses = []Status{
	StatusPending, StatusQueued, StatusSending, StatusSent,
	StatusDelivered, StatusFailed, StatusBounced, StatusCancelled,
}

// transitions is the delivery state machine. Failure kinds may loop back into
// the pipeline (QUEUED on retry, SENDING on an automatic backoff attempt,
// PENDING on a manual reset).
var transitions = map[Status][]Status{
	StatusPending:   {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusSending, StatusCancelled},
	StatusSending:   {StatusSent, StatusFailed, StatusBounced},
	StatusSent:      {StatusDelivered, StatusBounced},
	StatusFailed:    {StatusPending, StatusQueued, StatusSending},
	StatusBounced:   {StatusPending, StatusQueued, StatusSending},
	StatusDelivered: nil,
	StatusCancelled: nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsFailure is true for the statuses a retry may start from.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusBounced
}

// IsTerminal reports statuses that never change again on their own.
// An exhausted FAILED record is terminal too, see Notification.CanRetry.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
