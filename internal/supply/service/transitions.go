package service

import (
	"fmt"

	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
)

// InvalidTransitionError is returned when an order is not in the status
// the requested lifecycle step expects.
type InvalidTransitionError struct {
	OrderID string
	From    string
	To      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// transitions is the closed order lifecycle. Delivered and rejected are
// terminal.
var transitions = map[string][]string{
	repository.StatusPending:              {repository.StatusRequestedForDelivery, repository.StatusRejected},
	repository.StatusRequestedForDelivery: {repository.StatusOutForDelivery},
	repository.StatusOutForDelivery:       {repository.StatusDelivered},
	repository.StatusDelivered:            {},
	repository.StatusRejected:             {},
}

// CanTransition reports whether the lifecycle allows moving an order
// from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the lifecycle.
func IsTerminal(status string) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}
