package store

import (
	"errors"
	"fmt"
)

// ErrDuplicate reports that a transaction id was already stored. It is the
// success-no-op outcome that absorbs at-least-once redelivery, not a failure.
var ErrDuplicate = errors.New("transaction already stored")

// CorruptAggregateError reports an invariant violation in a client's
// statistics row. The row must not be silently repaired; the error is
// surfaced for operator intervention.
type CorruptAggregateError struct {
	ClientID string
	Reason   string
}

func (e *CorruptAggregateError) Error() string {
	return fmt.Sprintf("corrupt aggregate for client %s: %s", e.ClientID, e.Reason)
}

func IsCorruptAggregate(err error) bool {
	var ce *CorruptAggregateError
	return errors.As(err, &ce)
}
