package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// BidRejectedError carries the store's rejection reason verbatim
// (insufficient balance, stale price, validation failure). It marks the
// bid as decided, not failed: callers must not retry.
type BidRejectedError struct {
	Message string
}

func (e *BidRejectedError) Error() string {
	return fmt.Sprintf("bid rejected: %s", e.Message)
}

// IsBidRejected reports whether err is a store-side bid rejection as
// opposed to a transport failure.
func IsBidRejected(err error) bool {
	var rej *BidRejectedError
	return errors.As(err, &rej)
}
