package canfw

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState   = errors.New("operation not allowed in current channel state")
	ErrNoFIFO         = errors.New("no such receive fifo")
	ErrFilterRejected = errors.New("filter configuration rejected")
	ErrChannelFailed  = errors.New("channel failed")
	ErrRetryOverflow  = errors.New("retry buffer full, frame dropped")
)

// TimeoutError is returned when a peripheral does not acknowledge a mode
// change within the allowed number of polls.
type TimeoutError struct {
	Op    string
	Polls int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %d polls", e.Op, e.Polls)
}

// IsTimeout reports whether err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
