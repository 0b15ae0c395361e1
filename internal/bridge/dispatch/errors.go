package dispatch

import (
	sterrors "errors"
	"fmt"
	"time"
)

// ErrCommandTimeout matches any TimeoutError via errors.Is.
var ErrCommandTimeout = sterrors.New("chatbridge: command timed out")

// TimeoutError reports that no correlated response arrived within the
// deadline. The executor may still complete the command; it is not assumed
// cancelled.
type TimeoutError struct {
	Command       string
	ChannelID     string
	CorrelationID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("chatbridge: command %s on channel %s timed out after %s", e.Command, e.ChannelID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrCommandTimeout
}

// ExecutionError carries a failure the executor explicitly reported. It is not
// auto-retried; retry policy belongs to the caller.
type ExecutionError struct {
	Command   string
	ChannelID string
	Message   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("chatbridge: command %s on channel %s failed: %s", e.Command, e.ChannelID, e.Message)
}

// TransportError reports that the request publish itself failed. No pending
// entry is left registered when this is returned.
type TransportError struct {
	Command   string
	ChannelID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chatbridge: failed to publish command %s on channel %s: %v", e.Command, e.ChannelID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
