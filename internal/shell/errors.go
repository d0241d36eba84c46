package shell

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoCompatibleProtocol  = errors.New("shell: no compatible protocol")
	ErrCollectorKindMismatch = errors.New("shell: collector is not single-output")
	ErrCollectorContract     = errors.New("shell: single-output collector must emit exactly one unit")
	ErrProtocolFraming       = errors.New("shell: protocol framing error")
	ErrInvalidConfig         = errors.New("shell: invalid config")
	ErrTimeout               = errors.New("shell: timeout")
)

// TimeoutKind tells which deadline ended an execution.
type TimeoutKind int

const (
	TimeoutOverall TimeoutKind = iota
	TimeoutIdle
	TimeoutChannelOperation
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutOverall:
		return "overall"
	case TimeoutIdle:
		return "idle"
	case TimeoutChannelOperation:
		return "channel-operation"
	default:
		return fmt.Sprintf("timeout(%d)", int(k))
	}
}

// TimeoutError reports a fired deadline. errors.Is(err, ErrTimeout) matches
// every kind.
type TimeoutError struct {
	Kind  TimeoutKind
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("shell: %s timeout", e.Kind)
	if e.After > 0 {
		msg += " after " + e.After.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Timeout() bool {
	return true
}
