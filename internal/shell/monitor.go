package shell

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/devexec/internal/transport"
)

// monitor enforces the overall and idle deadlines around an eventSource.
// Every pull runs under a context that expires at the nearer deadline; an
// expiry aborts the in-flight channel operation.
type monitor struct {
	src     eventSource
	overall time.Duration
	idle    time.Duration

	overallDeadline time.Time
	idleDeadline    time.Time
}

func newMonitor(src eventSource, overall, idle time.Duration, start time.Time) *monitor {
	m := &monitor{src: src, overall: overall, idle: idle}
	if overall > 0 {
		m.overallDeadline = start.Add(overall)
	}
	if idle > 0 {
		m.idleDeadline = start.Add(idle)
	}
	return m
}

func (m *monitor) Next(ctx context.Context) (Event, error) {
	deadline, cause := m.nearest()
	if deadline.IsZero() {
		ev, err := m.src.Next(ctx)
		return ev, m.classify(err)
	}

	dctx, cancel := context.WithDeadlineCause(ctx, deadline, cause)
	defer cancel()
	ev, err := m.src.Next(dctx)
	if err != nil {
		return ev, m.classify(err)
	}
	if m.idle > 0 {
		m.idleDeadline = time.Now().Add(m.idle)
	}
	return ev, nil
}

// nearest returns the earlier deadline; overall wins a tie.
func (m *monitor) nearest() (time.Time, *TimeoutError) {
	switch {
	case m.idleDeadline.IsZero() && m.overallDeadline.IsZero():
		return time.Time{}, nil
	case m.idleDeadline.IsZero(),
		!m.overallDeadline.IsZero() && !m.idleDeadline.Before(m.overallDeadline):
		return m.overallDeadline, &TimeoutError{Kind: TimeoutOverall, After: m.overall}
	default:
		return m.idleDeadline, &TimeoutError{Kind: TimeoutIdle, After: m.idle}
	}
}

// classify reports channel-operation timeouts that hit the overall deadline
// as overall timeouts.
func (m *monitor) classify(err error) error {
	if err == nil || !errors.Is(err, transport.ErrTimeout) {
		return err
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if !m.overallDeadline.IsZero() && !time.Now().Before(m.overallDeadline) {
		return &TimeoutError{Kind: TimeoutOverall, After: m.overall, Err: err}
	}
	return &TimeoutError{Kind: TimeoutChannelOperation, Err: err}
}
