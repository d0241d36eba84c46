package shell

import "io"

// NoExitCode is passed to Collector.End when the protocol carries no exit code.
const NoExitCode = -1

// CollectorKind tells the entry points how many units a collector emits.
type CollectorKind int

const (
	// MultiOutput collectors emit any number of units.
	MultiOutput CollectorKind = iota
	// SingleOutput collectors emit exactly one unit, from End.
	SingleOutput
)

func (k CollectorKind) String() string {
	if k == SingleOutput {
		return "single-output"
	}
	return "multi-output"
}

// Collector folds output events into caller-visible units of type T.
//
// Collect receives stdout and stderr events only; the exit code arrives in
// End. Event data must be copied if it is kept. A collector serves one
// execution at a time; Start resets it.
type Collector[T any] interface {
	Kind() CollectorKind
	Start(emit func(T) error) error
	Collect(ev Event, emit func(T) error) error
	End(exitCode int, emit func(T) error) error
}

// Aborter is implemented by collectors that hold resources between Start and
// End. Abort is called in place of End when the execution fails.
type Aborter interface {
	Abort()
}

// CollectorFunc adapts a function to a multi-output collector.
type CollectorFunc[T any] func(ev Event, emit func(T) error) error

func (CollectorFunc[T]) Kind() CollectorKind          { return MultiOutput }
func (CollectorFunc[T]) Start(func(T) error) error    { return nil }
func (CollectorFunc[T]) End(int, func(T) error) error { return nil }
func (f CollectorFunc[T]) Collect(ev Event, emit func(T) error) error {
	return f(ev, emit)
}

func abort(col any) {
	if a, ok := col.(Aborter); ok {
		a.Abort()
	}
}

// release closes v when the unit owns resources.
func release(v any) error {
	if c, ok := v.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
