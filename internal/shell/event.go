package shell

import "fmt"

// EventKind tags an Event.
type EventKind int

const (
	EventStdout EventKind = iota
	EventStderr
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one protocol event in wire order.
//
// Data is only valid until the next event is pulled; collectors that keep
// bytes must copy them.
type Event struct {
	Kind     EventKind
	Data     []byte
	ExitCode int
}
