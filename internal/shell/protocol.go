package shell

import (
	"fmt"
	"strings"
)

// Protocol is the wire protocol chosen once per execution.
type Protocol int

const (
	// Multiplexed carries stdout, stderr and the exit code as tagged frames.
	Multiplexed Protocol = iota + 1
	// RawWithExit carries merged output; the exit code is fetched afterwards.
	RawWithExit
	// RawMerged carries merged output and never yields an exit code.
	RawMerged
)

const (
	// MinRawWithExitAPILevel is the first device API level with the exec service.
	MinRawWithExitAPILevel = 21
	// MaxCRLFAPILevel is the last device API level whose legacy shell emits CRLF.
	MaxCRLFAPILevel = 23
)

func (p Protocol) String() string {
	switch p {
	case Multiplexed:
		return "multiplexed"
	case RawWithExit:
		return "raw-with-exit"
	case RawMerged:
		return "raw-merged"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// ParseProtocol accepts the String form of a protocol.
func ParseProtocol(raw string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "multiplexed", "shell-v2", "v2":
		return Multiplexed, nil
	case "raw-with-exit", "exec":
		return RawWithExit, nil
	case "raw-merged", "legacy", "shell":
		return RawMerged, nil
	default:
		return 0, fmt.Errorf("%w: unknown protocol %q", ErrInvalidConfig, raw)
	}
}

// service is the device service that runs command under p.
func (p Protocol) service(command string) string {
	switch p {
	case Multiplexed:
		return "shell,v2,raw:" + command
	case RawWithExit:
		return "exec:" + command
	default:
		return "shell:" + command
	}
}
