package shell

import (
	"fmt"
	"io"
	"time"
)

// DefaultBufferSize is the read buffer used per execution.
const DefaultBufferSize = 8 * 1024

// RewriteFunc rewrites the command sent on the wire once the protocol is known.
type RewriteFunc func(command string, p Protocol) string

// Permissions lists the protocols an execution may use.
type Permissions struct {
	Multiplexed bool
	RawWithExit bool
	RawMerged   bool
}

// AllProtocols permits every protocol.
func AllProtocols() Permissions {
	return Permissions{Multiplexed: true, RawWithExit: true, RawMerged: true}
}

func (p Permissions) Allows(proto Protocol) bool {
	switch proto {
	case Multiplexed:
		return p.Multiplexed
	case RawWithExit:
		return p.RawWithExit
	case RawMerged:
		return p.RawMerged
	default:
		return false
	}
}

func (p Permissions) Any() bool {
	return p.Multiplexed || p.RawWithExit || p.RawMerged
}

// Config describes one execution. It is a value: the With methods return a
// modified copy and never touch the receiver.
type Config struct {
	Command string
	Stdin   io.Reader
	// Timeout bounds the whole execution; <= 0 is unbounded.
	Timeout time.Duration
	// IdleTimeout bounds the gap between events; 0 disables it.
	IdleTimeout    time.Duration
	BufferSize     int
	Protocols      Permissions
	StripCRLF      bool
	ShutdownOutput bool
	Rewrite        RewriteFunc
}

// NewConfig returns the defaults for command.
func NewConfig(command string) Config {
	return Config{
		Command:        command,
		BufferSize:     DefaultBufferSize,
		Protocols:      AllProtocols(),
		StripCRLF:      true,
		ShutdownOutput: true,
	}
}

func (c Config) WithCommand(command string) Config {
	c.Command = command
	return c
}

func (c Config) WithStdin(r io.Reader) Config {
	c.Stdin = r
	return c
}

func (c Config) WithTimeout(d time.Duration) Config {
	c.Timeout = d
	return c
}

func (c Config) WithIdleTimeout(d time.Duration) Config {
	c.IdleTimeout = d
	return c
}

func (c Config) WithBufferSize(n int) Config {
	c.BufferSize = n
	return c
}

func (c Config) WithStripCRLF(on bool) Config {
	c.StripCRLF = on
	return c
}

func (c Config) WithShutdownOutput(on bool) Config {
	c.ShutdownOutput = on
	return c
}

func (c Config) WithRewrite(fn RewriteFunc) Config {
	c.Rewrite = fn
	return c
}

func (c Config) WithProtocols(p Permissions) Config {
	c.Protocols = p
	return c
}

func (c Config) AllowMultiplexed(on bool) Config {
	c.Protocols.Multiplexed = on
	return c
}

func (c Config) AllowRawWithExit(on bool) Config {
	c.Protocols.RawWithExit = on
	return c
}

func (c Config) AllowRawMerged(on bool) Config {
	c.Protocols.RawMerged = on
	return c
}

// Force permits p and nothing else.
func (c Config) Force(p Protocol) Config {
	c.Protocols = Permissions{
		Multiplexed: p == Multiplexed,
		RawWithExit: p == RawWithExit,
		RawMerged:   p == RawMerged,
	}
	return c
}

// Validate reports configurations that cannot run.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be > 0 (got %d)", ErrInvalidConfig, c.BufferSize)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle timeout must be >= 0 (got %s)", ErrInvalidConfig, c.IdleTimeout)
	}
	if !c.Protocols.Any() {
		return fmt.Errorf("%w: no protocol permitted", ErrInvalidConfig)
	}
	return nil
}

// WireCommand is the command sent to the device under p.
func (c Config) WireCommand(p Protocol) string {
	if c.Rewrite == nil {
		return c.Command
	}
	return c.Rewrite(c.Command, p)
}
