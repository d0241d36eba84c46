package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout              = errors.New("transport: operation timed out")
	ErrChannelClosed        = errors.New("transport: channel closed")
	ErrChannelBroken        = errors.New("transport: channel unusable after failed operation")
	ErrNotConnected         = errors.New("transport: channel not connected")
	ErrAlreadyConnected     = errors.New("transport: channel already connected")
	ErrHalfCloseUnsupported = errors.New("transport: half-close unsupported by connection")
)

// State is the channel lifecycle marker. Closed is terminal.
type State int32

const (
	StateUnopened State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Channel is a cancellable, timeout-bounded byte stream over one socket.
//
// At most one read and one write are in flight at a time. Close may be called
// from any goroutine, any number of times; in-flight operations observe
// ErrChannelClosed instead of hanging.
type Channel struct {
	connMu     sync.Mutex
	conn       net.Conn
	connecting bool

	state  atomic.Int32
	broken atomic.Bool

	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New returns an unopened channel.
func New() *Channel {
	return &Channel{closed: make(chan struct{})}
}

// Wrap adopts an already connected socket.
func Wrap(conn net.Conn) *Channel {
	c := New()
	c.conn = conn
	c.state.Store(int32(StateConnected))
	return c
}

// Dial connects a new channel to addr.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Channel, error) {
	c := New()
	if err := c.Connect(ctx, addr, timeout); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

// Closed is closed once the channel reaches StateClosed.
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

func (c *Channel) RemoteAddr() string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Connect dials addr over TCP. A cancelled context closes the channel.
func (c *Channel) Connect(ctx context.Context, addr string, timeout time.Duration) error {
	c.connMu.Lock()
	switch {
	case c.State() == StateClosed:
		c.connMu.Unlock()
		return fmt.Errorf("%w: connect %s", ErrChannelClosed, addr)
	case c.State() != StateUnopened || c.connecting:
		c.connMu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.connMu.Unlock()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)

	c.connMu.Lock()
	c.connecting = false
	if err != nil {
		c.connMu.Unlock()
		if ctx.Err() != nil {
			_ = c.Close()
			return context.Cause(ctx)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.broken.Store(true)
			return fmt.Errorf("%w: connect %s after %s", ErrTimeout, addr, timeout)
		}
		return fmt.Errorf("transport: connect %s: %w", addr, err)
	}
	if c.State() == StateClosed {
		c.connMu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: connect %s", ErrChannelClosed, addr)
	}
	c.conn = conn
	c.state.Store(int32(StateConnected))
	c.connMu.Unlock()
	log.Debug().Str("addr", addr).Msg("transport.Channel connected")
	return nil
}

// Read reads at most len(p) bytes. io.EOF reports that the peer closed its
// write side; it is not a failure.
func (c *Channel) Read(ctx context.Context, p []byte, timeout time.Duration) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	conn, err := c.usable()
	if err != nil {
		return 0, err
	}
	if ctx.Err() != nil {
		_ = c.Close()
		return 0, context.Cause(ctx)
	}
	if err := conn.SetReadDeadline(deadlineAfter(timeout)); err != nil {
		return 0, c.mapErr(err, "read", timeout)
	}

	stop := context.AfterFunc(ctx, c.abort)
	n, err := conn.Read(p)
	if !stop() {
		_ = c.Close()
		return 0, context.Cause(ctx)
	}
	if err != nil {
		return n, c.mapErr(err, "read", timeout)
	}
	return n, nil
}

// ReadFull reads exactly len(p) bytes. It returns io.EOF when the stream ends
// before any byte and io.ErrUnexpectedEOF when it ends part way.
func (c *Channel) ReadFull(ctx context.Context, p []byte, timeout time.Duration) (int, error) {
	n := 0
	for n < len(p) {
		m, err := c.Read(ctx, p[n:], timeout)
		n += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				if n == 0 {
					return 0, io.EOF
				}
				return n, io.ErrUnexpectedEOF
			}
			return n, err
		}
	}
	return n, nil
}

// Write writes all of p or fails.
func (c *Channel) Write(ctx context.Context, p []byte, timeout time.Duration) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn, err := c.usable()
	if err != nil {
		return 0, err
	}
	if ctx.Err() != nil {
		_ = c.Close()
		return 0, context.Cause(ctx)
	}
	if err := conn.SetWriteDeadline(deadlineAfter(timeout)); err != nil {
		return 0, c.mapErr(err, "write", timeout)
	}

	stop := context.AfterFunc(ctx, c.abort)
	n, err := conn.Write(p)
	if !stop() {
		_ = c.Close()
		return n, context.Cause(ctx)
	}
	if err != nil {
		return n, c.mapErr(err, "write", timeout)
	}
	return n, nil
}

// CloseWrite half-closes the write side so the peer observes end of input.
func (c *Channel) CloseWrite() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn, err := c.usable()
	if err != nil {
		return err
	}
	hc, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return ErrHalfCloseUnsupported
	}
	if err := hc.CloseWrite(); err != nil {
		return c.mapErr(err, "close-write", 0)
	}
	return nil
}

// Close closes the channel exactly once. Later calls return the first result.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		conn := c.conn
		c.state.Store(int32(StateClosed))
		c.connMu.Unlock()

		if conn != nil {
			c.closeErr = conn.Close()
			log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("transport.Channel closed")
		}
		close(c.closed)
	})
	return c.closeErr
}

// Bind returns an io.ReadWriter view whose calls use ctx and timeout.
func (c *Channel) Bind(ctx context.Context, timeout time.Duration) io.ReadWriter {
	return &boundStream{ch: c, ctx: ctx, timeout: timeout}
}

type boundStream struct {
	ch      *Channel
	ctx     context.Context
	timeout time.Duration
}

func (b *boundStream) Read(p []byte) (int, error) {
	return b.ch.Read(b.ctx, p, b.timeout)
}

func (b *boundStream) Write(p []byte) (int, error) {
	return b.ch.Write(b.ctx, p, b.timeout)
}

func (c *Channel) abort() {
	_ = c.Close()
}

func (c *Channel) usable() (net.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	switch c.State() {
	case StateClosed:
		return nil, ErrChannelClosed
	case StateUnopened:
		return nil, ErrNotConnected
	}
	if c.broken.Load() {
		return nil, ErrChannelBroken
	}
	return c.conn, nil
}

func (c *Channel) mapErr(err error, op string, timeout time.Duration) error {
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, os.ErrDeadlineExceeded):
		c.broken.Store(true)
		return fmt.Errorf("%w: %s after %s", ErrTimeout, op, timeout)
	case errors.Is(err, net.ErrClosed) || c.State() == StateClosed:
		return fmt.Errorf("%w: %s", ErrChannelClosed, op)
	default:
		return fmt.Errorf("transport: %s: %w", op, err)
	}
}

func deadlineAfter(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
