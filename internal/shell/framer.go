package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/devexec/internal/protocol/frame"
	"github.com/danmuck/devexec/internal/transport"
)

// eventSource yields protocol events in wire order and io.EOF after the last.
type eventSource interface {
	Next(ctx context.Context) (Event, error)
}

// wire bounds every channel operation by the time left until deadline.
type wire struct {
	ch       *transport.Channel
	deadline time.Time
}

func (w wire) timeout() time.Duration {
	if w.deadline.IsZero() {
		return 0
	}
	if left := time.Until(w.deadline); left > 0 {
		return left
	}
	return time.Nanosecond
}

func (w wire) read(ctx context.Context, p []byte) (int, error) {
	for {
		n, err := w.ch.Read(ctx, p, w.timeout())
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (w wire) readFull(ctx context.Context, p []byte) error {
	_, err := w.ch.ReadFull(ctx, p, w.timeout())
	return err
}

func framingErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolFraming, fmt.Sprintf(format, args...))
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// multiplexedFramer decodes tagged frames. Payloads larger than the buffer are
// split into consecutive events of the same stream.
type multiplexedFramer struct {
	w      wire
	limits frame.Limits
	buf    []byte
	header [frame.HeaderLen]byte

	stream    frame.StreamID
	remaining uint32
	done      bool
}

func newMultiplexedFramer(w wire, bufSize int, limits frame.Limits) *multiplexedFramer {
	return &multiplexedFramer{w: w, limits: limits, buf: make([]byte, bufSize)}
}

func (f *multiplexedFramer) Next(ctx context.Context) (Event, error) {
	for {
		if f.done {
			return Event{}, io.EOF
		}
		if f.remaining > 0 {
			return f.payload(ctx)
		}
		if err := f.w.readFull(ctx, f.header[:]); err != nil {
			if isEOF(err) {
				return Event{}, framingErr("stream ended before exit frame")
			}
			return Event{}, err
		}
		h, err := frame.DecodeHeader(f.header[:])
		if err != nil {
			return Event{}, framingErr("%v", err)
		}
		if err := h.Check(f.limits); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrProtocolFraming, err)
		}
		switch h.Stream {
		case frame.StreamExit:
			var code [1]byte
			if err := f.w.readFull(ctx, code[:]); err != nil {
				if isEOF(err) {
					return Event{}, framingErr("truncated exit frame")
				}
				return Event{}, err
			}
			f.done = true
			return Event{Kind: EventExit, ExitCode: int(code[0])}, nil
		case frame.StreamStdout, frame.StreamStderr:
			f.stream, f.remaining = h.Stream, h.Length
		default:
			return Event{}, framingErr("unexpected %s frame from device", h.Stream)
		}
	}
}

func (f *multiplexedFramer) payload(ctx context.Context) (Event, error) {
	n := min(len(f.buf), int(f.remaining))
	m, err := f.w.read(ctx, f.buf[:n])
	if err != nil {
		if isEOF(err) {
			return Event{}, framingErr("truncated %s frame (%d bytes missing)", f.stream, f.remaining)
		}
		return Event{}, err
	}
	f.remaining -= uint32(m)
	kind := EventStdout
	if f.stream == frame.StreamStderr {
		kind = EventStderr
	}
	return Event{Kind: kind, Data: f.buf[:m]}, nil
}

// rawExitFramer emits merged output, then the exit code fetched by a
// follow-up query once the device closes the stream.
type rawExitFramer struct {
	w          wire
	buf        []byte
	exitStatus func(ctx context.Context) (int, error)
	done       bool
}

func newRawExitFramer(w wire, bufSize int, exitStatus func(ctx context.Context) (int, error)) *rawExitFramer {
	return &rawExitFramer{w: w, buf: make([]byte, bufSize), exitStatus: exitStatus}
}

func (f *rawExitFramer) Next(ctx context.Context) (Event, error) {
	if f.done {
		return Event{}, io.EOF
	}
	n, err := f.w.read(ctx, f.buf)
	if err == nil {
		return Event{Kind: EventStdout, Data: f.buf[:n]}, nil
	}
	if !errors.Is(err, io.EOF) {
		return Event{}, err
	}
	code, err := f.exitStatus(ctx)
	if err != nil {
		return Event{}, err
	}
	f.done = true
	return Event{Kind: EventExit, ExitCode: code}, nil
}

// rawMergedFramer emits merged output with no exit code, optionally
// rewriting CRLF to LF.
type rawMergedFramer struct {
	w     wire
	buf   []byte
	out   []byte
	strip *crlfStripper
	done  bool
}

func newRawMergedFramer(w wire, bufSize int, stripCRLF bool) *rawMergedFramer {
	f := &rawMergedFramer{w: w, buf: make([]byte, bufSize)}
	if stripCRLF {
		f.strip = &crlfStripper{}
		f.out = make([]byte, 0, bufSize+1)
	}
	return f
}

func (f *rawMergedFramer) Next(ctx context.Context) (Event, error) {
	for {
		if f.done {
			return Event{}, io.EOF
		}
		n, err := f.w.read(ctx, f.buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Event{}, err
			}
			f.done = true
			if f.strip != nil {
				if tail := f.strip.Flush(f.out[:0]); len(tail) > 0 {
					return Event{Kind: EventStdout, Data: tail}, nil
				}
			}
			return Event{}, io.EOF
		}
		data := f.buf[:n]
		if f.strip != nil {
			data = f.strip.Strip(f.out[:0], data)
			if len(data) == 0 {
				continue
			}
		}
		return Event{Kind: EventStdout, Data: data}, nil
	}
}
