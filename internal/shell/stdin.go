package shell

import (
	"context"
	"errors"
	"io"

	"github.com/danmuck/devexec/internal/protocol/frame"
	"github.com/danmuck/devexec/internal/transport"
)

// stdinPump forwards caller input to the device. It runs beside the output
// drain and its failures never fail the execution.
type stdinPump func(ctx context.Context) error

// multiplexedStdin sends input as stdin frames and ends with a close-stdin
// frame. Without input only the close-stdin frame is sent.
func multiplexedStdin(ch *transport.Channel, in io.Reader, bufSize int, limits frame.Limits) stdinPump {
	return func(ctx context.Context) error {
		w := ch.Bind(ctx, 0)
		if in != nil {
			buf := make([]byte, bufSize)
			for {
				n, err := in.Read(buf)
				if n > 0 {
					f := frame.Frame{Header: frame.Header{Stream: frame.StreamStdin}, Payload: buf[:n]}
					if werr := frame.WriteFrame(w, f, limits); werr != nil {
						return werr
					}
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
			}
		}
		return frame.WriteFrame(w, frame.Frame{Header: frame.Header{Stream: frame.StreamCloseStdin}}, limits)
	}
}

// rawStdin copies input verbatim. With shutdown set the write side is
// half-closed once input is exhausted, or at once when there is none.
func rawStdin(ch *transport.Channel, in io.Reader, bufSize int, shutdown bool) stdinPump {
	return func(ctx context.Context) error {
		if in != nil {
			if _, err := io.CopyBuffer(ch.Bind(ctx, 0), onlyReader{in}, make([]byte, bufSize)); err != nil {
				return err
			}
		}
		if !shutdown {
			return nil
		}
		return ch.CloseWrite()
	}
}

// onlyReader hides WriterTo so CopyBuffer uses the given buffer.
type onlyReader struct {
	io.Reader
}
