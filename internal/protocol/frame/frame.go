package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the fixed multiplexed frame header: id(1) + length(4, LE).
const HeaderLen = 5

// StreamID tags the logical stream a frame belongs to.
type StreamID byte

const (
	StreamStdin      StreamID = 0
	StreamStdout     StreamID = 1
	StreamStderr     StreamID = 2
	StreamExit       StreamID = 3
	StreamCloseStdin StreamID = 4
)

func (s StreamID) String() string {
	switch s {
	case StreamStdin:
		return "stdin"
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	case StreamExit:
		return "exit"
	case StreamCloseStdin:
		return "close-stdin"
	default:
		return fmt.Sprintf("stream(%d)", byte(s))
	}
}

// Known reports whether s is part of the wire contract.
func (s StreamID) Known() bool {
	return s <= StreamCloseStdin
}

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrUnknownStream   = errors.New("frame: unknown stream id")
	ErrInvalidExit     = errors.New("frame: exit frame payload must be exactly 1 byte")
)

// Header is the fixed wire header.
type Header struct {
	Stream StreamID
	Length uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Check validates a decoded header against the wire contract and limits.
func (h Header) Check(limits Limits) error {
	if !h.Stream.Known() {
		return fmt.Errorf("%w: %d", ErrUnknownStream, byte(h.Stream))
	}
	if limits.MaxPayloadBytes > 0 && h.Length > limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Length, limits.MaxPayloadBytes)
	}
	if h.Stream == StreamExit && h.Length != 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidExit, h.Length)
	}
	return nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if err := h.Check(limits); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes f in a single call. The header length is taken from the
// payload.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if limits.MaxPayloadBytes > 0 && uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	_, err := w.Write(Encode(f.Header.Stream, f.Payload))
	return err
}

// Encode returns the complete wire bytes for one frame.
func Encode(stream StreamID, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = byte(stream)
	binary.LittleEndian.PutUint32(buf[1:HeaderLen], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	return Header{
		Stream: StreamID(b[0]),
		Length: binary.LittleEndian.Uint32(b[1:HeaderLen]),
	}, nil
}
