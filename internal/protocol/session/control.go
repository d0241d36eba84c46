package session

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	StatusOkay = "OKAY"
	StatusFail = "FAIL"

	// MaxMessageLen is the largest payload a 4 hex digit prefix can carry.
	MaxMessageLen = 0xFFFF
)

var (
	ErrFail            = errors.New("session: service request failed")
	ErrMessageTooLarge = errors.New("session: message too large")
	ErrInvalidStatus   = errors.New("session: invalid status")
	ErrInvalidLength   = errors.New("session: invalid length prefix")
	ErrEmptyService    = errors.New("session: empty service")
)

// FailError carries the host's FAIL message for one service request.
type FailError struct {
	Service string
	Message string
}

func (e *FailError) Error() string {
	return fmt.Sprintf("session: service %q failed: %s", e.Service, e.Message)
}

func (e *FailError) Unwrap() error {
	return ErrFail
}

// WriteRequest sends one length-prefixed service request.
func WriteRequest(w io.Writer, service string) error {
	if service == "" {
		return ErrEmptyService
	}
	return WriteLengthPrefixed(w, service)
}

// ReadRequest is the host-side counterpart of WriteRequest.
func ReadRequest(r io.Reader) (string, error) {
	service, err := ReadLengthPrefixed(r)
	if err != nil {
		return "", err
	}
	if service == "" {
		return "", ErrEmptyService
	}
	return service, nil
}

// ReadStatus consumes OKAY, or FAIL plus its message as *FailError.
func ReadStatus(r io.Reader, service string) error {
	var status [4]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return fmt.Errorf("session: read status for %q: %w", service, err)
	}
	switch string(status[:]) {
	case StatusOkay:
		return nil
	case StatusFail:
		msg, err := ReadLengthPrefixed(r)
		if err != nil {
			return fmt.Errorf("session: read failure message for %q: %w", service, err)
		}
		return &FailError{Service: service, Message: msg}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status[:])
	}
}

func WriteOkay(w io.Writer) error {
	_, err := io.WriteString(w, StatusOkay)
	return err
}

func WriteFail(w io.Writer, message string) error {
	if len(message) > MaxMessageLen {
		message = message[:MaxMessageLen]
	}
	buf := make([]byte, 0, 8+len(message))
	buf = append(buf, StatusFail...)
	buf = append(buf, lengthPrefix(len(message))...)
	buf = append(buf, message...)
	_, err := w.Write(buf)
	return err
}

func WriteLengthPrefixed(w io.Writer, msg string) error {
	if len(msg) > MaxMessageLen {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(msg))
	}
	buf := make([]byte, 0, 4+len(msg))
	buf = append(buf, lengthPrefix(len(msg))...)
	buf = append(buf, msg...)
	_, err := w.Write(buf)
	return err
}

func ReadLengthPrefixed(r io.Reader) (string, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(prefix[:]), 16, 16)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLength, prefix[:])
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func lengthPrefix(n int) string {
	return fmt.Sprintf("%04x", n)
}
