package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/devexec/internal/testutil/testlog"
)

func TestRequestRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteRequest(&buf, "host:transport:emulator-5554"); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if got := buf.String(); got != "001chost:transport:emulator-5554" {
		t.Fatalf("unexpected wire bytes: %q", got)
	}
	service, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	if service != "host:transport:emulator-5554" {
		t.Fatalf("unexpected service: %q", service)
	}
}

func TestWriteRequestRejectsEmptyAndOversized(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteRequest(&buf, ""); !errors.Is(err, ErrEmptyService) {
		t.Fatalf("expected ErrEmptyService, got %v", err)
	}
	if err := WriteRequest(&buf, string(make([]byte, MaxMessageLen+1))); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestReadStatusOkayAndFail(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	_ = WriteOkay(&buf)
	if err := ReadStatus(&buf, "shell:ls"); err != nil {
		t.Fatalf("expected OKAY, got %v", err)
	}

	buf.Reset()
	_ = WriteFail(&buf, "device offline")
	err := ReadStatus(&buf, "shell:ls")
	if !errors.Is(err, ErrFail) {
		t.Fatalf("expected ErrFail, got %v", err)
	}
	var failErr *FailError
	if !errors.As(err, &failErr) {
		t.Fatalf("expected *FailError, got %T", err)
	}
	if failErr.Message != "device offline" || failErr.Service != "shell:ls" {
		t.Fatalf("unexpected fail error: %+v", failErr)
	}
}

func TestReadStatusRejectsGarbage(t *testing.T) {
	testlog.Start(t)
	err := ReadStatus(bytes.NewBufferString("WHAT"), "shell:ls")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	_, err = ReadLengthPrefixed(bytes.NewBufferString("zz01x"))
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ReadTimeout: time.Second}.WithDefaults()
	if cfg.Address != DefaultAddress {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if cfg.ReadTimeout != time.Second {
		t.Fatalf("read timeout overridden: %v", cfg.ReadTimeout)
	}
	if cfg.ConnectTimeout != DefaultConfig().ConnectTimeout {
		t.Fatalf("unexpected connect timeout: %v", cfg.ConnectTimeout)
	}
}
