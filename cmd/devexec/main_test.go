package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/devexec/internal/device"
	"github.com/danmuck/devexec/internal/protocol/frame"
	"github.com/danmuck/devexec/internal/testutil/fakehost"
	"github.com/danmuck/devexec/internal/testutil/testlog"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(append([]string{"--env-file=" + filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "devexec.toml")

	out, _, err := execute(t, "", "config", "init", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Fatalf("unexpected init output: %q", out)
	}
	out, _, err = execute(t, "", "config", "validate", path)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Fatalf("unexpected validate output: %q", out)
	}
	if _, _, err := execute(t, "", "config", "init", path); err == nil {
		t.Fatalf("expected init to refuse overwriting")
	}
}

func TestRunStreamsLinesAndExitCode(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 30, device.FeatureShellV2)
	host.Handle("shell,v2,raw:ls -l /sdcard", func(conn net.Conn, _ *bufio.Reader, _, _ string) error {
		for _, f := range [][]byte{
			frame.Encode(frame.StreamStdout, []byte("a.txt\nb.t")),
			frame.Encode(frame.StreamStderr, []byte("denied\n")),
			frame.Encode(frame.StreamStdout, []byte("xt\n")),
			frame.Encode(frame.StreamExit, []byte{2}),
		} {
			if _, err := conn.Write(f); err != nil {
				return err
			}
		}
		return nil
	})

	out, errOut, err := execute(t, "", "--host="+host.Addr(), "run", "emu-1", "--", "ls", "-l", "/sdcard")
	var exit exitError
	if !errors.As(err, &exit) || exit.code != 2 {
		t.Fatalf("expected exit code 2, got %v", err)
	}
	if out != "a.txt\nb.txt\n" {
		t.Fatalf("unexpected stdout: %q", out)
	}
	if errOut != "denied\n" {
		t.Fatalf("unexpected stderr: %q", errOut)
	}
}

func TestRunQuotesArgvWords(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 30, device.FeatureShellV2)
	for _, tc := range []struct {
		args []string
		want string
	}{
		{[]string{"echo", "a b", "it's"}, `shell,v2,raw:echo 'a b' 'it'\''s'`},
		{[]string{"ls /sdcard | grep x"}, "shell,v2,raw:ls /sdcard | grep x"},
	} {
		host.Handle(tc.want, func(conn net.Conn, _ *bufio.Reader, _, _ string) error {
			_, err := conn.Write(frame.Encode(frame.StreamExit, []byte{0}))
			return err
		})
		args := append([]string{"--host=" + host.Addr(), "run", "emu-1", "--"}, tc.args...)
		if _, _, err := execute(t, "", args...); err != nil {
			t.Fatalf("run %q: %v", tc.args, err)
		}
		if host.Count(tc.want) != 1 {
			t.Fatalf("expected service %q, got %q", tc.want, host.Requests())
		}
	}
}

func TestFeaturesCommand(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 30, "cmd", device.FeatureShellV2)

	out, _, err := execute(t, "", "--host="+host.Addr(), "features", "emu-1")
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	if out != "cmd\nshell_v2\n" {
		t.Fatalf("unexpected features output: %q", out)
	}
}
