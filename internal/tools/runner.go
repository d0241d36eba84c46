package tools

import (
	"context"
	"strings"

	"github.com/danmuck/devexec/internal/shell"
)

// CommandRunner abstracts command execution for callers that think in argv.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error)
}

// DeviceRunner executes commands on one device.
type DeviceRunner struct {
	Exec   *shell.Executor
	Serial string
	// Base supplies timeouts and protocol permissions; its command is replaced.
	Base shell.Config
}

var _ CommandRunner = DeviceRunner{}

func NewDeviceRunner(exec *shell.Executor, serial string) DeviceRunner {
	return DeviceRunner{Exec: exec, Serial: serial, Base: shell.NewConfig("")}
}

// Run returns shell.NoExitCode as the exit code when the protocol carries none.
func (r DeviceRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	cfg := r.Base.WithCommand(Join(append([]string{name}, args...)))
	res, err := shell.Single(ctx, r.Exec, r.Serial, cfg, shell.NewTextCollector())
	if err != nil {
		return nil, nil, shell.NoExitCode, err
	}
	return []byte(res.Stdout), []byte(res.Stderr), res.ExitCode, nil
}

// Join quotes argv for a POSIX shell.
func Join(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Quote returns s unchanged when it is shell-safe, otherwise single-quoted.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("@%+=:,./-_", r)
}
