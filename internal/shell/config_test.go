package shell

import (
	"strings"
	"testing"
	"time"

	"github.com/danmuck/devexec/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestConfigBuildersReturnCopies(t *testing.T) {
	testlog.Start(t)
	base := NewConfig("ls")
	derived := base.WithTimeout(time.Second).WithIdleTimeout(50 * time.Millisecond).
		WithBufferSize(16).Force(RawWithExit).WithStdin(strings.NewReader("x"))

	require.Equal(t, time.Duration(0), base.Timeout)
	require.Equal(t, DefaultBufferSize, base.BufferSize)
	require.Equal(t, AllProtocols(), base.Protocols)
	require.Nil(t, base.Stdin)

	require.Equal(t, time.Second, derived.Timeout)
	require.Equal(t, 16, derived.BufferSize)
	require.True(t, derived.Protocols.Allows(RawWithExit))
	require.False(t, derived.Protocols.Allows(Multiplexed))
	require.False(t, derived.Protocols.Allows(RawMerged))
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, NewConfig("ls").Validate())
	require.ErrorIs(t, NewConfig("ls").WithBufferSize(0).Validate(), ErrInvalidConfig)
	require.ErrorIs(t, NewConfig("ls").WithIdleTimeout(-time.Second).Validate(), ErrInvalidConfig)
	require.ErrorIs(t, NewConfig("ls").WithProtocols(Permissions{}).Validate(), ErrInvalidConfig)
}

func TestConfigWireCommandUsesRewrite(t *testing.T) {
	testlog.Start(t)
	cfg := NewConfig("ls")
	require.Equal(t, "ls", cfg.WireCommand(Multiplexed))

	cfg = cfg.WithRewrite(func(command string, p Protocol) string {
		return command + " # " + p.String()
	})
	require.Equal(t, "ls # raw-merged", cfg.WireCommand(RawMerged))
	require.Equal(t, "ls", cfg.Command)
}

func TestParseProtocol(t *testing.T) {
	testlog.Start(t)
	for _, p := range []Protocol{Multiplexed, RawWithExit, RawMerged} {
		got, err := ParseProtocol(p.String())
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
	_, err := ParseProtocol("telnet")
	require.ErrorIs(t, err, ErrInvalidConfig)
}
