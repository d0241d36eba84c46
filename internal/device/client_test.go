package device

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/devexec/internal/protocol/session"
	"github.com/danmuck/devexec/internal/testutil/fakehost"
	"github.com/danmuck/devexec/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, host *fakehost.Host) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Session.Address = host.Addr()
	cfg.Session.ConnectTimeout = time.Second
	cfg.Session.HandshakeTimeout = time.Second
	cfg.Session.ReadTimeout = time.Second
	return NewClient(cfg)
}

func TestFeaturesAreCachedUntilForgotten(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 30, "cmd", FeatureShellV2, "stat_v2")
	client := newTestClient(t, host)
	ctx := context.Background()

	features, err := client.Features(ctx, "emu-1")
	require.NoError(t, err)
	require.True(t, features.Has(FeatureShellV2))
	require.Equal(t, []string{"cmd", "shell_v2", "stat_v2"}, features.List())

	_, err = client.Features(ctx, "emu-1")
	require.NoError(t, err)
	require.Equal(t, 1, host.Count("host-serial:emu-1:features"))

	client.ForgetDevice("emu-1")
	_, err = client.Features(ctx, "emu-1")
	require.NoError(t, err)
	require.Equal(t, 2, host.Count("host-serial:emu-1:features"))
}

func TestFeaturesUnknownDeviceFails(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	client := newTestClient(t, host)

	_, err := client.Features(context.Background(), "missing-device")
	require.ErrorIs(t, err, session.ErrFail)
	var failErr *session.FailError
	require.True(t, errors.As(err, &failErr))
	require.Contains(t, failErr.Message, "not found")
}

func TestAPILevelParsesGetprop(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 23)
	client := newTestClient(t, host)

	level, err := client.APILevel(context.Background(), "emu-1")
	require.NoError(t, err)
	require.Equal(t, 23, level)
	require.Equal(t, []string{"host:transport:emu-1", "shell:getprop ro.build.version.sdk"}, host.Requests())
}

func TestOpenStreamsServiceBytes(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 30)
	host.Handle("shell:echo", func(conn net.Conn, _ *bufio.Reader, serial, service string) error {
		_, err := io.WriteString(conn, serial+"|"+service)
		return err
	})
	client := newTestClient(t, host)
	ctx := context.Background()

	ch, err := client.Open(ctx, "emu-1", "shell:echo hi")
	require.NoError(t, err)
	defer ch.Close()

	data, err := io.ReadAll(ch.Bind(ctx, time.Second))
	require.NoError(t, err)
	require.Equal(t, "emu-1|shell:echo hi", string(data))
}

func TestOpenRequiresSerial(t *testing.T) {
	testlog.Start(t)
	client := NewClient(DefaultClientConfig())
	_, err := client.Open(context.Background(), " ", "shell:ls")
	require.ErrorIs(t, err, ErrSerialRequired)
}

func TestExitStatusRoundTrip(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 30)
	client := newTestClient(t, host)

	token := uuid.NewString()
	wire := client.TrackExitStatus("false", token)
	require.Equal(t, "(false); echo $? > /data/local/tmp/.devexec-status-"+token, wire)

	host.RecordStatus(fakehost.StatusPath(wire), 1)
	code, err := client.ExitStatus(context.Background(), "emu-1", token)
	require.NoError(t, err)
	require.Equal(t, 1, code)

	_, err = client.ExitStatus(context.Background(), "emu-1", token)
	require.ErrorIs(t, err, ErrInvalidExitStatus)
}

func TestExitStatusRejectsForeignToken(t *testing.T) {
	testlog.Start(t)
	client := NewClient(DefaultClientConfig())
	_, err := client.ExitStatus(context.Background(), "emu-1", "x; rm -rf /")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseFeaturesSkipsBlanks(t *testing.T) {
	f := ParseFeatures(" shell_v2 ,, cmd,")
	require.Len(t, f, 2)
	require.True(t, f.Has("cmd"))
	require.Equal(t, "cmd,shell_v2", f.String())
}

func TestFeaturesCancelledCallerLeavesSharedQueryRunning(t *testing.T) {
	testlog.Start(t)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 30, FeatureShellV2)
	host.DelayFeatures(300 * time.Millisecond)
	client := newTestClient(t, host)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := client.Features(ctxA, "emu-1")
		errA <- err
	}()
	require.Eventually(t, func() bool {
		return host.Count("host-serial:emu-1:features") == 1
	}, time.Second, 5*time.Millisecond)

	type lookup struct {
		features FeatureSet
		err      error
	}
	resB := make(chan lookup, 1)
	go func() {
		features, err := client.Features(context.Background(), "emu-1")
		resB <- lookup{features, err}
	}()
	time.Sleep(30 * time.Millisecond)
	cancelA()

	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("cancelled caller still waiting on shared query")
	}

	b := <-resB
	require.NoError(t, b.err)
	require.True(t, b.features.Has(FeatureShellV2))
	require.Equal(t, 1, host.Count("host-serial:emu-1:features"))
}
