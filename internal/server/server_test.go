package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/devexec/internal/config"
	"github.com/danmuck/devexec/internal/device"
	"github.com/danmuck/devexec/internal/protocol/frame"
	"github.com/danmuck/devexec/internal/shell"
	"github.com/danmuck/devexec/internal/testutil/fakehost"
	"github.com/danmuck/devexec/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const token = "test-token"

func newTestServer(t *testing.T) (*Server, *fakehost.Host) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	host := fakehost.Start(t)
	host.AddDevice("emu-1", 30, device.FeatureShellV2)

	cfg := config.Default()
	cfg.Host.Session.Address = host.Addr()
	cfg.Host.Session.ConnectTimeout = time.Second
	cfg.Host.Session.HandshakeTimeout = time.Second
	client := device.NewClient(cfg.Host)

	srv := New(Options{Addr: "127.0.0.1:0", Token: token, Defaults: cfg.Exec}, shell.NewExecutor(client), client)
	return srv, host
}

func do(t *testing.T, srv *Server, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	srv.HTTPRouter().ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExecRequiresToken(t *testing.T) {
	testlog.Start(t)
	srv, host := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/devices/emu-1/exec", "", ExecRequest{Command: "id"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, host.Requests())
}

func TestExecReturnsOutput(t *testing.T) {
	testlog.Start(t)
	srv, host := newTestServer(t)
	host.Handle("shell,v2,raw:id", func(conn net.Conn, _ *bufio.Reader, _, _ string) error {
		for _, f := range [][]byte{
			frame.Encode(frame.StreamStdout, []byte("uid=0(root)\n")),
			frame.Encode(frame.StreamStderr, []byte("note\n")),
			frame.Encode(frame.StreamExit, []byte{0}),
		} {
			if _, err := conn.Write(f); err != nil {
				return err
			}
		}
		return nil
	})

	rec := do(t, srv, http.MethodPost, "/devices/emu-1/exec", token, ExecRequest{Command: "id", Timeout: "5s"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var out ExecResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "uid=0(root)\n", out.Stdout)
	require.Equal(t, "note\n", out.Stderr)
	require.NotNil(t, out.ExitCode)
	require.Zero(t, *out.ExitCode)
	require.Equal(t, rec.Header().Get(requestIDHeader), out.RequestID)
}

func TestExecErrorStatuses(t *testing.T) {
	testlog.Start(t)
	srv, host := newTestServer(t)
	host.Handle("shell,v2,raw:hang", func(_ net.Conn, r *bufio.Reader, _, _ string) error {
		_, _ = r.WriteTo(bytes.NewBuffer(nil))
		return nil
	})

	cases := []struct {
		name   string
		serial string
		req    any
		want   int
	}{
		{"missing command", "emu-1", map[string]string{"stdin": "x"}, http.StatusBadRequest},
		{"bad timeout", "emu-1", ExecRequest{Command: "id", Timeout: "soon"}, http.StatusBadRequest},
		{"bad protocol", "emu-1", ExecRequest{Command: "id", Protocol: "telnet"}, http.StatusBadRequest},
		{"unknown device", "emu-404", ExecRequest{Command: "id"}, http.StatusNotFound},
		{"idle timeout", "emu-1", ExecRequest{Command: "hang", IdleTimeout: "50ms"}, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/devices/"+tc.serial+"/exec", token, tc.req)
			require.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestFeaturesRoute(t *testing.T) {
	testlog.Start(t)
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/devices/emu-1/features", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), device.FeatureShellV2)
}
