// Package fakehost is a scripted loopback host daemon for tests.
package fakehost

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/devexec/internal/protocol/session"
)

// ServiceFunc serves one device service after OKAY was sent. The connection
// is closed when it returns.
type ServiceFunc func(conn net.Conn, r *bufio.Reader, serial, service string) error

type Host struct {
	ln net.Listener

	mu        sync.Mutex
	features  map[string]string
	apiLevels map[string]int
	statuses  map[string]int
	handlers  map[string]ServiceFunc
	requests  []string
	conns     map[net.Conn]struct{}
	delay     time.Duration

	wg sync.WaitGroup
}

var statusPathRE = regexp.MustCompile(`echo \$\? > (\S+)$`)

// Start listens on loopback and registers cleanup with t.
func Start(t testing.TB) *Host {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakehost listen: %v", err)
	}
	h := &Host{
		ln:        ln,
		features:  make(map[string]string),
		apiLevels: make(map[string]int),
		statuses:  make(map[string]int),
		handlers:  make(map[string]ServiceFunc),
		conns:     make(map[net.Conn]struct{}),
	}
	h.wg.Add(1)
	go h.serve()
	t.Cleanup(h.Close)
	return h
}

func (h *Host) Addr() string {
	return h.ln.Addr().String()
}

// AddDevice registers serial with its features and API level.
func (h *Host) AddDevice(serial string, apiLevel int, features ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.features[serial] = strings.Join(features, ",")
	h.apiLevels[serial] = apiLevel
}

// Handle serves every device service starting with prefix.
func (h *Host) Handle(prefix string, fn ServiceFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[prefix] = fn
}

// DelayFeatures holds every feature reply for d before answering.
func (h *Host) DelayFeatures(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delay = d
}

// RecordStatus stores the exit status a tracked command wrote to path.
func (h *Host) RecordStatus(path string, code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[path] = code
}

// Requests returns every service requested so far, in order.
func (h *Host) Requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.requests))
	copy(out, h.requests)
	return out
}

// Count returns how many requested services start with prefix.
func (h *Host) Count(prefix string) int {
	n := 0
	for _, r := range h.Requests() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

// StatusPath extracts the status file path from a tracked command service.
func StatusPath(service string) string {
	m := statusPathRE.FindStringSubmatch(service)
	if m == nil {
		return ""
	}
	return m[1]
}

func (h *Host) Close() {
	_ = h.ln.Close()
	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Host) serve() {
	defer h.wg.Done()
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns[conn] = struct{}{}
		h.mu.Unlock()

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer func() {
				_ = conn.Close()
				h.mu.Lock()
				delete(h.conns, conn)
				h.mu.Unlock()
			}()
			_ = h.handleConn(conn)
		}()
	}
}

func (h *Host) handleConn(conn net.Conn) error {
	r := bufio.NewReader(conn)
	service, err := h.readRequest(r)
	if err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(service, "host-serial:") && strings.HasSuffix(service, ":features"):
		serial := strings.TrimSuffix(strings.TrimPrefix(service, "host-serial:"), ":features")
		h.mu.Lock()
		features, ok := h.features[serial]
		delay := h.delay
		h.mu.Unlock()
		time.Sleep(delay)
		if !ok {
			return session.WriteFail(conn, "device '"+serial+"' not found")
		}
		if err := session.WriteOkay(conn); err != nil {
			return err
		}
		return session.WriteLengthPrefixed(conn, features)

	case strings.HasPrefix(service, "host:transport:"):
		serial := strings.TrimPrefix(service, "host:transport:")
		h.mu.Lock()
		_, ok := h.features[serial]
		h.mu.Unlock()
		if !ok {
			return session.WriteFail(conn, "device '"+serial+"' not found")
		}
		if err := session.WriteOkay(conn); err != nil {
			return err
		}
		deviceService, err := h.readRequest(r)
		if err != nil {
			return err
		}
		return h.serveDevice(conn, r, serial, deviceService)
	}
	return session.WriteFail(conn, "unknown host service: "+service)
}

func (h *Host) serveDevice(conn net.Conn, r *bufio.Reader, serial, service string) error {
	switch {
	case service == "shell:getprop ro.build.version.sdk":
		h.mu.Lock()
		level := h.apiLevels[serial]
		h.mu.Unlock()
		if err := session.WriteOkay(conn); err != nil {
			return err
		}
		_, err := fmt.Fprintf(conn, "%d\r\n", level)
		return err

	case strings.HasPrefix(service, "shell:cat "):
		p := strings.Fields(strings.TrimPrefix(service, "shell:cat "))[0]
		p = strings.TrimSuffix(p, ";")
		h.mu.Lock()
		code, ok := h.statuses[p]
		delete(h.statuses, p)
		h.mu.Unlock()
		if err := session.WriteOkay(conn); err != nil {
			return err
		}
		if !ok {
			_, err := fmt.Fprintf(conn, "cat: %s: No such file or directory\n", p)
			return err
		}
		_, err := conn.Write([]byte(strconv.Itoa(code) + "\n"))
		return err
	}

	if fn := h.handlerFor(service); fn != nil {
		if err := session.WriteOkay(conn); err != nil {
			return err
		}
		return fn(conn, r, serial, service)
	}
	return session.WriteFail(conn, "unknown device service: "+service)
}

func (h *Host) handlerFor(service string) ServiceFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefixes := make([]string, 0, len(h.handlers))
	for p := range h.handlers {
		if strings.HasPrefix(service, p) {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return nil
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return h.handlers[prefixes[0]]
}

func (h *Host) readRequest(r *bufio.Reader) (string, error) {
	service, err := session.ReadRequest(r)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	h.requests = append(h.requests, service)
	h.mu.Unlock()
	return service, nil
}
