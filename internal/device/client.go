package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/devexec/internal/protocol/session"
	"github.com/danmuck/devexec/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultStatusDir = "/data/local/tmp"

	apiLevelService = "shell:getprop ro.build.version.sdk"
	maxTextReply    = 64 * 1024
)

var (
	ErrSerialRequired    = errors.New("device: serial required")
	ErrInvalidToken      = errors.New("device: invalid exit status token")
	ErrInvalidExitStatus = errors.New("device: invalid exit status reply")
	ErrInvalidAPILevel   = errors.New("device: invalid api level reply")
	ErrTextReplyTooLarge = errors.New("device: text reply too large")
)

type ClientConfig struct {
	Session session.Config
	// StatusDir is where tracked commands record their exit status.
	StatusDir string
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Session:   session.DefaultConfig(),
		StatusDir: DefaultStatusDir,
	}
}

// Client talks to the host daemon on behalf of one or more devices.
// Feature lists are cached per serial; concurrent lookups share one query.
type Client struct {
	cfg ClientConfig

	group    singleflight.Group
	mu       sync.RWMutex
	features map[string]FeatureSet
}

func NewClient(cfg ClientConfig) *Client {
	cfg.Session = cfg.Session.WithDefaults()
	if strings.TrimSpace(cfg.StatusDir) == "" {
		cfg.StatusDir = DefaultStatusDir
	}
	return &Client{
		cfg:      cfg,
		features: make(map[string]FeatureSet),
	}
}

func (c *Client) Config() ClientConfig {
	return c.cfg
}

// Open connects to the host, binds the connection to serial and starts
// service. The caller owns the returned channel.
func (c *Client) Open(ctx context.Context, serial, service string) (*transport.Channel, error) {
	if strings.TrimSpace(serial) == "" {
		return nil, ErrSerialRequired
	}
	ch, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.request(ctx, ch, "host:transport:"+serial); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := c.request(ctx, ch, service); err != nil {
		_ = ch.Close()
		return nil, err
	}
	log.Debug().Str("serial", serial).Str("service", service).Msg("device.Client.Open")
	return ch, nil
}

// Features returns the device's advertised features.
func (c *Client) Features(ctx context.Context, serial string) (FeatureSet, error) {
	if strings.TrimSpace(serial) == "" {
		return nil, ErrSerialRequired
	}
	c.mu.RLock()
	cached, ok := c.features[serial]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	// The shared query outlives any one caller; the session timeouts bound it.
	query := context.WithoutCancel(ctx)
	flight := c.group.DoChan(serial, func() (any, error) {
		features, err := c.queryFeatures(query, serial)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.features[serial] = features
		c.mu.Unlock()
		return features, nil
	})
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		features := res.Val.(FeatureSet)
		log.Debug().Str("serial", serial).Bool("shared", res.Shared).Str("features", features.String()).Msg("device.Client.Features")
		return features, nil
	}
}

// ForgetDevice drops cached facts for serial.
func (c *Client) ForgetDevice(serial string) {
	c.mu.Lock()
	delete(c.features, serial)
	c.mu.Unlock()
	c.group.Forget(serial)
}

// APILevel reads the device SDK level.
func (c *Client) APILevel(ctx context.Context, serial string) (int, error) {
	out, err := c.runText(ctx, serial, apiLevelService)
	if err != nil {
		return 0, err
	}
	level, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAPILevel, strings.TrimSpace(out))
	}
	return level, nil
}

// TrackExitStatus rewrites command so that its exit status is recorded under token.
func (c *Client) TrackExitStatus(command, token string) string {
	return fmt.Sprintf("(%s); echo $? > %s", command, c.statusPath(token))
}

// ExitStatus fetches and removes the exit status recorded under token.
func (c *Client) ExitStatus(ctx context.Context, serial, token string) (int, error) {
	if _, err := uuid.Parse(token); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	p := c.statusPath(token)
	out, err := c.runText(ctx, serial, fmt.Sprintf("shell:cat %s; rm -f %s", p, p))
	if err != nil {
		return 0, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidExitStatus, strings.TrimSpace(out))
	}
	return code, nil
}

func (c *Client) statusPath(token string) string {
	return path.Join(c.cfg.StatusDir, ".devexec-status-"+token)
}

func (c *Client) queryFeatures(ctx context.Context, serial string) (FeatureSet, error) {
	ch, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	service := fmt.Sprintf("host-serial:%s:features", serial)
	if err := c.request(ctx, ch, service); err != nil {
		return nil, err
	}
	raw, err := session.ReadLengthPrefixed(ch.Bind(ctx, c.cfg.Session.ReadTimeout))
	if err != nil {
		return nil, fmt.Errorf("device: read features for %q: %w", serial, err)
	}
	return ParseFeatures(raw), nil
}

// runText runs a short service and returns everything it prints.
func (c *Client) runText(ctx context.Context, serial, service string) (string, error) {
	ch, err := c.Open(ctx, serial, service)
	if err != nil {
		return "", err
	}
	defer ch.Close()

	data, err := io.ReadAll(io.LimitReader(ch.Bind(ctx, c.cfg.Session.ReadTimeout), maxTextReply+1))
	if err != nil {
		return "", fmt.Errorf("device: %s: %w", service, err)
	}
	if len(data) > maxTextReply {
		return "", ErrTextReplyTooLarge
	}
	return string(data), nil
}

func (c *Client) dial(ctx context.Context) (*transport.Channel, error) {
	ch, err := transport.Dial(ctx, c.cfg.Session.Address, c.cfg.Session.ConnectTimeout)
	if err != nil {
		log.Warn().Str("addr", c.cfg.Session.Address).Err(err).Msg("device.Client dial failed")
		return nil, err
	}
	return ch, nil
}

func (c *Client) request(ctx context.Context, ch *transport.Channel, service string) error {
	rw := ch.Bind(ctx, c.cfg.Session.HandshakeTimeout)
	if err := session.WriteRequest(rw, service); err != nil {
		return err
	}
	return session.ReadStatus(rw, service)
}
