package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/devexec/internal/device"
	"github.com/danmuck/devexec/internal/shell"
)

const DefaultServerAddr = "127.0.0.1:8090"

// Config is the resolved devexec configuration.
type Config struct {
	Host   device.ClientConfig
	Exec   ExecConfig
	Server ServerConfig
}

// ExecConfig holds per-execution defaults applied to every command.
type ExecConfig struct {
	Timeout        time.Duration
	IdleTimeout    time.Duration
	BufferSize     int
	Protocols      shell.Permissions
	StripCRLF      bool
	ShutdownOutput bool
}

type ServerConfig struct {
	Addr        string
	Token       string
	CorsOrigins []string
}

func Default() Config {
	return Config{
		Host: device.DefaultClientConfig(),
		Exec: ExecConfig{
			BufferSize:     shell.DefaultBufferSize,
			Protocols:      shell.AllProtocols(),
			StripCRLF:      true,
			ShutdownOutput: true,
		},
		Server: ServerConfig{Addr: DefaultServerAddr},
	}
}

// Command returns the execution config for command with these defaults.
func (e ExecConfig) Command(command string) shell.Config {
	return shell.NewConfig(command).
		WithTimeout(e.Timeout).
		WithIdleTimeout(e.IdleTimeout).
		WithBufferSize(e.BufferSize).
		WithProtocols(e.Protocols).
		WithStripCRLF(e.StripCRLF).
		WithShutdownOutput(e.ShutdownOutput)
}

type fileConfig struct {
	Host   hostSection   `toml:"host"`
	Exec   execSection   `toml:"exec"`
	Server serverSection `toml:"server"`
}

type hostSection struct {
	Address          string `toml:"address"`
	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	ReadTimeout      string `toml:"read_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
	StatusDir        string `toml:"status_dir"`
}

type execSection struct {
	Timeout        string   `toml:"timeout"`
	IdleTimeout    string   `toml:"idle_timeout"`
	BufferSize     int      `toml:"buffer_size"`
	Protocols      []string `toml:"protocols"`
	StripCRLF      bool     `toml:"strip_crlf"`
	ShutdownOutput bool     `toml:"shutdown_output"`
}

type serverSection struct {
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CorsOrigins []string `toml:"cors_origins"`
}

// LoadFile reads path on top of Default. Keys absent from the file keep
// their defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := apply(&cfg, raw, meta); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func apply(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("host", "address") {
		cfg.Host.Session.Address = strings.TrimSpace(raw.Host.Address)
	}
	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"host", "connect_timeout"}, raw.Host.ConnectTimeout, &cfg.Host.Session.ConnectTimeout},
		{[]string{"host", "handshake_timeout"}, raw.Host.HandshakeTimeout, &cfg.Host.Session.HandshakeTimeout},
		{[]string{"host", "read_timeout"}, raw.Host.ReadTimeout, &cfg.Host.Session.ReadTimeout},
		{[]string{"host", "write_timeout"}, raw.Host.WriteTimeout, &cfg.Host.Session.WriteTimeout},
		{[]string{"exec", "timeout"}, raw.Exec.Timeout, &cfg.Exec.Timeout},
		{[]string{"exec", "idle_timeout"}, raw.Exec.IdleTimeout, &cfg.Exec.IdleTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}
	if meta.IsDefined("host", "status_dir") {
		cfg.Host.StatusDir = strings.TrimSpace(raw.Host.StatusDir)
	}

	if meta.IsDefined("exec", "buffer_size") {
		cfg.Exec.BufferSize = raw.Exec.BufferSize
	}
	if meta.IsDefined("exec", "protocols") {
		perms, err := ParsePermissions(raw.Exec.Protocols)
		if err != nil {
			return err
		}
		cfg.Exec.Protocols = perms
	}
	if meta.IsDefined("exec", "strip_crlf") {
		cfg.Exec.StripCRLF = raw.Exec.StripCRLF
	}
	if meta.IsDefined("exec", "shutdown_output") {
		cfg.Exec.ShutdownOutput = raw.Exec.ShutdownOutput
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Server.Addr)
	}
	if meta.IsDefined("server", "token") {
		cfg.Server.Token = strings.TrimSpace(raw.Server.Token)
	}
	if meta.IsDefined("server", "cors_origins") {
		cfg.Server.CorsOrigins = normalizeList(raw.Server.CorsOrigins)
	}
	return nil
}

// ParsePermissions turns protocol names into permission flags.
func ParsePermissions(names []string) (shell.Permissions, error) {
	var perms shell.Permissions
	for _, name := range normalizeList(names) {
		p, err := shell.ParseProtocol(name)
		if err != nil {
			return shell.Permissions{}, err
		}
		switch p {
		case shell.Multiplexed:
			perms.Multiplexed = true
		case shell.RawWithExit:
			perms.RawWithExit = true
		case shell.RawMerged:
			perms.RawMerged = true
		}
	}
	return perms, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Host.Session.Address) == "" {
		return fmt.Errorf("host.address is required")
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if err := cfg.Exec.Command("true").Validate(); err != nil {
		return err
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
