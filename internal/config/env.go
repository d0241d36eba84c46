package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "DEVEXEC_"

// LookupFunc resolves one environment variable.
type LookupFunc func(key string) (string, bool)

// EnvLookup resolves variables from the process environment first, then from
// the given dotenv files. Missing files are skipped.
func EnvLookup(files ...string) (LookupFunc, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat env file %s: %w", f, err)
		}
	}
	fileVars := map[string]string{}
	if len(existing) > 0 {
		vars, err := godotenv.Read(existing...)
		if err != nil {
			return nil, fmt.Errorf("read env files: %w", err)
		}
		fileVars = vars
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides cfg with DEVEXEC_* variables.
func ApplyEnv(cfg Config, lookup LookupFunc) (Config, error) {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("HOST_ADDRESS", &cfg.Host.Session.Address)
	str("STATUS_DIR", &cfg.Host.StatusDir)
	str("SERVER_ADDR", &cfg.Server.Addr)
	str("SERVER_TOKEN", &cfg.Server.Token)
	if err := dur("EXEC_TIMEOUT", &cfg.Exec.Timeout); err != nil {
		return Config{}, err
	}
	if err := dur("EXEC_IDLE_TIMEOUT", &cfg.Exec.IdleTimeout); err != nil {
		return Config{}, err
	}
	if v, ok := lookup(envPrefix + "EXEC_BUFFER_SIZE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("parse %sEXEC_BUFFER_SIZE: %w", envPrefix, err)
		}
		cfg.Exec.BufferSize = n
	}
	if v, ok := lookup(envPrefix + "EXEC_PROTOCOLS"); ok && strings.TrimSpace(v) != "" {
		perms, err := ParsePermissions(strings.Split(v, ","))
		if err != nil {
			return Config{}, err
		}
		cfg.Exec.Protocols = perms
	}
	return cfg, Validate(cfg)
}

// Load resolves the effective configuration: defaults, then path when set,
// then dotenv files and the process environment.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	lookup, err := EnvLookup(envFiles...)
	if err != nil {
		return Config{}, err
	}
	return ApplyEnv(cfg, lookup)
}
