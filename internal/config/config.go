// Package config loads service definitions for the supervisor from
// svcrun.json, with a .env overlay for environment-driven settings such
// as ports.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"

	"github.com/qiushuiai/svcrun/internal/paths"
)

// Service describes one supervised long-running process.
type Service struct {
	// Command is the launch invocation: executable plus arguments.
	Command []string `json:"command"`

	// Dir is the working directory, relative to the project root unless
	// absolute.
	Dir string `json:"dir,omitempty"`

	// Env holds extra environment entries for the child.
	Env map[string]string `json:"env,omitempty"`

	// Port, when non-zero, is exported to the child as PORT.
	Port int `json:"port,omitempty"`

	// Prelaunch is an optional best-effort command run before launch
	// (typically a database migration).
	Prelaunch []string `json:"prelaunch,omitempty"`

	// Fingerprint is a command-line substring for fallback process
	// discovery. Defaults to the last element of Command.
	Fingerprint string `json:"fingerprint,omitempty"`

	GraceAttempts   int `json:"grace_attempts,omitempty"`
	GraceIntervalMS int `json:"grace_interval_ms,omitempty"`
	SettleDelayMS   int `json:"settle_delay_ms,omitempty"`
}

// GraceInterval returns the configured poll interval, or zero when unset.
func (s Service) GraceInterval() time.Duration {
	return time.Duration(s.GraceIntervalMS) * time.Millisecond
}

// SettleDelay returns the configured restart settle delay, or zero when unset.
func (s Service) SettleDelay() time.Duration {
	return time.Duration(s.SettleDelayMS) * time.Millisecond
}

// Config is the top-level svcrun.json document.
type Config struct {
	Services map[string]Service `json:"services"`
}

// Defaults returns the built-in service set for the platform: the API
// backend and the agents server, matching the deployment this tool
// supervises.
func Defaults() *Config {
	return &Config{
		Services: map[string]Service{
			"backend": {
				Command:     []string{"uvicorn", "qiushuiai.main:app", "--host", "0.0.0.0"},
				Dir:         "backend/app",
				Port:        8000,
				Prelaunch:   []string{"alembic", "upgrade", "head"},
				Fingerprint: "qiushuiai.main:app",
			},
			"agents": {
				Command:     []string{"python", "run_server.py"},
				Dir:         "agents/app",
				Port:        8001,
				Fingerprint: "run_server.py",
			},
		},
	}
}

// Load reads the project configuration for root. A missing svcrun.json
// yields the built-in defaults; a present one replaces them entirely.
// A .env file at the root is loaded into the process environment first
// (without overriding variables that are already set), matching how the
// platform's own services read their settings.
func Load(root string) (*Config, error) {
	// Best effort: a missing .env is normal
	_ = gotenv.Load(paths.EnvFile(root))

	data, err := os.ReadFile(paths.ConfigFile(root)) //nolint:gosec // G304 - path derived from project root
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("read %s: %w", paths.ConfigFileName, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", paths.ConfigFileName, err)
	}
	if len(cfg.Services) == 0 {
		return Defaults(), nil
	}

	return &cfg, nil
}

// Names returns the configured service names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the service definition for name with environment
// overrides applied. Unknown names report the available set.
func (c *Config) Lookup(name string) (Service, error) {
	svc, ok := c.Services[name]
	if !ok {
		return Service{}, fmt.Errorf("unknown service %q (available: %s)",
			name, strings.Join(c.Names(), ", "))
	}

	// SVCRUN_<SERVICE>_PORT beats the file; matches the deploy scripts'
	// implicit env-var port configuration
	envKey := "SVCRUN_" + strings.ToUpper(name) + "_PORT"
	if v := os.Getenv(envKey); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return Service{}, fmt.Errorf("invalid %s: %s", envKey, v)
		}
		svc.Port = port
	}

	return svc, nil
}

// ChildEnv flattens the service's environment entries, PORT included,
// into KEY=VALUE form for process spawning.
func (s Service) ChildEnv() []string {
	env := make([]string, 0, len(s.Env)+1)
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	if s.Port > 0 {
		env = append(env, fmt.Sprintf("PORT=%d", s.Port))
	}
	return env
}
