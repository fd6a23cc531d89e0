// Package config loads gridview settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds all daemon and console configuration. Every field has a
// default so a bare `gridview daemon` works out of the box.
type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:7411"`
	APIAddr    string `envconfig:"API_ADDR" default:"http://127.0.0.1:7411"`
	DBPath     string `envconfig:"DB_PATH" default:""`

	// Shell session settings
	ShellCommand       string `envconfig:"SHELL_COMMAND" default:"/bin/bash"`
	ShellScrollbackKiB int    `envconfig:"SHELL_SCROLLBACK_KIB" default:"1024"`
	ShellIdleTimeout   string `envconfig:"SHELL_IDLE_TIMEOUT" default:"30m"`

	// Reconciler settings
	ReconcileInterval string `envconfig:"RECONCILE_INTERVAL" default:"2s"`
	TaskHeartbeatTTL  string `envconfig:"TASK_HEARTBEAT_TTL" default:"2m"`
}

// Load reads settings from the environment with the GRIDVIEW prefix.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("GRIDVIEW", &s); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &s, nil
}

// IdleTimeout parses ShellIdleTimeout, falling back to 30 minutes.
func (s *Settings) IdleTimeout() time.Duration {
	return parseDuration(s.ShellIdleTimeout, 30*time.Minute)
}

// ReconcileEvery parses ReconcileInterval, falling back to 2 seconds.
func (s *Settings) ReconcileEvery() time.Duration {
	return parseDuration(s.ReconcileInterval, 2*time.Second)
}

// HeartbeatTTL parses TaskHeartbeatTTL, falling back to 2 minutes.
func (s *Settings) HeartbeatTTL() time.Duration {
	return parseDuration(s.TaskHeartbeatTTL, 2*time.Minute)
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
