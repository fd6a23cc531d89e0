package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.ListenAddr != "127.0.0.1:7411" {
		t.Errorf("Expected default listen addr, got %q", s.ListenAddr)
	}
	if s.ShellCommand != "/bin/bash" {
		t.Errorf("Expected default shell command, got %q", s.ShellCommand)
	}
	if s.IdleTimeout() != 30*time.Minute {
		t.Errorf("Expected 30m idle timeout, got %v", s.IdleTimeout())
	}
	if s.ReconcileEvery() != 2*time.Second {
		t.Errorf("Expected 2s reconcile interval, got %v", s.ReconcileEvery())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GRIDVIEW_LISTEN_ADDR", "0.0.0.0:9000")
	t.Setenv("GRIDVIEW_SHELL_IDLE_TIMEOUT", "5m")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("Expected overridden listen addr, got %q", s.ListenAddr)
	}
	if s.IdleTimeout() != 5*time.Minute {
		t.Errorf("Expected 5m idle timeout, got %v", s.IdleTimeout())
	}
}

func TestHeartbeatTTL_Invalid(t *testing.T) {
	s := &Settings{TaskHeartbeatTTL: "not-a-duration"}
	if s.HeartbeatTTL() != 2*time.Minute {
		t.Errorf("Expected fallback TTL, got %v", s.HeartbeatTTL())
	}
}
