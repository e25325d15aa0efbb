// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cynara.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultExpands(t *testing.T) {
	cfg := Default()
	cfg.ExpandVariables()

	if cfg.Paths.ClientSocket != "/run/cynara/cynara.socket" {
		t.Errorf("client socket = %q, want /run/cynara/cynara.socket", cfg.Paths.ClientSocket)
	}
	if cfg.Paths.Database != "/var/lib/cynara/policies.db" {
		t.Errorf("database = %q, want /var/lib/cynara/policies.db", cfg.Paths.Database)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when CYNARA_CONFIG is not set")
	}
	if !strings.HasPrefix(err.Error(), "CYNARA_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFileDerivesPathsFromDirectories(t *testing.T) {
	path := writeConfig(t, `
paths:
  run_dir: /tmp/cynara-run
  state_dir: /tmp/cynara-state
agent:
  timeout: 30s
plugins:
  - type: 0x10
    name: ask-user
    agent: prompt
    description: Ask the user interactively
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.AdminSocket != "/tmp/cynara-run/cynara-admin.socket" {
		t.Errorf("admin socket = %q", cfg.Paths.AdminSocket)
	}
	if cfg.Paths.LockFile != "/tmp/cynara-state/cynara.lock" {
		t.Errorf("lock file = %q", cfg.Paths.LockFile)
	}
	timeout, err := cfg.AgentTimeout()
	if err != nil || timeout != 30*time.Second {
		t.Errorf("AgentTimeout() = %v, %v; want 30s", timeout, err)
	}
	if len(cfg.Plugins) != 1 || cfg.Plugins[0].Type != 16 || cfg.Plugins[0].Agent != "prompt" {
		t.Errorf("plugins = %+v", cfg.Plugins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
storage:
  backend: memory
production:
  agent:
    timeout: 1m
  paths:
    seed_file: ${STATE_DIR}/seed.jsonc
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Agent.Timeout != "1m" {
		t.Errorf("agent timeout = %q, want 1m", cfg.Agent.Timeout)
	}
	if cfg.Paths.SeedFile != "/var/lib/cynara/seed.jsonc" {
		t.Errorf("seed file = %q", cfg.Paths.SeedFile)
	}
	// An explicit production section replaces the implicit one, so the
	// log level stays at the base value.
	level, err := cfg.LogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, %v; want debug", level, err)
	}
}

func TestProductionDefaultsToInfo(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "environment: production\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	level, err := cfg.LogLevel()
	if err != nil || level != slog.LevelInfo {
		t.Errorf("LogLevel() = %v, %v; want info", level, err)
	}
}

func TestExpandVarsDefault(t *testing.T) {
	t.Setenv("CYNARA_TEST_UNSET", "")
	got := expandVars("${CYNARA_TEST_UNSET:-/fallback}/x", nil)
	if got != "/fallback/x" {
		t.Errorf("expandVars = %q, want /fallback/x", got)
	}
	t.Setenv("CYNARA_TEST_SET", "/set")
	got = expandVars("${CYNARA_TEST_SET:-/fallback}/x", nil)
	if got != "/set/x" {
		t.Errorf("expandVars = %q, want /set/x", got)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.ExpandVariables()
	cfg.Environment = "staging"
	cfg.Storage.Backend = "postgres"
	cfg.Agent.Timeout = "soon"
	cfg.Logging.Level = "loud"
	cfg.Plugins = []Plugin{
		{Type: 0xFFFF, Name: "allow-again", Agent: "x"},
		{Type: 16, Name: "a", Agent: "x"},
		{Type: 16, Name: "A", Agent: ""},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{
		"invalid environment",
		"storage.backend",
		"agent.timeout",
		"logging.level",
		"reserved",
		"duplicate type 16",
		`duplicate name "A"`,
		"agent is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
