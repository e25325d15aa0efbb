// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "CYNARA_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the daemon configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths   PathsConfig   `yaml:"paths"`
	Storage StorageConfig `yaml:"storage"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
	Plugins []Plugin      `yaml:"plugins"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the fields an environment section may replace.
type Overrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Storage *StorageConfig `yaml:"storage,omitempty"`
	Agent   *AgentConfig   `yaml:"agent,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// PathsConfig configures sockets and files.
type PathsConfig struct {
	// RunDir holds the sockets. Default: /run/cynara
	RunDir string `yaml:"run_dir"`

	// StateDir holds the database and lock file. Default: /var/lib/cynara
	StateDir string `yaml:"state_dir"`

	ClientSocket string `yaml:"client_socket"`
	AdminSocket  string `yaml:"admin_socket"`
	AgentSocket  string `yaml:"agent_socket"`

	Database string `yaml:"database"`
	LockFile string `yaml:"lock_file"`

	// SeedFile is an optional JSONC file of buckets and policies
	// loaded when the database is empty.
	SeedFile string `yaml:"seed_file"`
}

// StorageConfig selects and tunes the policy backend.
type StorageConfig struct {
	// Backend is "sqlite" or "memory". Default: sqlite
	Backend string `yaml:"backend"`

	// BusyTimeout is how long a write waits for the database lock
	// before the admin caller is told the service is busy.
	// Default: 5s
	BusyTimeout string `yaml:"busy_timeout"`
}

// AgentConfig configures the agent channel.
type AgentConfig struct {
	// Timeout bounds each agent request. Empty or "0" waits forever.
	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Plugin declares one plugin policy type.
type Plugin struct {
	Type        uint16 `yaml:"type"`
	Name        string `yaml:"name"`
	Agent       string `yaml:"agent"`
	Description string `yaml:"description"`
}

// Default returns the base that files are merged into. Its path fields
// still contain ${RUN_DIR} and ${STATE_DIR}; call ExpandVariables
// before using it directly.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			RunDir:       "/run/cynara",
			StateDir:     "/var/lib/cynara",
			ClientSocket: "${RUN_DIR}/cynara.socket",
			AdminSocket:  "${RUN_DIR}/cynara-admin.socket",
			AgentSocket:  "${RUN_DIR}/cynara-agent.socket",
			Database:     "${STATE_DIR}/policies.db",
			LockFile:     "${STATE_DIR}/cynara.lock",
		},
		Storage: StorageConfig{
			Backend:     BackendSQLite,
			BusyTimeout: "5s",
		},
		Logging: LoggingConfig{
			Level: "debug",
		},
	}
}

// Load reads the file named by CYNARA_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of cynara.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads a configuration file over [Default], applies the
// environment section, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.ExpandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Logging: &LoggingConfig{Level: "info"}}
		}
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		overrideString(&c.Paths.RunDir, paths.RunDir)
		overrideString(&c.Paths.StateDir, paths.StateDir)
		overrideString(&c.Paths.ClientSocket, paths.ClientSocket)
		overrideString(&c.Paths.AdminSocket, paths.AdminSocket)
		overrideString(&c.Paths.AgentSocket, paths.AgentSocket)
		overrideString(&c.Paths.Database, paths.Database)
		overrideString(&c.Paths.LockFile, paths.LockFile)
		overrideString(&c.Paths.SeedFile, paths.SeedFile)
	}
	if storage := overrides.Storage; storage != nil {
		overrideString(&c.Storage.Backend, storage.Backend)
		overrideString(&c.Storage.BusyTimeout, storage.BusyTimeout)
	}
	if agent := overrides.Agent; agent != nil {
		overrideString(&c.Agent.Timeout, agent.Timeout)
	}
	if logging := overrides.Logging; logging != nil {
		overrideString(&c.Logging.Level, logging.Level)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// ExpandVariables expands ${VAR} and ${VAR:-default} in path fields.
// RUN_DIR and STATE_DIR refer to the configured directories.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.RunDir = expandVars(c.Paths.RunDir, vars)
	c.Paths.StateDir = expandVars(c.Paths.StateDir, vars)
	vars["RUN_DIR"] = c.Paths.RunDir
	vars["STATE_DIR"] = c.Paths.StateDir

	for _, field := range []*string{
		&c.Paths.ClientSocket,
		&c.Paths.AdminSocket,
		&c.Paths.AgentSocket,
		&c.Paths.Database,
		&c.Paths.LockFile,
		&c.Paths.SeedFile,
	} {
		*field = expandVars(*field, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	for name, value := range map[string]string{
		"paths.client_socket": c.Paths.ClientSocket,
		"paths.admin_socket":  c.Paths.AdminSocket,
		"paths.agent_socket":  c.Paths.AgentSocket,
		"paths.lock_file":     c.Paths.LockFile,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Paths.Database == "" {
			errs = append(errs, errors.New("paths.database is required for the sqlite backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendSQLite, BackendMemory, c.Storage.Backend))
	}
	if _, err := c.BusyTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.AgentTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	types := make(map[uint16]bool)
	names := make(map[string]bool)
	for i, plugin := range c.Plugins {
		switch plugin.Type {
		case 0x0000, 0x0001, 0xFFFE, 0xFFFF:
			errs = append(errs, fmt.Errorf("plugins[%d]: type %d is reserved", i, plugin.Type))
		}
		if types[plugin.Type] {
			errs = append(errs, fmt.Errorf("plugins[%d]: duplicate type %d", i, plugin.Type))
		}
		types[plugin.Type] = true
		if plugin.Name == "" || strings.ContainsAny(plugin.Name, ";\n") {
			errs = append(errs, fmt.Errorf("plugins[%d]: invalid name %q", i, plugin.Name))
		} else if names[strings.ToLower(plugin.Name)] {
			errs = append(errs, fmt.Errorf("plugins[%d]: duplicate name %q", i, plugin.Name))
		}
		names[strings.ToLower(plugin.Name)] = true
		if plugin.Agent == "" {
			errs = append(errs, fmt.Errorf("plugins[%d]: agent is required", i))
		}
	}

	return errors.Join(errs...)
}

// BusyTimeout parses storage.busy_timeout.
func (c *Config) BusyTimeout() (time.Duration, error) {
	return parseDuration("storage.busy_timeout", c.Storage.BusyTimeout)
}

// AgentTimeout parses agent.timeout. Zero means no timeout.
func (c *Config) AgentTimeout() (time.Duration, error) {
	return parseDuration("agent.timeout", c.Agent.Timeout)
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return duration, nil
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// EnsureDirectories creates the directories holding sockets and
// database files.
func (c *Config) EnsureDirectories() error {
	paths := []string{
		filepath.Dir(c.Paths.ClientSocket),
		filepath.Dir(c.Paths.AdminSocket),
		filepath.Dir(c.Paths.AgentSocket),
		filepath.Dir(c.Paths.LockFile),
	}
	if c.Storage.Backend == BackendSQLite {
		paths = append(paths, filepath.Dir(c.Paths.Database))
	}
	for _, path := range paths {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
