// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads daemon and CLI configuration.
//
// Configuration comes from a single YAML file named by the
// CUSTOS_CONFIG environment variable or a --config flag. There are no
// fallbacks and no automatic discovery: a missing setting means the
// documented default, never a value quietly picked up from somewhere
// else on the filesystem.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "CUSTOS_CONFIG"

// Config is the full configuration for the custody daemon and CLI.
type Config struct {
	// Workspace is the directory whose policy document this install
	// guards. Default: the current directory.
	Workspace string `yaml:"workspace"`

	// State is where the master key, audit log, and encrypted
	// credentials live. Default: ~/.custos.
	State string `yaml:"state"`

	// SocketDir is where the bridge socket is created. Default: the
	// state directory.
	SocketDir string `yaml:"socket_dir"`

	// StrictPolicy escalates policy tamper detection from a warning
	// to a session abort.
	StrictPolicy bool `yaml:"strict_policy"`

	// ProtectedPaths lists additional paths (workspace-relative or
	// absolute, ~ allowed) that agents must never write. The security
	// files themselves are always protected regardless of this list.
	ProtectedPaths []string `yaml:"protected_paths"`

	// EscrowRecipients are age public keys that credential exports
	// are encrypted to.
	EscrowRecipients []string `yaml:"escrow_recipients"`
}

// Default returns the configuration used when no file is given or a
// field is absent.
func Default() *Config {
	return &Config{
		Workspace: ".",
		State:     "~/.custos",
	}
}

// Load reads the config file named by CUSTOS_CONFIG. Fails when the
// variable is unset: commands that accept --config pass the flag value
// to LoadFile instead.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to your custos.yaml path, or use the --config flag", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads and validates one config file. Unknown fields are
// rejected so a typo cannot silently disable a protection.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like LoadFile when path is non-empty, like
// Load when CUSTOS_CONFIG is set, and returns defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv(EnvVar) != "" {
		return Load()
	}
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize expands ~ and environment variables and makes the root
// paths absolute.
func (c *Config) normalize() error {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.State == "" {
		c.State = "~/.custos"
	}

	var err error
	if c.Workspace, err = expandPath(c.Workspace); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if c.State, err = expandPath(c.State); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if c.SocketDir == "" {
		c.SocketDir = c.State
	} else if c.SocketDir, err = expandPath(c.SocketDir); err != nil {
		return fmt.Errorf("socket_dir: %w", err)
	}
	return nil
}

// Derived locations. These are functions of the two root paths, not
// separately configurable: one knob per directory tree keeps the
// protected-path set and the actual file layout from drifting apart.

// DocumentPath is the user-editable policy document.
func (c *Config) DocumentPath() string { return filepath.Join(c.Workspace, "SECURITY.md") }

// ManifestPath is the policy signing record, colocated with the
// document.
func (c *Config) ManifestPath() string { return c.DocumentPath() + ".manifest" }

// MasterKeyPath is the device master key file.
func (c *Config) MasterKeyPath() string { return filepath.Join(c.State, "master.key") }

// AuditLogPath is the hash-chained audit log.
func (c *Config) AuditLogPath() string { return filepath.Join(c.State, "audit.log") }

// CredentialDir is the encrypted credential directory.
func (c *Config) CredentialDir() string { return filepath.Join(c.State, "credentials") }

// IdentityPath is the age identity used to open escrow imports.
func (c *Config) IdentityPath() string { return filepath.Join(c.State, "identity.key") }

// AllProtectedPaths returns the built-in protected set — the security
// files themselves — followed by the configured extras. The built-ins
// cannot be configured away.
func (c *Config) AllProtectedPaths() []string {
	builtin := []string{
		c.DocumentPath(),
		c.ManifestPath(),
		c.MasterKeyPath(),
		c.AuditLogPath(),
		c.CredentialDir(),
		c.IdentityPath(),
	}
	return append(builtin, c.ProtectedPaths...)
}

// expandPath resolves ~, environment variables, and relative paths to
// an absolute path.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	path = os.ExpandEnv(path)
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return absolute, nil
}
