// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"

	"github.com/custos-security/custos/lib/audit"
	"github.com/custos-security/custos/lib/bridge"
	"github.com/custos-security/custos/lib/config"
	"github.com/custos-security/custos/lib/credstore"
	"github.com/custos-security/custos/lib/masterkey"
	"github.com/custos-security/custos/lib/pathguard"
	"github.com/custos-security/custos/lib/policy"
	"github.com/custos-security/custos/lib/secret"
)

// State bundles the pieces nearly every subcommand needs: the loaded
// configuration, the device master key, and the audit log. Commands
// construct it once from the --config flag value and Close it on the
// way out.
type State struct {
	Config    *config.Config
	MasterKey *secret.Buffer
	AuditLog  *audit.Log
	Logger    *slog.Logger
}

// LoadState loads configuration from configPath (or CUSTOS_CONFIG, or
// defaults), opens or creates the master key, and opens the audit
// log.
func LoadState(configPath string) (*State, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	logger := NewCommandLogger()

	key, err := masterkey.LoadOrCreate(cfg.MasterKeyPath())
	if err != nil {
		return nil, fmt.Errorf("loading master key: %w", err)
	}
	return &State{
		Config:    cfg,
		MasterKey: key,
		AuditLog:  audit.Open(cfg.AuditLogPath(), logger, nil),
		Logger:    logger,
	}, nil
}

// Close zeroes and releases the master key.
func (s *State) Close() error {
	return s.MasterKey.Close()
}

// PolicyManager builds the policy manager over this state.
func (s *State) PolicyManager() *policy.Manager {
	return &policy.Manager{
		DocumentPath: s.Config.DocumentPath(),
		ManifestPath: s.Config.ManifestPath(),
		Key:          s.MasterKey,
		AuditLog:     s.AuditLog,
		StrictPolicy: s.Config.StrictPolicy,
		Logger:       s.Logger,
	}
}

// CredentialStore builds the credential store over this state.
func (s *State) CredentialStore() *credstore.Store {
	return credstore.New(s.Config.CredentialDir(), s.MasterKey, s.AuditLog, s.Logger)
}

// PathGuard builds the protected-path guard for the configured
// workspace.
func (s *State) PathGuard() (*pathguard.Guard, error) {
	return pathguard.New(s.Config.Workspace, s.Config.AllProtectedPaths(), s.AuditLog)
}

// SocketPath derives the bridge socket path for this install.
func (s *State) SocketPath() string {
	return bridge.SocketPath(s.Config.SocketDir, s.MasterKey)
}
