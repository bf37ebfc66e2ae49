// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Custos-daemon is the long-running custody process. On startup it
// loads (or mints) the device master key, verifies the workspace
// security policy, and serves the bridge protocol on an
// authenticated Unix socket: version, ping, get-credential, and
// status. Every security-relevant event lands in the hash-chained
// audit log.
//
// The daemon holds the only loaded copy of the master key. Bridges
// never see the key, only the individual credentials dispensed to
// them after the kernel vouches for their UID.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/custos-security/custos/lib/audit"
	"github.com/custos-security/custos/lib/bridge"
	"github.com/custos-security/custos/lib/config"
	"github.com/custos-security/custos/lib/credstore"
	"github.com/custos-security/custos/lib/masterkey"
	"github.com/custos-security/custos/lib/policy"
	"github.com/custos-security/custos/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "config file path (default: $CUSTOS_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("custos-daemon %s\n", version.Full())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	masterKey, err := masterkey.LoadOrCreate(cfg.MasterKeyPath())
	if err != nil {
		return err
	}
	defer masterKey.Close()

	auditLog := audit.Open(cfg.AuditLogPath(), logger, nil)

	// Verify the policy once at startup so tampering is surfaced (and
	// audited) before any bridge asks for anything. Under strict
	// policy a tampered document stops the daemon.
	manager := &policy.Manager{
		DocumentPath: cfg.DocumentPath(),
		ManifestPath: cfg.ManifestPath(),
		Key:          masterKey,
		AuditLog:     auditLog,
		StrictPolicy: cfg.StrictPolicy,
		Logger:       logger,
	}
	if _, err := manager.InjectableText(); err != nil {
		return err
	}

	store := credstore.New(cfg.CredentialDir(), masterKey, auditLog, logger)

	registry := bridge.NewRegistry(nil, logger)
	go registry.Run(ctx)

	if err := os.MkdirAll(cfg.SocketDir, 0o700); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", cfg.SocketDir, err)
	}
	socketPath := bridge.SocketPath(cfg.SocketDir, masterKey)

	logger.Info("custos-daemon starting",
		"version", version.Info(),
		"workspace", cfg.Workspace,
		"state", cfg.State,
		"strict_policy", cfg.StrictPolicy,
	)

	server := bridge.NewServer(socketPath, store, registry, auditLog, version.Short(), logger)
	if err := server.Serve(ctx); err != nil {
		return err
	}

	logger.Info("custos-daemon stopped")
	return nil
}
