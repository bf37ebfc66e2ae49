// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/custos-security/custos/lib/audit"
	"github.com/custos-security/custos/lib/credstore"
	"github.com/custos-security/custos/lib/secret"
	"github.com/custos-security/custos/lib/testutil"
)

// startServer starts a bridge server over a fresh credential store
// and returns a connected client. The server shuts down with the
// test.
func startServer(t *testing.T) (*Client, *credstore.Store, *Registry, *audit.Log) {
	t.Helper()
	stateDir := t.TempDir()

	key, err := secret.NewFromBytes(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("creating master key: %v", err)
	}
	t.Cleanup(func() { key.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog := audit.Open(filepath.Join(stateDir, "audit.log"), logger, nil)
	store := credstore.New(filepath.Join(stateDir, "credentials"), key, auditLog, logger)
	registry := NewRegistry(nil, logger)

	socketPath := filepath.Join(testutil.SocketDir(t), "bridge.sock")
	server := NewServer(socketPath, store, registry, auditLog, "test", logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(ctx); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "server did not shut down")
	})

	waitForSocket(t, socketPath)
	return NewClient(socketPath), store, registry, auditLog
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func register(t *testing.T, store *credstore.Store, id, value string) {
	t.Helper()
	credential, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating credential buffer: %v", err)
	}
	defer credential.Close()
	if err := store.Register(id, credential); err != nil {
		t.Fatalf("Register(%q): %v", id, err)
	}
}

func TestVersionHandshake(t *testing.T) {
	client, _, _, _ := startServer(t)

	info, err := client.CheckVersion(context.Background())
	if err != nil {
		t.Fatalf("CheckVersion: %v", err)
	}
	if info.Protocol != ProtocolVersion {
		t.Fatalf("protocol = %q, want %q", info.Protocol, ProtocolVersion)
	}
	if info.Daemon != "test" {
		t.Fatalf("daemon version = %q", info.Daemon)
	}
}

func TestGetCredential(t *testing.T) {
	client, store, _, _ := startServer(t)
	register(t, store, "github", "ghp_live_token")

	credential, err := client.GetCredential(context.Background(), "github")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	defer credential.Close()
	if credential.String() != "ghp_live_token" {
		t.Fatalf("GetCredential = %q", credential.String())
	}
}

func TestGetCredentialUnknownID(t *testing.T) {
	client, _, _, _ := startServer(t)

	_, err := client.GetCredential(context.Background(), "nonexistent")
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("GetCredential(unknown) = %v, want *ServiceError", err)
	}
	if serviceErr.Action != ActionGetCredential {
		t.Fatalf("ServiceError.Action = %q", serviceErr.Action)
	}
}

func TestGetCredentialInvalidID(t *testing.T) {
	client, _, _, _ := startServer(t)

	if _, err := client.GetCredential(context.Background(), "../escape"); err == nil {
		t.Fatal("GetCredential with traversal id must fail")
	}
}

func TestPingUpdatesRegistry(t *testing.T) {
	client, _, registry, _ := startServer(t)

	if err := client.Ping(context.Background(), "matrix"); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got := registry.Health("matrix"); got != HealthHealthy {
		t.Fatalf("health after ping = %v", got)
	}
}

func TestStatusReportsConnections(t *testing.T) {
	client, store, _, _ := startServer(t)
	register(t, store, "github", "token")

	ctx := context.Background()
	if err := client.Ping(ctx, "matrix"); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if credential, err := client.GetCredential(ctx, "github"); err != nil {
		t.Fatalf("GetCredential: %v", err)
	} else {
		credential.Close()
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status.Connections) != 2 {
		t.Fatalf("status lists %d connections, want 2", len(status.Connections))
	}
	if status.Connections[0].BridgeID != "github" || status.Connections[1].BridgeID != "matrix" {
		t.Fatalf("status order = %+v", status.Connections)
	}
	for _, connection := range status.Connections {
		if connection.State != string(HealthHealthy) {
			t.Fatalf("connection %s state = %q", connection.BridgeID, connection.State)
		}
	}
}

func TestUnknownAction(t *testing.T) {
	client, _, _, _ := startServer(t)

	err := client.call(context.Background(), request{Action: "self-destruct"}, nil)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("unknown action = %v, want *ServiceError", err)
	}
}

func TestSocketPermissions(t *testing.T) {
	stateDir := t.TempDir()
	key, err := secret.NewFromBytes(bytes.Repeat([]byte{0x22}, 32))
	if err != nil {
		t.Fatalf("creating master key: %v", err)
	}
	t.Cleanup(func() { key.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog := audit.Open(filepath.Join(stateDir, "audit.log"), logger, nil)
	store := credstore.New(filepath.Join(stateDir, "credentials"), key, auditLog, logger)

	socketPath := filepath.Join(testutil.SocketDir(t), "perm.sock")
	server := NewServer(socketPath, store, NewRegistry(nil, logger), auditLog, "test", logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "server did not shut down")
	})
	waitForSocket(t, socketPath)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Fatalf("socket mode = %o, want 0600", got)
	}
}

func TestSocketRemovedOnShutdown(t *testing.T) {
	stateDir := t.TempDir()
	key, err := secret.NewFromBytes(bytes.Repeat([]byte{0x44}, 32))
	if err != nil {
		t.Fatalf("creating master key: %v", err)
	}
	defer key.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog := audit.Open(filepath.Join(stateDir, "audit.log"), logger, nil)
	store := credstore.New(filepath.Join(stateDir, "credentials"), key, auditLog, logger)

	socketPath := filepath.Join(testutil.SocketDir(t), "shutdown.sock")
	server := NewServer(socketPath, store, NewRegistry(nil, logger), auditLog, "test", logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	waitForSocket(t, socketPath)

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "server did not shut down")
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket file still present after shutdown: %v", err)
	}

	// A stale socket file at the same path is cleared by the next
	// server rather than failing the listen.
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatalf("planting stale socket file: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	done = make(chan struct{})
	second := NewServer(socketPath, store, NewRegistry(nil, logger), auditLog, "test", logger)
	go func() {
		defer close(done)
		second.Serve(ctx)
	}()
	waitForSocket(t, socketPath)
	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "second server did not shut down")
}

func TestGetCredentialAuditsPeerIdentity(t *testing.T) {
	client, store, _, auditLog := startServer(t)
	register(t, store, "github", "token")

	credential, err := client.GetCredential(context.Background(), "github")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	credential.Close()

	// The client is this test process, so the dispense entry must name
	// our own uid and pid.
	want := fmt.Sprintf("uid=%d pid=%d", os.Getuid(), os.Getpid())
	found := false
	for entry := range auditLog.Entries() {
		if entry.Source != "bridge" || entry.Action != audit.ActionVerified {
			continue
		}
		if !strings.Contains(entry.Detail, "github") || !strings.Contains(entry.Detail, want) {
			t.Fatalf("dispense entry %q does not name the peer (%s)", entry.Detail, want)
		}
		found = true
	}
	if !found {
		t.Fatal("no bridge-sourced dispense entry in the audit log")
	}
}

func TestGetCredentialDenialAuditsPeerIdentity(t *testing.T) {
	client, _, _, auditLog := startServer(t)

	if _, err := client.GetCredential(context.Background(), "nonexistent"); err == nil {
		t.Fatal("GetCredential(unknown) must fail")
	}

	want := fmt.Sprintf("uid=%d pid=%d", os.Getuid(), os.Getpid())
	found := false
	for entry := range auditLog.Entries() {
		if entry.Source != "bridge" || entry.Action != audit.ActionMissing {
			continue
		}
		if !strings.Contains(entry.Detail, "nonexistent") || !strings.Contains(entry.Detail, want) {
			t.Fatalf("denial entry %q does not name the peer (%s)", entry.Detail, want)
		}
		found = true
	}
	if !found {
		t.Fatal("no bridge-sourced denial entry in the audit log")
	}
}

func TestGetCredentialInvalidIDAudited(t *testing.T) {
	client, _, _, auditLog := startServer(t)

	if _, err := client.GetCredential(context.Background(), "../escape"); err == nil {
		t.Fatal("GetCredential with traversal id must fail")
	}

	found := false
	for entry := range auditLog.Entries() {
		if entry.Source == "bridge" && entry.Action == audit.ActionSuspiciousContent {
			found = true
		}
	}
	if !found {
		t.Fatal("invalid bridge id left no audit entry")
	}
}

func TestSocketPathDerivation(t *testing.T) {
	key, err := secret.NewFromBytes(bytes.Repeat([]byte{0x33}, 32))
	if err != nil {
		t.Fatalf("creating master key: %v", err)
	}
	defer key.Close()

	first := SocketPath("/run/custos", key)
	second := SocketPath("/run/custos", key)
	if first != second {
		t.Fatalf("socket path is not stable: %q vs %q", first, second)
	}
	if filepath.Dir(first) != "/run/custos" {
		t.Fatalf("socket path %q escapes the directory", first)
	}

	otherKey, err := secret.NewFromBytes(bytes.Repeat([]byte{0x34}, 32))
	if err != nil {
		t.Fatalf("creating second key: %v", err)
	}
	defer otherKey.Close()
	if SocketPath("/run/custos", otherKey) == first {
		t.Fatal("different keys derived the same socket path")
	}
}
