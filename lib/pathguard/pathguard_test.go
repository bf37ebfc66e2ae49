// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package pathguard

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/custos-security/custos/lib/audit"
	"github.com/custos-security/custos/lib/clock"
)

func testGuard(t *testing.T, workspace string, protected []string) *Guard {
	t.Helper()
	guard, err := New(workspace, protected, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return guard
}

func TestProtectedSpellings(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	workspace := filepath.Join(home, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	policyPath := filepath.Join(workspace, "SECURITY.md")
	if err := os.WriteFile(policyPath, []byte("# rules\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	guard := testGuard(t, workspace, []string{"SECURITY.md", "SECURITY.md.manifest"})

	spellings := []string{
		policyPath,                            // absolute
		"~/workspace/SECURITY.md",             // tilde-relative
		"SECURITY.md",                         // workspace-relative
		filepath.Join(workspace, "sub", "..", "SECURITY.md"), // dot-dot traversal
	}
	for _, spelling := range spellings {
		if !guard.IsProtected(spelling) {
			t.Errorf("IsProtected(%q) = false, want true", spelling)
		}
	}

	// The manifest is protected even though the file does not exist yet.
	if !guard.IsProtected(filepath.Join(workspace, "SECURITY.md.manifest")) {
		t.Error("manifest path not protected")
	}
}

func TestUnprotectedPaths(t *testing.T) {
	workspace := t.TempDir()
	guard := testGuard(t, workspace, []string{"SECURITY.md"})

	for _, path := range []string{
		filepath.Join(workspace, "notes.md"),
		filepath.Join(workspace, "SECURITY.md.backup"),
		"/etc/hostname",
	} {
		if guard.IsProtected(path) {
			t.Errorf("IsProtected(%q) = true, want false", path)
		}
	}
}

func TestSymlinkedSpellings(t *testing.T) {
	base := t.TempDir()
	real := filepath.Join(base, "real-workspace")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(real, "SECURITY.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "link-workspace")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}

	guard := testGuard(t, real, []string{"SECURITY.md"})

	if !guard.IsProtected(filepath.Join(link, "SECURITY.md")) {
		t.Error("symlinked spelling of protected path not detected")
	}
}

func TestCheckWriteBlocksAndAudits(t *testing.T) {
	workspace := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	auditLog := audit.Open(filepath.Join(workspace, "audit.log"), logger, clock.Real())

	guard, err := New(workspace, []string{"SECURITY.md", "audit.log"}, auditLog)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	err = guard.CheckWrite(filepath.Join(workspace, "SECURITY.md"))
	if !errors.Is(err, ErrWriteBlocked) {
		t.Fatalf("CheckWrite() = %v, want ErrWriteBlocked", err)
	}

	var blocked []audit.ParsedEntry
	for entry := range auditLog.Entries() {
		if entry.Action == audit.ActionWriteBlocked {
			blocked = append(blocked, entry)
		}
	}
	if len(blocked) != 1 {
		t.Fatalf("got %d write_blocked entries, want 1", len(blocked))
	}
	if blocked[0].Source != "pathguard" {
		t.Errorf("source = %q, want pathguard", blocked[0].Source)
	}
}

func TestCheckWriteAllowsOrdinaryPaths(t *testing.T) {
	workspace := t.TempDir()
	guard := testGuard(t, workspace, []string{"SECURITY.md"})

	if err := guard.CheckWrite(filepath.Join(workspace, "README.md")); err != nil {
		t.Errorf("CheckWrite() on ordinary path = %v, want nil", err)
	}
}

func TestAuditLogItselfIsProtected(t *testing.T) {
	workspace := t.TempDir()
	state := t.TempDir()
	auditPath := filepath.Join(state, "audit.log")

	guard := testGuard(t, workspace, []string{auditPath})

	if !guard.IsProtected(auditPath) {
		t.Error("audit log path not protected")
	}
}
