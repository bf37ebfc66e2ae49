// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathguard enforces the fixed deny-list of files that no
// mutating tool may target: the policy document, its manifest, the
// identity file, the master key file, and the audit log itself. The
// set is compiled into the guard at construction and immutable at
// runtime.
//
// IsProtected is a pure membership check after normalization (tilde
// expansion, absolute resolution, symlink and ".." resolution). Write
// paths go through CheckWrite, which converts a positive match into an
// explicit ErrWriteBlocked plus a write_blocked audit entry — a
// blocked write is surfaced, never silently swallowed.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/custos-security/custos/lib/audit"
)

// ErrWriteBlocked is returned by CheckWrite for protected targets.
// Calling tools compare with errors.Is and surface the denial to the
// model or user.
var ErrWriteBlocked = errors.New("path is protected")

// Guard holds the normalized protected set.
type Guard struct {
	workspace string
	protected map[string]bool
	auditLog  *audit.Log
}

// New builds a guard for the given workspace root and protected
// paths. Relative protected paths are resolved against the workspace.
// The audit log may be nil (pure checks only, used in tests).
func New(workspace string, protectedPaths []string, auditLog *audit.Log) (*Guard, error) {
	absoluteWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	guard := &Guard{
		workspace: absoluteWorkspace,
		protected: make(map[string]bool, len(protectedPaths)),
		auditLog:  auditLog,
	}
	for _, path := range protectedPaths {
		normalized, err := guard.normalize(path)
		if err != nil {
			return nil, fmt.Errorf("normalizing protected path %q: %w", path, err)
		}
		guard.protected[normalized] = true
	}
	return guard, nil
}

// IsProtected reports whether path refers to a member of the
// protected set, under any spelling (absolute, workspace-relative,
// ~-relative, via symlinks or ".." traversal). Pure — no audit entry,
// no side effects. Unresolvable paths are treated as not protected;
// they cannot alias a protected file that exists.
func (g *Guard) IsProtected(path string) bool {
	normalized, err := g.normalize(path)
	if err != nil {
		return false
	}
	return g.protected[normalized]
}

// CheckWrite is the gate every write-capable tool calls before
// mutating a file. Returns ErrWriteBlocked (wrapped with the offending
// path) and appends a write_blocked audit entry when the target is
// protected; returns nil otherwise.
func (g *Guard) CheckWrite(path string) error {
	if !g.IsProtected(path) {
		return nil
	}
	if g.auditLog != nil {
		g.auditLog.Append(audit.Event{
			Action: audit.ActionWriteBlocked,
			Source: "pathguard",
			Detail: fmt.Sprintf("write to %s denied", path),
		})
	}
	return fmt.Errorf("%q: %w", path, ErrWriteBlocked)
}

// normalize produces the canonical absolute form of path: tilde
// expansion, workspace-relative resolution, lexical cleaning, and
// symlink resolution of the longest existing prefix (the target itself
// may not exist yet).
func (g *Guard) normalize(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding ~: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.workspace, path)
	}
	path = filepath.Clean(path)

	return resolveSymlinks(path)
}

// resolveSymlinks resolves symlinks in the longest existing ancestor
// of path, then reattaches the non-existing remainder. This catches a
// symlinked workspace directory without requiring the target file to
// exist.
func resolveSymlinks(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			// Hit the root without finding anything that exists.
			return path, nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}
