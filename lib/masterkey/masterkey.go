// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package masterkey owns the per-device master secret: a single
// 32-byte symmetric key created lazily on first use and loaded
// read-only thereafter. The key signs policy manifests (HMAC) and
// derives per-bridge credential encryption keys. It lives outside any
// user-writable workspace with owner-only permissions and is never
// exposed to tool-execution contexts.
//
// There is no rotation and no versioning. Replacing the key file
// invalidates every existing policy manifest and stored credential;
// that is an accepted operational cost, not a supported flow.
package masterkey

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custos-security/custos/lib/secret"
)

// KeySize is the size in bytes of the device master key.
const KeySize = 32

// LoadOrCreate returns the device master key stored at path, creating
// it with fresh random bytes if the file does not exist. The returned
// buffer is mmap-backed (locked against swap, excluded from core
// dumps) and must be closed by the caller.
//
// Creation is atomic: the key is written to a temporary file in the
// same directory with mode 0600, synced, and renamed into place. There
// is no window where a partially written or world-readable key file
// exists at path. Idempotent — a second call on an existing
// installation returns the same bytes.
func LoadOrCreate(path string) (*secret.Buffer, error) {
	keyBytes, err := os.ReadFile(path)
	if err == nil {
		if len(keyBytes) != KeySize {
			secret.Zero(keyBytes)
			return nil, fmt.Errorf("master key file %s has %d bytes, want %d", path, len(keyBytes), KeySize)
		}
		return secret.NewFromBytes(keyBytes)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading master key %s: %w", path, err)
	}

	return create(path)
}

// Load returns the existing master key at path, failing if it is
// absent. Used by read-only tooling that must never mint a key as a
// side effect (for example `custos policy verify` run against a
// not-yet-initialized installation).
func Load(path string) (*secret.Buffer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading master key %s: %w", path, err)
	}
	if len(keyBytes) != KeySize {
		secret.Zero(keyBytes)
		return nil, fmt.Errorf("master key file %s has %d bytes, want %d", path, len(keyBytes), KeySize)
	}
	return secret.NewFromBytes(keyBytes)
}

func create(path string) (*secret.Buffer, error) {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating master key directory %s: %w", directory, err)
	}

	keyBytes := make([]byte, KeySize)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}

	// Write to a temporary file in the same directory so the rename is
	// atomic on the same filesystem. The file is created 0600 before
	// any key bytes are written.
	temporary, err := os.CreateTemp(directory, ".masterkey-*")
	if err != nil {
		secret.Zero(keyBytes)
		return nil, fmt.Errorf("creating temporary key file: %w", err)
	}
	temporaryPath := temporary.Name()

	cleanup := func() {
		temporary.Close()
		os.Remove(temporaryPath)
		secret.Zero(keyBytes)
	}

	if err := temporary.Chmod(0o600); err != nil {
		cleanup()
		return nil, fmt.Errorf("setting key file permissions: %w", err)
	}
	if _, err := temporary.Write(keyBytes); err != nil {
		cleanup()
		return nil, fmt.Errorf("writing master key: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("syncing master key: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		secret.Zero(keyBytes)
		return nil, fmt.Errorf("closing temporary key file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		secret.Zero(keyBytes)
		return nil, fmt.Errorf("installing master key at %s: %w", path, err)
	}

	// NewFromBytes zeros keyBytes.
	return secret.NewFromBytes(keyBytes)
}
