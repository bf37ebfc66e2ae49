// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadFromPath reads a secret from a file, or from stdin when path is
// "-". The result is stored in a protected Buffer which the caller
// must Close. Surrounding whitespace is trimmed; an empty secret is an
// error.
//
// This is the input path for `custos credential register --from-file`
// and for operator escrow keys — secret values never appear in argv.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		// Read everything: secrets may legitimately contain embedded
		// newlines (multi-line PEM keys).
		var err error
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	// NewFromBytes zeros trimmed; zero the untrimmed remainder too.
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// WriteToPath persists a secret to path with mode 0600, creating
// parent directories (0700) as needed. The write is atomic: a
// temporary file in the same directory, synced, then renamed, so no
// partially written or world-readable secret file ever exists at
// path. The buffer is borrowed and not closed.
func WriteToPath(path string, buffer *Buffer) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating directory %s: %w", directory, err)
	}

	temporary, err := os.CreateTemp(directory, ".secret-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()
	cleanup := func() {
		temporary.Close()
		os.Remove(temporaryPath)
	}

	if err := temporary.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := temporary.Write(buffer.Bytes()); err != nil {
		cleanup()
		return fmt.Errorf("writing secret: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing secret: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("installing secret at %s: %w", path, err)
	}
	return nil
}
