// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFromPathTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	buffer, err := ReadFromPath(path)
	if err != nil {
		t.Fatalf("ReadFromPath: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != "hunter2" {
		t.Errorf("read %q, want %q", got, "hunter2")
	}
}

func TestReadFromPathRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  \n\t"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadFromPath(path); err == nil {
		t.Fatal("ReadFromPath succeeded on whitespace-only file")
	}
}

func TestReadFromPathMissingFile(t *testing.T) {
	if _, err := ReadFromPath(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("ReadFromPath succeeded on missing file")
	}
}

func TestReadFromPathStdinKeepsEmbeddedNewlines(t *testing.T) {
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	original := os.Stdin
	os.Stdin = reader
	t.Cleanup(func() {
		os.Stdin = original
		reader.Close()
	})

	pem := "-----BEGIN KEY-----\nabc\ndef\n-----END KEY-----"
	go func() {
		writer.Write([]byte(pem + "\n"))
		writer.Close()
	}()

	buffer, err := ReadFromPath("-")
	if err != nil {
		t.Fatalf("ReadFromPath(-): %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != pem {
		t.Errorf("stdin secret = %q, want %q", got, pem)
	}
}

func TestWriteToPathRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.key")

	original, err := NewFromBytes([]byte("AGE-SECRET-KEY-TEST"))
	if err != nil {
		t.Fatal(err)
	}
	defer original.Close()

	if err := WriteToPath(path, original); err != nil {
		t.Fatalf("WriteToPath: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("file mode = %o, want 0600", mode)
	}

	loaded, err := ReadFromPath(path)
	if err != nil {
		t.Fatalf("ReadFromPath: %v", err)
	}
	defer loaded.Close()
	if loaded.String() != "AGE-SECRET-KEY-TEST" {
		t.Errorf("roundtrip mismatch: %q", loaded.String())
	}
}

func TestWriteToPathLeavesNoTemporaryFiles(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "identity.key")

	buffer, err := NewFromBytes([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	defer buffer.Close()

	if err := WriteToPath(path, buffer); err != nil {
		t.Fatalf("WriteToPath: %v", err)
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".secret-") {
			t.Errorf("temporary file left behind: %s", entry.Name())
		}
	}
}
