// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore persists bridge credentials encrypted at rest.
//
// Each bridge id owns one file, <dir>/<id>.enc, holding the credential
// encrypted with XChaCha20-Poly1305 under a key derived from the
// device master key and the bridge id. The id is baked into the key
// derivation, so a ciphertext copied onto another id's path fails
// authentication rather than dispensing the wrong secret.
//
// Every store operation appends to the audit log: registration as
// created, a successful dispense as verified, an unknown id as
// missing, and an authentication failure as tamper_detected. An
// authentication failure never returns partial plaintext.
package credstore

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/custos-security/custos/lib/audit"
	"github.com/custos-security/custos/lib/secret"
)

// KeySize is the size in bytes of every derived credential key.
const KeySize = 32

// FileVersion is the version byte prepended to every credential file.
// It is the additional authenticated data for the AEAD, so flipping it
// causes authentication failure rather than a parse of the wrong
// layout.
const FileVersion byte = 0x01

// fileOverhead is the fixed per-file overhead: 1 (version) + 24
// (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const fileOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// MaxIDLength bounds bridge ids. Ids become filenames; the bound keeps
// them well inside every filesystem's name limit.
const MaxIDLength = 64

// hkdfInfoCredential is the HKDF-SHA256 info prefix for credential key
// derivation. The bridge id is appended, giving each id its own key.
// Changing this invalidates every stored credential.
var hkdfInfoCredential = []byte("custos.credential.v1")

var (
	// ErrNotFound reports that no credential is registered under the
	// requested id.
	ErrNotFound = errors.New("credential not found")

	// ErrIntegrity reports that a stored credential failed
	// authentication: wrong key, tampered ciphertext, or a file moved
	// between ids. Nothing is dispensed.
	ErrIntegrity = errors.New("credential failed integrity check")

	// ErrInvalidID reports a bridge id outside the allowed alphabet
	// or length.
	ErrInvalidID = errors.New("invalid bridge id")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID checks a bridge id: non-empty, at most MaxIDLength
// characters, alphanumerics plus underscore and hyphen. Enforced on
// every store operation so an id can never escape the credential
// directory or smuggle path separators.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %d characters exceeds the %d maximum", ErrInvalidID, len(id), MaxIDLength)
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q contains characters outside [A-Za-z0-9_-]", ErrInvalidID, id)
	}
	return nil
}

// Store is the encrypted credential directory. Safe for concurrent
// use; operations on the same id serialize, operations on different
// ids do not.
type Store struct {
	dir      string
	key      *secret.Buffer
	auditLog *audit.Log
	logger   *slog.Logger

	mu    sync.Mutex
	perID map[string]*sync.Mutex
}

// New creates a store rooted at dir. The master key is borrowed — the
// Store never closes it. The audit log is required.
func New(dir string, masterKey *secret.Buffer, auditLog *audit.Log, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      dir,
		key:      masterKey,
		auditLog: auditLog,
		logger:   logger,
		perID:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) idLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.perID[id]
	if !ok {
		lock = &sync.Mutex{}
		s.perID[id] = lock
	}
	return lock
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".enc")
}

// Register encrypts and persists a credential under the given id,
// replacing any previous credential for that id. The credential
// buffer is borrowed and not closed. Appends a created audit entry.
func (s *Store) Register(id string, credential *secret.Buffer) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	encrypted, err := s.seal(id, credential.Bytes())
	if err != nil {
		return fmt.Errorf("encrypting credential for %s: %w", id, err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating credential directory %s: %w", s.dir, err)
	}
	if err := writeFileAtomic(s.path(id), encrypted); err != nil {
		return fmt.Errorf("writing credential for %s: %w", id, err)
	}

	s.auditLog.Append(audit.Event{
		Action:        audit.ActionCreated,
		ContentSHA256: hashHex(encrypted),
		Source:        "credential",
		Detail:        fmt.Sprintf("registered credential for bridge %s", id),
	})
	return nil
}

// Lookup decrypts and returns the credential stored under the given
// id. The returned buffer is owned by the caller, who must Close it.
//
// An unknown id returns ErrNotFound; a credential that fails
// authentication returns ErrIntegrity and dispenses nothing. Both are
// audited. A transient read failure is retried once before being
// reported as an error.
func (s *Store) Lookup(id string) (*secret.Buffer, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(id)
	encrypted, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		// One retry covers the transient cases (EINTR, a concurrent
		// rename mid-flight). A second failure is real.
		s.logger.Warn("credential read failed, retrying", "bridge_id", id, "error", err)
		encrypted, err = os.ReadFile(path)
	}
	if os.IsNotExist(err) {
		s.auditLog.Append(audit.Event{
			Action: audit.ActionMissing,
			Source: "credential",
			Detail: fmt.Sprintf("no credential for bridge %s", id),
		})
		return nil, fmt.Errorf("bridge %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential for %s: %w", id, err)
	}

	plaintext, err := s.open(id, encrypted)
	if err != nil {
		s.auditLog.Append(audit.Event{
			Action:        audit.ActionTamperDetected,
			ContentSHA256: hashHex(encrypted),
			Source:        "credential",
			Detail:        fmt.Sprintf("credential for bridge %s failed authentication", id),
		})
		return nil, fmt.Errorf("bridge %s: %w: %v", id, ErrIntegrity, err)
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		return nil, fmt.Errorf("guarding credential for %s: %w", id, err)
	}
	s.auditLog.Append(audit.Event{
		Action:        audit.ActionVerified,
		ContentSHA256: hashHex(encrypted),
		Source:        "credential",
		Detail:        fmt.Sprintf("dispensed credential for bridge %s", id),
	})
	return buffer, nil
}

// Delete removes the credential stored under the given id. Removing
// an id that has no credential is not an error.
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credential for %s: %w", id, err)
	}
	return nil
}

// List returns the registered bridge ids in sorted order. A store
// whose directory does not exist yet is empty, not an error.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential directory %s: %w", s.dir, err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".enc") {
			continue
		}
		id := strings.TrimSuffix(name, ".enc")
		if ValidateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// seal encrypts plaintext for the given id and returns the file bytes:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
func (s *Store) seal(id string, plaintext []byte) ([]byte, error) {
	key, err := s.deriveKey(id)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, len(plaintext)+fileOverhead)
	output[0] = FileVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], plaintext, []byte{FileVersion}), nil
}

// open decrypts file bytes produced by seal. Any failure path returns
// an error and no plaintext.
func (s *Store) open(id string, encrypted []byte) ([]byte, error) {
	if len(encrypted) < fileOverhead {
		return nil, fmt.Errorf("credential file is %d bytes, minimum is %d", len(encrypted), fileOverhead)
	}
	version := encrypted[0]
	if version != FileVersion {
		return nil, fmt.Errorf("credential file version %d is not supported (expected %d)", version, FileVersion)
	}

	key, err := s.deriveKey(id)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := encrypted[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := encrypted[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte{version})
	if err != nil {
		return nil, fmt.Errorf("AEAD authentication failed: %w", err)
	}
	return plaintext, nil
}

// deriveKey derives the per-id credential key from the master key via
// HKDF-SHA256 with the id appended to the domain-separation info. The
// salt is nil: the master key is already uniformly random, so the
// extract phase with a zero key is appropriate per RFC 5869.
func (s *Store) deriveKey(id string) (*secret.Buffer, error) {
	info := make([]byte, 0, len(hkdfInfoCredential)+len(id))
	info = append(info, hkdfInfoCredential...)
	info = append(info, id...)

	reader := hkdf.New(sha256.New, s.key.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// writeFileAtomic writes data to path with mode 0600 via a temp file
// in the same directory and a rename, so a reader never observes a
// partial credential.
func writeFileAtomic(path string, data []byte) error {
	directory := filepath.Dir(path)
	temporary, err := os.CreateTemp(directory, ".credential-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()

	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("restricting permissions: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("installing at %s: %w", path, err)
	}
	return nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
