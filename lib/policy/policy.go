// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy signs, verifies, sanitizes, and injects the
// user-editable security policy document.
//
// The document is free text living in the user's workspace; the
// subsystem treats it as opaque bytes for hashing. A manifest colocated
// with the document records the content SHA-256 and an HMAC-SHA256
// keyed by the device master key, proving the document was signed by
// the key holder. Verification recomputes both and classifies the
// result into an explicit outcome sum type — there is no variant that
// silently means "trust the content".
//
// The cardinal rule is never fail open: every non-valid branch of
// resolution degrades to the compiled-in hardcoded suffix alone, never
// to no security text at all. Only an operator-set strict flag turns
// tamper detection into a session-aborting error.
package policy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/custos-security/custos/lib/audit"
	"github.com/custos-security/custos/lib/clock"
	"github.com/custos-security/custos/lib/secret"
)

// Manifest is the persisted signing record colocated with the policy
// document.
type Manifest struct {
	// ContentSHA256 is the hex SHA-256 of the raw document bytes.
	ContentSHA256 string `json:"content_sha256"`

	// HMACSHA256 is the hex HMAC-SHA256 of the same bytes, keyed by
	// the device master key. The hash alone proves nothing — anyone
	// can recompute it after editing; the MAC is the signature.
	HMACSHA256 string `json:"hmac_sha256"`

	// SignedAt records when the manifest was produced.
	SignedAt time.Time `json:"signed_at"`
}

// Outcome classifies one verification. The zero value is deliberately
// OutcomeTamperDetected so that forgetting to set an outcome can never
// widen trust.
type Outcome int

const (
	// OutcomeTamperDetected: content hash or MAC mismatch. Fails
	// closed; the policy text is not injected.
	OutcomeTamperDetected Outcome = iota

	// OutcomeValid: both hash and MAC match the manifest.
	OutcomeValid

	// OutcomeUnsigned: the document exists but no manifest does.
	OutcomeUnsigned

	// OutcomeMissing: no document. Trivially valid — there is no
	// policy to inject and nothing to verify.
	OutcomeMissing
)

// String returns the audit-vocabulary name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "verified"
	case OutcomeUnsigned:
		return "unsigned"
	case OutcomeMissing:
		return "missing"
	default:
		return "tamper_detected"
	}
}

// Manager binds the policy document, its manifest, the master key, and
// the audit log. The key is borrowed — the Manager never closes it.
type Manager struct {
	// DocumentPath is the policy document inside the workspace.
	DocumentPath string

	// ManifestPath is the signing record, colocated with the document.
	ManifestPath string

	// Key is the device master key.
	Key *secret.Buffer

	// AuditLog receives signed/verified/tamper_detected/unsigned/
	// missing/suspicious_content events. Required.
	AuditLog *audit.Log

	// StrictPolicy escalates tamper detection from a warning to an
	// error from InjectableText. The only configurable deviation from
	// warn-and-continue.
	StrictPolicy bool

	// Logger receives warnings. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Clock stamps manifests. If nil, the wall clock is used.
	Clock clock.Clock
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Manager) now() time.Time {
	if m.Clock != nil {
		return m.Clock.Now()
	}
	return clock.Real().Now()
}

// Sign computes the hash and MAC of the current document bytes and
// atomically persists the manifest. Succeeds unconditionally given a
// readable document. Appends a signed audit entry.
func (m *Manager) Sign() (*Manifest, error) {
	document, err := os.ReadFile(m.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("reading policy document %s: %w", m.DocumentPath, err)
	}

	contentHash, contentMAC := m.digest(document)
	manifest := &Manifest{
		ContentSHA256: contentHash,
		HMACSHA256:    contentMAC,
		SignedAt:      m.now().UTC(),
	}

	if err := writeManifest(m.ManifestPath, manifest); err != nil {
		return nil, err
	}

	m.AuditLog.Append(audit.Event{
		Action:        audit.ActionSigned,
		ContentSHA256: contentHash,
		Source:        "policy",
		Detail:        fmt.Sprintf("signed %d bytes", len(document)),
	})
	return manifest, nil
}

// Verify recomputes the document's hash and MAC and compares them
// against the persisted manifest. Each outcome appends its own audit
// entry. Never returns an error: every failure mode maps to an
// outcome, and the caller decides how to degrade.
func (m *Manager) Verify() Outcome {
	outcome, _ := m.verifyDocument()
	return outcome
}

// verifyDocument is Verify plus the document bytes, which
// InjectableText feeds to the sanitizer on the valid branch. The bytes
// are nil for every other outcome.
func (m *Manager) verifyDocument() (Outcome, []byte) {
	document, err := os.ReadFile(m.DocumentPath)
	if os.IsNotExist(err) {
		m.AuditLog.Append(audit.Event{
			Action: audit.ActionMissing,
			Source: "policy",
			Detail: "no policy document",
		})
		return OutcomeMissing, nil
	}
	if err != nil {
		// Unreadable is indistinguishable from tampered-with for
		// trust purposes: fail closed.
		m.AuditLog.Append(audit.Event{
			Action: audit.ActionTamperDetected,
			Source: "policy",
			Detail: fmt.Sprintf("policy document unreadable: %v", err),
		})
		return OutcomeTamperDetected, nil
	}

	manifest, err := readManifest(m.ManifestPath)
	if os.IsNotExist(err) {
		m.AuditLog.Append(audit.Event{
			Action:        audit.ActionUnsigned,
			ContentSHA256: hashHex(document),
			Source:        "policy",
			Detail:        "no manifest for policy document",
		})
		return OutcomeUnsigned, nil
	}
	if err != nil {
		// A malformed manifest is a tamper signal, not a missing one.
		m.AuditLog.Append(audit.Event{
			Action:        audit.ActionTamperDetected,
			ContentSHA256: hashHex(document),
			Source:        "policy",
			Detail:        fmt.Sprintf("manifest unreadable: %v", err),
		})
		return OutcomeTamperDetected, nil
	}

	contentHash, contentMAC := m.digest(document)
	hashMatches := hmac.Equal([]byte(contentHash), []byte(manifest.ContentSHA256))
	macMatches := hmac.Equal([]byte(contentMAC), []byte(manifest.HMACSHA256))
	if !hashMatches || !macMatches {
		m.AuditLog.Append(audit.Event{
			Action:        audit.ActionTamperDetected,
			ContentSHA256: contentHash,
			Source:        "policy",
			Detail:        "policy content does not match signed manifest",
		})
		return OutcomeTamperDetected, nil
	}

	m.AuditLog.Append(audit.Event{
		Action:        audit.ActionVerified,
		ContentSHA256: contentHash,
		Source:        "policy",
	})
	return OutcomeValid, document
}

// digest returns the hex SHA-256 and hex HMAC-SHA256 of document.
func (m *Manager) digest(document []byte) (contentHash, contentMAC string) {
	mac := hmac.New(sha256.New, m.Key.Bytes())
	mac.Write(document)
	return hashHex(document), hex.EncodeToString(mac.Sum(nil))
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeManifest persists the manifest atomically: temp file in the
// same directory, then rename.
func writeManifest(path string, manifest *Manifest) error {
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	encoded = append(encoded, '\n')

	directory := filepath.Dir(path)
	temporary, err := os.CreateTemp(directory, ".manifest-*")
	if err != nil {
		return fmt.Errorf("creating temporary manifest: %w", err)
	}
	temporaryPath := temporary.Name()

	if _, err := temporary.Write(encoded); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("installing manifest at %s: %w", path, err)
	}
	return nil
}

// readManifest loads and decodes the manifest. Returns an error
// satisfying os.IsNotExist when there is no manifest.
func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	if manifest.ContentSHA256 == "" || manifest.HMACSHA256 == "" {
		return nil, fmt.Errorf("manifest %s is missing digest fields", path)
	}
	return &manifest, nil
}
