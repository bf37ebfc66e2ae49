// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit implements the append-only, hash-chained security
// event ledger. Every entry records the SHA-256 of its predecessor's
// serialized form, so undetected deletion or reordering of past events
// is infeasible without the break showing up in a chain walk.
//
// The log is an observability artifact, not an authorization gate: an
// unwritable or corrupted log never blocks policy verification or
// credential dispensing. Appends are best-effort — failures are logged
// and swallowed.
//
// One JSON object per line. Entries are fixed-field structs (never
// maps) so json.Marshal produces a deterministic byte sequence for
// hashing. A partial or corrupted line damages only itself: readers
// skip it, and the next append inserts a chain_recovery entry anchored
// to the last entry that verified as valid before the break, marking
// the discontinuity instead of hiding it.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/custos-security/custos/lib/clock"
)

// Action is the fixed vocabulary of security-relevant events. Bridge
// and credential events reuse it: registration appends created, a
// successful dispense appends verified, an unknown bridge id appends
// missing, and a decrypt failure appends tamper_detected.
type Action string

const (
	ActionCreated           Action = "created"
	ActionSigned            Action = "signed"
	ActionVerified          Action = "verified"
	ActionTamperDetected    Action = "tamper_detected"
	ActionUnsigned          Action = "unsigned"
	ActionMissing           Action = "missing"
	ActionSuspiciousContent Action = "suspicious_content"
	ActionWriteBlocked      Action = "write_blocked"
	ActionChainRecovery     Action = "chain_recovery"
)

// SentinelHash is the prev_entry_sha256 value of the first entry in an
// empty log: 32 zero bytes in hex.
var SentinelHash = strings.Repeat("0", 64)

// Event is what callers supply; the log adds the timestamp and the
// chain field.
type Event struct {
	// Action classifies the event within the fixed vocabulary.
	Action Action

	// ContentSHA256 is the hex SHA-256 of the content the event refers
	// to (policy document, credential ciphertext). Empty when there is
	// no content, e.g. a missing document.
	ContentSHA256 string

	// Source names the component that observed the event, e.g.
	// "policy", "bridge", "pathguard".
	Source string

	// Detail carries human-readable context. Never secret material.
	Detail string
}

// Entry is the persisted record: one JSON line in the log file. Field
// order is the serialization order and must not change — the chain
// hashes the exact bytes of each line.
type Entry struct {
	Timestamp       time.Time `json:"ts"`
	Action          Action    `json:"action"`
	ContentSHA256   string    `json:"content_sha256,omitempty"`
	PrevEntrySHA256 string    `json:"prev_entry_sha256"`
	Source          string    `json:"source"`
	Detail          string    `json:"detail,omitempty"`
}

// ParsedEntry is an Entry read back from the log together with its
// position and the hash of its serialized line (which is the
// prev_entry_sha256 value of its successor).
type ParsedEntry struct {
	Entry

	// Hash is the hex SHA-256 of the entry's serialized line.
	Hash string

	// Line is the 1-based line number in the log file.
	Line int
}

// Log is the append-only ledger. A single Log value owns the file;
// concurrent callers serialize through an internal mutex so the chain
// is never built from two entries racing on "last entry". The lock is
// held only for the duration of one append.
type Log struct {
	path   string
	logger *slog.Logger
	clock  clock.Clock

	mu sync.Mutex
	// lastHash is the hash of the last valid entry, loaded lazily on
	// first append. Guarded by mu.
	lastHash string
	// tailLoaded records whether lastHash reflects the file contents.
	tailLoaded bool
	// needsRecovery is set when the tail scan found corrupt or
	// out-of-chain lines; the next append writes a chain_recovery
	// entry first, anchored to lastHash.
	needsRecovery bool
}

// Open prepares a log backed by the file at path. The file and its
// parent directory are created on first append, not here — opening a
// log is free and never fails.
func Open(path string, logger *slog.Logger, clk clock.Clock) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Log{path: path, logger: logger, clock: clk}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append adds an event to the chain. Best-effort: any I/O or encoding
// failure is logged and swallowed, never surfaced to the caller —
// audit unavailability must not block a security decision that has
// already been made.
func (l *Log) Append(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.appendLocked(event); err != nil {
		// Force a tail reload on the next append: the file may have
		// been partially written.
		l.tailLoaded = false
		l.logger.Warn("audit append failed",
			"path", l.path,
			"action", string(event.Action),
			"error", err,
		)
	}
}

func (l *Log) appendLocked(event Event) error {
	if !l.tailLoaded {
		l.loadTailLocked()
	}

	file, err := l.openForAppend()
	if err != nil {
		return err
	}
	defer file.Close()

	if l.needsRecovery {
		recovery := Entry{
			Timestamp:       l.clock.Now().UTC(),
			Action:          ActionChainRecovery,
			PrevEntrySHA256: l.lastHash,
			Source:          "audit",
			Detail:          "corrupt entries skipped; chain re-anchored",
		}
		if err := l.writeEntry(file, recovery); err != nil {
			return fmt.Errorf("writing chain_recovery entry: %w", err)
		}
		l.needsRecovery = false
	}

	entry := Entry{
		Timestamp:       l.clock.Now().UTC(),
		Action:          event.Action,
		ContentSHA256:   event.ContentSHA256,
		PrevEntrySHA256: l.lastHash,
		Source:          event.Source,
		Detail:          event.Detail,
	}
	if err := l.writeEntry(file, entry); err != nil {
		return fmt.Errorf("writing %s entry: %w", event.Action, err)
	}
	return nil
}

// writeEntry serializes, appends, and advances the in-memory tail
// hash. Caller holds mu.
func (l *Log) writeEntry(file *os.File, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending entry: %w", err)
	}
	l.lastHash = hashLine(line)
	return nil
}

func (l *Log) openForAppend() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return file, nil
}

// loadTailLocked walks the existing file to recover the hash of the
// last valid entry and whether any lines were skipped. A missing or
// unreadable file yields an empty chain — the log starts (or restarts)
// from the sentinel rather than refusing to record. Caller holds mu.
func (l *Log) loadTailLocked() {
	l.lastHash = SentinelHash
	l.needsRecovery = false
	l.tailLoaded = true

	file, err := os.Open(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("audit tail scan failed", "path", l.path, "error", err)
			l.needsRecovery = true
		}
		return
	}
	defer file.Close()

	walk := chainWalk(file)
	for parsed := range walk.entries {
		l.lastHash = parsed.Hash
	}
	if walk.result.Skipped > 0 || walk.result.ReadError != nil {
		l.needsRecovery = true
	}
}

// Summary reports the outcome of a full chain walk.
type Summary struct {
	// Valid is the number of entries whose chain field matched.
	Valid int

	// Skipped is the number of corrupt or out-of-chain lines.
	Skipped int

	// Recoveries is the number of chain_recovery entries seen.
	Recoveries int

	// ReadError is a non-nil scanner error if the walk ended early.
	ReadError error
}

// Entries returns a forward-only, restartable sequence of the valid
// entries in the log. Corrupt lines and lines whose prev hash does not
// match the preceding valid entry are skipped, not rewritten. Each
// call to the sequence re-opens the file, so iterating twice observes
// appends made in between.
func (l *Log) Entries() iter.Seq[ParsedEntry] {
	return func(yield func(ParsedEntry) bool) {
		file, err := os.Open(l.path)
		if err != nil {
			return
		}
		defer file.Close()

		walk := chainWalk(file)
		for parsed := range walk.entries {
			if !yield(parsed) {
				return
			}
		}
	}
}

// Verify walks the whole chain and reports totals. Used by
// `custos audit verify`.
func (l *Log) Verify() Summary {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}
		}
		return Summary{ReadError: err}
	}
	defer file.Close()

	walk := chainWalk(file)
	for parsed := range walk.entries {
		if parsed.Action == ActionChainRecovery {
			walk.result.Recoveries++
		}
	}
	return *walk.result
}

// walker couples the entry sequence with the mutable summary the walk
// fills in as it goes. The summary is complete only after the sequence
// is exhausted.
type walker struct {
	entries iter.Seq[ParsedEntry]
	result  *Summary
}

// chainWalk validates r line by line. A line is valid when it parses
// as an Entry, names an action, and its prev_entry_sha256 matches the
// hash of the last valid line (the sentinel for the first). Everything
// else is counted as skipped. A chain_recovery entry is valid by the
// same rule — its prev anchors to the last valid entry before the
// break, which is exactly what the walk tracks.
func chainWalk(r io.Reader) walker {
	result := &Summary{}
	entries := func(yield func(ParsedEntry) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		expected := SentinelHash
		lineNumber := 0
		for scanner.Scan() {
			lineNumber++
			line := scanner.Bytes()

			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil || entry.Action == "" {
				result.Skipped++
				continue
			}
			if entry.PrevEntrySHA256 != expected {
				result.Skipped++
				continue
			}

			parsed := ParsedEntry{
				Entry: entry,
				Hash:  hashLine(line),
				Line:  lineNumber,
			}
			expected = parsed.Hash
			result.Valid++
			if !yield(parsed) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			result.ReadError = err
		}
	}
	return walker{entries: entries, result: result}
}

func hashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:])
}
