// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custos-security/custos/lib/sealed"
	"github.com/custos-security/custos/lib/secret"
)

// bundleVersion is the escrow bundle format version.
const bundleVersion = 1

// bundle is the JSON payload inside an escrow export. Credential
// values are base64 of the raw secret bytes. The payload only ever
// exists in memory between decryption and re-registration.
type bundle struct {
	Version     int               `json:"version"`
	ExportedAt  time.Time         `json:"exported_at"`
	Credentials map[string]string `json:"credentials"`
}

// Export decrypts every stored credential and re-encrypts the bundle
// to the given age recipients, returning base64 age ciphertext fit for
// offline operator custody. The plaintext bundle is zeroed before
// return.
func (s *Store) Export(recipientKeys []string) (string, error) {
	ids, err := s.List()
	if err != nil {
		return "", err
	}

	payload := bundle{
		Version:     bundleVersion,
		ExportedAt:  time.Now().UTC(),
		Credentials: make(map[string]string, len(ids)),
	}
	for _, id := range ids {
		credential, err := s.Lookup(id)
		if err != nil {
			return "", fmt.Errorf("exporting %s: %w", id, err)
		}
		payload.Credentials[id] = base64.StdEncoding.EncodeToString(credential.Bytes())
		credential.Close()
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding escrow bundle: %w", err)
	}
	defer secret.Zero(encoded)

	ciphertext, err := sealed.Encrypt(encoded, recipientKeys)
	if err != nil {
		return "", fmt.Errorf("sealing escrow bundle: %w", err)
	}
	return ciphertext, nil
}

// Import decrypts an escrow bundle with the given age private key and
// registers every credential it holds, re-encrypting each under this
// device's master key. Returns the number of credentials imported.
func (s *Store) Import(ciphertext string, privateKey *secret.Buffer) (int, error) {
	plaintext, err := sealed.Decrypt(ciphertext, privateKey)
	if err != nil {
		return 0, fmt.Errorf("opening escrow bundle: %w", err)
	}
	defer plaintext.Close()

	var payload bundle
	if err := json.Unmarshal(plaintext.Bytes(), &payload); err != nil {
		return 0, fmt.Errorf("decoding escrow bundle: %w", err)
	}
	if payload.Version != bundleVersion {
		return 0, fmt.Errorf("escrow bundle version %d is not supported (expected %d)", payload.Version, bundleVersion)
	}

	imported := 0
	for id, encoded := range payload.Credentials {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return imported, fmt.Errorf("decoding credential for %s: %w", id, err)
		}
		credential, err := secret.NewFromBytes(raw)
		if err != nil {
			return imported, fmt.Errorf("guarding credential for %s: %w", id, err)
		}
		err = s.Register(id, credential)
		credential.Close()
		if err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
