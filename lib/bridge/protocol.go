// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"

	"github.com/custos-security/custos/lib/codec"
)

// ProtocolVersion is the bridge protocol version. Clients check it
// before issuing any other request; a mismatch is a hard error, never
// a best-effort downgrade.
const ProtocolVersion = "1.0"

// Action names carried in the "action" field of every request.
const (
	// ActionVersion returns the daemon's protocol and build version.
	ActionVersion = "version"

	// ActionPing records liveness for the calling bridge id.
	ActionPing = "ping"

	// ActionGetCredential dispenses the credential registered under
	// the request's bridge id.
	ActionGetCredential = "get-credential"

	// ActionStatus reports connection health per bridge id. The
	// response never contains credential material.
	ActionStatus = "status"
)

// Response is the wire envelope for every bridge response. Handlers
// return a result value (or nil) and an error; the server wraps these
// before encoding.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// VersionInfo is the payload of a version response.
type VersionInfo struct {
	Protocol string `cbor:"protocol"`
	Daemon   string `cbor:"daemon"`
}

// CredentialData is the payload of a get-credential response. The
// bytes are the raw secret; the client moves them into guarded memory
// immediately after decoding.
type CredentialData struct {
	Credential []byte `cbor:"credential"`
}

// ConnectionStatus is one bridge's entry in a status response.
type ConnectionStatus struct {
	BridgeID string `cbor:"bridge_id"`

	// State is healthy, degraded, or unhealthy.
	State string `cbor:"state"`

	// IdleSeconds is the time since the bridge's last request.
	IdleSeconds int64 `cbor:"idle_seconds"`
}

// StatusData is the payload of a status response.
type StatusData struct {
	Connections []ConnectionStatus `cbor:"connections"`
}

// ServiceError is returned by the client when the daemon responds
// with ok=false.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("bridge error on %q: %s", e.Action, e.Message)
}
