// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the local IPC channel between the custody
// daemon and bridge processes that need credentials.
//
// The transport is a Unix domain socket carrying one CBOR request and
// one CBOR response per connection. The socket path carries a
// per-install unpredictable suffix derived from the master key, and
// every connection's peer is checked against the daemon's own UID via
// kernel-reported socket credentials before a single request byte is
// read. A peer the kernel cannot vouch for gets no protocol at all.
//
// Credential dispenses, denials, and unknown-id requests are recorded
// in the audit log by the underlying credential store.
package bridge
