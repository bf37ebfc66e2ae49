// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"net"
)

// PeerIdentity identifies the process on the far end of a Unix socket
// connection, as reported by the kernel. Unlike anything the peer
// sends in-band, these values cannot be forged by an unprivileged
// process.
type PeerIdentity struct {
	UID int
	GID int

	// PID is 0 when the platform does not report it.
	PID int
}

// peerIdentity reads the kernel-reported credentials of conn's peer.
// Implemented per platform: SO_PEERCRED on Linux, LOCAL_PEERCRED on
// macOS.
func peerIdentity(conn *net.UnixConn) (PeerIdentity, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return PeerIdentity{}, fmt.Errorf("accessing raw connection: %w", err)
	}
	return peerIdentityFromRawConn(rawConn)
}
