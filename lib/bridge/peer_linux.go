// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func peerIdentityFromRawConn(rawConn syscall.RawConn) (PeerIdentity, error) {
	var (
		cred    *unix.Ucred
		sockErr error
	)
	controlErr := rawConn.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if controlErr != nil {
		return PeerIdentity{}, fmt.Errorf("controlling socket fd: %w", controlErr)
	}
	if sockErr != nil {
		return PeerIdentity{}, fmt.Errorf("reading SO_PEERCRED: %w", sockErr)
	}
	return PeerIdentity{
		UID: int(cred.Uid),
		GID: int(cred.Gid),
		PID: int(cred.Pid),
	}, nil
}
