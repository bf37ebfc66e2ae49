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
		cred    *unix.Xucred
		pid     int
		sockErr error
	)
	controlErr := rawConn.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		if sockErr != nil {
			return
		}
		// LOCAL_PEERPID is best-effort; the UID check carries the
		// security decision.
		pid, _ = unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERPID)
	})
	if controlErr != nil {
		return PeerIdentity{}, fmt.Errorf("controlling socket fd: %w", controlErr)
	}
	if sockErr != nil {
		return PeerIdentity{}, fmt.Errorf("reading LOCAL_PEERCRED: %w", sockErr)
	}

	identity := PeerIdentity{
		UID: int(cred.Uid),
		PID: pid,
	}
	if cred.Ngroups > 0 {
		identity.GID = int(cred.Groups[0])
	}
	return identity, nil
}
