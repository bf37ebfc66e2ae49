// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/hex"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/custos-security/custos/lib/secret"
)

// socketDomain is the keyed-hash domain tag for socket name
// derivation. Changing it moves every install's socket.
var socketDomain = []byte("custos.socket.v1")

// SocketPath derives the daemon's socket path under dir. The filename
// carries a suffix computed as a keyed BLAKE3 hash of the domain tag
// under the master key, so the name is stable per install but
// unpredictable to anyone without the key. Discovering the socket is
// not a security boundary on its own (the UID check is), but an
// unpredictable name keeps unrelated software from probing it by
// convention.
//
// The master key is borrowed and not closed. It must be 32 bytes.
func SocketPath(dir string, masterKey *secret.Buffer) string {
	hasher, err := blake3.NewKeyed(masterKey.Bytes())
	if err != nil {
		panic("bridge: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	hasher.Write(socketDomain)
	suffix := hex.EncodeToString(hasher.Sum(nil)[:8])
	return filepath.Join(dir, "custos-"+suffix+".sock")
}
