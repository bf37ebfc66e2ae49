// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/custos-security/custos/lib/audit"
	"github.com/custos-security/custos/lib/codec"
	"github.com/custos-security/custos/lib/credstore"
)

// readTimeout is how long the server waits for a client to send its
// request. A well-behaved client sends it immediately after
// connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long the server waits for the response write.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single CBOR request. Bridge requests are an
// action name plus an id; 64 KB is already generous.
const maxRequestSize = 64 * 1024

// request is the decoded shape of every bridge request.
type request struct {
	Action   string `cbor:"action"`
	BridgeID string `cbor:"bridge_id,omitempty"`
}

// Server serves the bridge protocol on a Unix socket. Each connection
// handles exactly one request-response cycle: the client writes one
// CBOR value, the server answers with one Response, the connection
// closes.
//
// Before any request byte is read, the peer's kernel-reported UID is
// compared against the daemon's own. A mismatch closes the connection
// without a response; the peer learns nothing about the protocol.
type Server struct {
	socketPath    string
	store         *credstore.Store
	registry      *Registry
	auditLog      *audit.Log
	daemonVersion string
	logger        *slog.Logger
	uid           int

	// activeConnections tracks in-flight handlers for graceful
	// shutdown. Serve waits for all of them before returning.
	activeConnections sync.WaitGroup
}

// NewServer creates a bridge server. The store and registry are
// required; daemonVersion is reported by the version action. Rejected
// connections and credential dispenses are appended to auditLog with
// the requesting peer's identity (nil disables, used in tests).
func NewServer(socketPath string, store *credstore.Store, registry *Registry, auditLog *audit.Log, daemonVersion string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath:    socketPath,
		store:         store,
		registry:      registry,
		auditLog:      auditLog,
		daemonVersion: daemonVersion,
		logger:        logger,
		uid:           os.Getuid(),
	}
}

// audit appends to the log when one is configured. Appends are
// best-effort observability, never a gate on the request itself.
func (s *Server) audit(event audit.Event) {
	if s.auditLog != nil {
		s.auditLog.Append(event)
	}
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits for in-flight handlers. Any stale socket file
// at the configured path is removed before listening; the socket file
// is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// The UID check is the access decision; socket permissions are a
	// second fence against same-host noise.
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("bridge server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection processes one request-response cycle.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		s.logger.Error("bridge connection is not a unix socket")
		return
	}
	peer, err := peerIdentity(unixConn)
	if err != nil {
		// No credentials means no trust decision can be made. Close
		// without a response.
		s.logger.Warn("rejecting connection without peer credentials", "error", err)
		s.audit(audit.Event{
			Action: audit.ActionWriteBlocked,
			Source: "bridge",
			Detail: fmt.Sprintf("rejected connection without peer credentials: %v", err),
		})
		return
	}
	if peer.UID != s.uid {
		s.logger.Warn("rejecting connection from foreign uid",
			"peer_uid", peer.UID,
			"peer_pid", peer.PID,
			"daemon_uid", s.uid,
		)
		s.audit(audit.Event{
			Action: audit.ActionWriteBlocked,
			Source: "bridge",
			Detail: fmt.Sprintf("rejected connection from uid=%d gid=%d pid=%d (daemon uid=%d)",
				peer.UID, peer.GID, peer.PID, s.uid),
		})
		return
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// One CBOR value per connection. CBOR is self-delimiting so no
	// framing is needed; LimitReader bounds a hostile client.
	var req request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	result, err := s.dispatch(ctx, req, peer)
	if err != nil {
		s.logger.Debug("bridge action failed", "action", req.Action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func (s *Server) dispatch(ctx context.Context, req request, peer PeerIdentity) (any, error) {
	switch req.Action {
	case ActionVersion:
		return VersionInfo{
			Protocol: ProtocolVersion,
			Daemon:   s.daemonVersion,
		}, nil

	case ActionPing:
		if err := credstore.ValidateID(req.BridgeID); err != nil {
			return nil, err
		}
		s.registry.Touch(req.BridgeID)
		return nil, nil

	case ActionGetCredential:
		if err := credstore.ValidateID(req.BridgeID); err != nil {
			s.audit(audit.Event{
				Action: audit.ActionSuspiciousContent,
				Source: "bridge",
				Detail: fmt.Sprintf("rejected credential request with invalid id from uid=%d pid=%d: %v",
					peer.UID, peer.PID, err),
			})
			return nil, err
		}
		s.registry.Touch(req.BridgeID)

		credential, err := s.store.Lookup(req.BridgeID)
		if err != nil {
			// The store already audited the cause (missing or
			// integrity failure) from its own perspective; this entry
			// ties the denial to the requesting process.
			denial := audit.ActionMissing
			if !errors.Is(err, credstore.ErrNotFound) {
				denial = audit.ActionTamperDetected
			}
			s.audit(audit.Event{
				Action: denial,
				Source: "bridge",
				Detail: fmt.Sprintf("denied credential %s to uid=%d pid=%d: %v",
					req.BridgeID, peer.UID, peer.PID, err),
			})
			return nil, err
		}
		s.audit(audit.Event{
			Action: audit.ActionVerified,
			Source: "bridge",
			Detail: fmt.Sprintf("dispensed credential %s to uid=%d pid=%d",
				req.BridgeID, peer.UID, peer.PID),
		})
		// The payload copy crosses the socket and is the client's to
		// guard; the server-side buffer is zeroed immediately.
		data := CredentialData{Credential: append([]byte(nil), credential.Bytes()...)}
		credential.Close()
		return data, nil

	case ActionStatus:
		return StatusData{Connections: s.registry.Snapshot()}, nil

	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}
}

// writeError sends {ok: false, error: "..."}. Write failures are
// logged at debug level; the connection is closing regardless.
func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true} with the marshaled result in "data"
// when result is non-nil.
func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
