// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/custos-security/custos/lib/codec"
	"github.com/custos-security/custos/lib/secret"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response
// after writing its request. Matched to the server's readTimeout +
// writeTimeout to allow for handler execution.
const responseReadTimeout = 45 * time.Second

// maxResponseSize matches the server's request cap for symmetry.
const maxResponseSize = 64 * 1024

// Client talks to the custody daemon's bridge socket. Each call opens
// a new connection (matching the server's one-request-per-connection
// model), sends one CBOR request, reads one response, and closes.
type Client struct {
	socketPath string
}

// NewClient creates a client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Version fetches the daemon's protocol and build version.
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	var info VersionInfo
	if err := c.call(ctx, request{Action: ActionVersion}, &info); err != nil {
		return VersionInfo{}, err
	}
	return info, nil
}

// CheckVersion fetches the daemon version and fails on a protocol
// mismatch. Clients call this once before any other request; a daemon
// speaking a different protocol gets no further traffic.
func (c *Client) CheckVersion(ctx context.Context) (VersionInfo, error) {
	info, err := c.Version(ctx)
	if err != nil {
		return VersionInfo{}, err
	}
	if info.Protocol != ProtocolVersion {
		return VersionInfo{}, fmt.Errorf("daemon speaks protocol %q, client requires %q", info.Protocol, ProtocolVersion)
	}
	return info, nil
}

// Ping records liveness for the given bridge id.
func (c *Client) Ping(ctx context.Context, bridgeID string) error {
	return c.call(ctx, request{Action: ActionPing, BridgeID: bridgeID}, nil)
}

// GetCredential fetches the credential registered under bridgeID. The
// returned buffer is owned by the caller, who must Close it.
func (c *Client) GetCredential(ctx context.Context, bridgeID string) (*secret.Buffer, error) {
	var data CredentialData
	if err := c.call(ctx, request{Action: ActionGetCredential, BridgeID: bridgeID}, &data); err != nil {
		return nil, err
	}
	// NewFromBytes zeroes the decoded heap copy.
	buffer, err := secret.NewFromBytes(data.Credential)
	if err != nil {
		secret.Zero(data.Credential)
		return nil, fmt.Errorf("guarding credential for %s: %w", bridgeID, err)
	}
	return buffer, nil
}

// Status fetches per-bridge connection health. The response never
// contains credential material.
func (c *Client) Status(ctx context.Context) (StatusData, error) {
	var data StatusData
	if err := c.call(ctx, request{Action: ActionStatus}, &data); err != nil {
		return StatusData{}, err
	}
	return data, nil
}

// call sends one request and decodes the response. A server-side
// failure (ok=false) is returned as *ServiceError; connection and
// encoding failures are plain errors.
func (c *Client) call(ctx context.Context, req request, result any) error {
	response, err := c.send(ctx, req)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", req.Action, c.socketPath, err)
	}
	if !response.OK {
		return &ServiceError{Action: req.Action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", req.Action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side. CBOR is self-delimiting so this is
	// not strictly necessary, but it lets the server's read side see
	// EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
