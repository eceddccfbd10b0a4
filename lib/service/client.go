// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/puppypeer/puppyagent/lib/controlplane"
)

// dialTimeout is the maximum time to wait for a connection to the
// control socket. It covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize bounds one decoded response.
const maxResponseSize = 4 << 20

// Client sends control-plane requests to the socket. Each Call opens a
// new connection, matching the server's one-request-per-connection
// model.
type Client struct {
	socketPath string

	// Session is sent with every request. Authenticate responses do
	// not update it; callers copy the session id themselves.
	Session string
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends request and returns the server's response. Failures the
// server reports arrive as controlplane.Error or AuthFailure values;
// the returned error covers only transport and encoding problems.
func (c *Client) Call(ctx context.Context, request controlplane.Request) (controlplane.Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(controlplane.Envelope{Session: c.Session, Request: request}); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read sees EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	if _, ok := ctx.Deadline(); !ok {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}
	var raw json.RawMessage
	if err := json.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	response, err := controlplane.UnmarshalResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return response, nil
}
