// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/puppypeer/puppyagent/lib/controlplane"
	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/netutil"
)

// Handler executes one control-plane request. *controlplane.Dispatcher
// satisfies it.
type Handler interface {
	Dispatch(ctx context.Context, envelope controlplane.Envelope) controlplane.Response
}

// readTimeout is how long we wait for the client to send its request.
// A well-behaved client sends the request immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for the response to be written.
const writeTimeout = 10 * time.Second

// DefaultMaxRequestSize bounds one encoded envelope. A base64 upload
// chunk of the default 4 MiB is about 5.4 MiB on the wire.
const DefaultMaxRequestSize = 8 << 20

// SocketConfig configures a SocketServer.
type SocketConfig struct {
	// Path is the Unix socket path. Required.
	Path string

	// Handler executes decoded requests. Required.
	Handler Handler

	// Mode is applied to the socket file after listening. Defaults
	// to 0o600.
	Mode os.FileMode

	// MaxRequestSize defaults to DefaultMaxRequestSize.
	MaxRequestSize int64

	Logger *slog.Logger
}

// SocketServer serves the control-plane protocol on a Unix socket.
// Each connection handles exactly one request-response cycle: the
// client writes one JSON envelope, the server writes one JSON
// response, then the connection closes.
type SocketServer struct {
	socketPath     string
	handler        Handler
	mode           os.FileMode
	maxRequestSize int64
	logger         *slog.Logger

	ready chan struct{}

	// activeConnections tracks in-flight request handlers for graceful
	// shutdown. Serve waits for all active connections to complete
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on config.Path.
func NewSocketServer(config SocketConfig) (*SocketServer, error) {
	if config.Path == "" {
		return nil, errors.New("service: socket Path is required")
	}
	if config.Handler == nil {
		return nil, errors.New("service: socket Handler is required")
	}
	server := &SocketServer{
		socketPath:     config.Path,
		handler:        config.Handler,
		mode:           config.Mode,
		maxRequestSize: config.MaxRequestSize,
		logger:         config.Logger,
		ready:          make(chan struct{}),
	}
	if server.mode == 0 {
		server.mode = 0o600
	}
	if server.maxRequestSize <= 0 {
		server.maxRequestSize = DefaultMaxRequestSize
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}
	return server, nil
}

// Ready is closed once the socket accepts connections.
func (s *SocketServer) Ready() <-chan struct{} { return s.ready }

// Serve starts accepting connections on the Unix socket. Blocks until
// ctx is cancelled, then stops accepting new connections and waits for
// active handlers to complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
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
	if err := os.Chmod(s.socketPath, s.mode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", s.socketPath, err)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
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
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// JSON values are self-delimiting, so the decoder stops after the
	// envelope without waiting for EOF.
	var envelope controlplane.Envelope
	decoder := json.NewDecoder(io.LimitReader(conn, s.maxRequestSize))
	if err := decoder.Decode(&envelope); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.write(conn, controlplane.Error(fault.New(fault.Validation, "invalid request: %v", err).WireMessage()))
		return
	}

	s.write(conn, s.dispatch(ctx, envelope))
}

// dispatch runs the handler, converting a panic into an Internal error
// response so one bad request cannot take the daemon down.
func (s *SocketServer) dispatch(ctx context.Context, envelope controlplane.Envelope) (response controlplane.Response) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("request handler panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			response = controlplane.Error(fault.New(fault.Internal, "request handler failed").WireMessage())
		}
	}()
	return s.handler.Dispatch(ctx, envelope)
}

func (s *SocketServer) write(conn net.Conn, response controlplane.Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	data, err := controlplane.MarshalResponse(response)
	if err != nil {
		s.logger.Error("encoding response failed", "error", err)
		data, _ = controlplane.MarshalResponse(controlplane.Error(fault.New(fault.Internal, "encoding response").WireMessage()))
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil && !netutil.IsExpectedCloseError(err) {
		s.logger.Debug("failed to write response", "error", err)
	}
}
