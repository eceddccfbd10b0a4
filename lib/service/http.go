// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const defaultHTTPShutdownTimeout = 10 * time.Second

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is a TCP address such as "127.0.0.1:9464". Port 0 picks
	// a free port; see HTTPServer.Addr.
	Address string
	Handler http.Handler

	// ShutdownTimeout bounds how long in-flight scrapes may run after
	// Serve's context ends. Zero means 10 seconds.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// HTTPServer exposes a handler (in practice the Prometheus registry)
// on TCP. Its lifecycle mirrors SocketServer.
type HTTPServer struct {
	config HTTPServerConfig
	logger *slog.Logger
	ready  chan struct{}
	addr   net.Addr
}

// NewHTTPServer validates config. Nothing is bound until Serve.
func NewHTTPServer(config HTTPServerConfig) (*HTTPServer, error) {
	switch {
	case config.Address == "":
		return nil, errors.New("service: HTTP address is required")
	case config.Handler == nil:
		return nil, errors.New("service: HTTP handler is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultHTTPShutdownTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPServer{config: config, logger: logger, ready: make(chan struct{})}, nil
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address. Valid after Ready is closed.
func (s *HTTPServer) Addr() net.Addr { return s.addr }

// Serve binds and serves until ctx is cancelled, then drains in-flight
// requests for at most ShutdownTimeout.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.logger.Info("metrics endpoint listening", "address", s.addr.String())

	failed := make(chan error, 1)
	go func() { failed <- server.Serve(listener) }()

	select {
	case err := <-failed:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("draining %s: %w", s.addr, err)
	}
	s.logger.Info("metrics endpoint stopped")
	return nil
}
