// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/puppypeer/puppyagent/lib/controlplane"
	"github.com/puppypeer/puppyagent/lib/testutil"
)

// handlerFunc adapts a function to Handler.
type handlerFunc func(context.Context, controlplane.Envelope) controlplane.Response

func (f handlerFunc) Dispatch(ctx context.Context, envelope controlplane.Envelope) controlplane.Response {
	return f(ctx, envelope)
}

// startServer runs a SocketServer until the test ends and returns its
// socket path.
func startServer(t *testing.T, handler Handler) string {
	t.Helper()
	path := filepath.Join(testutil.SocketDir(t), "control.sock")
	server, err := NewSocketServer(SocketConfig{Path: path, Handler: handler})
	if err != nil {
		t.Fatalf("NewSocketServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")
	return path
}

func TestSocketRoundTrip(t *testing.T) {
	path := startServer(t, handlerFunc(func(_ context.Context, envelope controlplane.Envelope) controlplane.Response {
		if _, ok := envelope.Request.(controlplane.GetVersion); !ok {
			return controlplane.Error("unexpected request")
		}
		return controlplane.Version{Version: "1.0.0", Commit: envelope.Session, Target: "linux-amd64"}
	}))

	client := NewClient(path)
	client.Session = "session-1"
	response, err := client.Call(context.Background(), controlplane.GetVersion{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	version, ok := response.(controlplane.Version)
	if !ok {
		t.Fatalf("response = %#v", response)
	}
	if version.Version != "1.0.0" || version.Commit != "session-1" {
		t.Errorf("version = %+v", version)
	}
}

func TestSocketServesConcurrentConnections(t *testing.T) {
	release := make(chan struct{})
	path := startServer(t, handlerFunc(func(_ context.Context, envelope controlplane.Envelope) controlplane.Response {
		if envelope.Session == "slow" {
			<-release
		}
		return controlplane.UserRemoved{Username: envelope.Session}
	}))

	slow := make(chan controlplane.Response, 1)
	go func() {
		client := NewClient(path)
		client.Session = "slow"
		response, _ := client.Call(context.Background(), controlplane.ListUsers{})
		slow <- response
	}()

	fast := NewClient(path)
	fast.Session = "fast"
	response, err := fast.Call(context.Background(), controlplane.ListUsers{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if removed, ok := response.(controlplane.UserRemoved); !ok || removed.Username != "fast" {
		t.Errorf("fast response = %#v", response)
	}

	close(release)
	if removed, ok := testutil.RequireReceive(t, slow, 5*time.Second, "slow response").(controlplane.UserRemoved); !ok || removed.Username != "slow" {
		t.Error("slow request did not complete")
	}
}

func TestSocketRecoversHandlerPanic(t *testing.T) {
	path := startServer(t, handlerFunc(func(context.Context, controlplane.Envelope) controlplane.Response {
		panic("boom")
	}))

	response, err := NewClient(path).Call(context.Background(), controlplane.ListUsers{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	message, ok := response.(controlplane.Error)
	if !ok || !strings.HasPrefix(string(message), "Internal:") {
		t.Fatalf("response = %#v, want Internal error", response)
	}
	if strings.Contains(string(message), "boom") {
		t.Errorf("panic value leaked to the client: %q", message)
	}

	// The server keeps serving after a panic.
	if _, err := NewClient(path).Call(context.Background(), controlplane.ListUsers{}); err != nil {
		t.Errorf("Call after panic: %v", err)
	}
}

func TestSocketRejectsMalformedEnvelope(t *testing.T) {
	path := startServer(t, handlerFunc(func(context.Context, controlplane.Envelope) controlplane.Response {
		t.Error("handler called for malformed input")
		return controlplane.Error("unreachable")
	}))

	for _, input := range []string{
		`{"request":"Reboot"}`,
		`{"request":{"CreateUser":{"username":"a"},"GetVersion":null}}`,
		`not json`,
	} {
		conn, err := net.DialTimeout("unix", path, 5*time.Second)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		if _, err := conn.Write([]byte(input)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		conn.(*net.UnixConn).CloseWrite()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var buffer [4096]byte
		n, _ := conn.Read(buffer[:])
		conn.Close()

		response, err := controlplane.UnmarshalResponse(buffer[:n])
		if err != nil {
			t.Fatalf("input %q: decoding %q: %v", input, buffer[:n], err)
		}
		message, ok := response.(controlplane.Error)
		if !ok || !strings.HasPrefix(string(message), "ValidationError: invalid request") {
			t.Errorf("input %q: response = %#v", input, response)
		}
	}
}

func TestSocketEmptyConnection(t *testing.T) {
	path := startServer(t, handlerFunc(func(context.Context, controlplane.Envelope) controlplane.Response {
		t.Error("handler called for an empty connection")
		return nil
	}))

	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.(*net.UnixConn).CloseWrite()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var buffer [16]byte
	if n, _ := conn.Read(buffer[:]); n != 0 {
		t.Errorf("server wrote %q to an empty connection", buffer[:n])
	}
	conn.Close()
}

func TestSocketFileLifecycle(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "control.sock")
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	server, err := NewSocketServer(SocketConfig{
		Path:    path,
		Handler: handlerFunc(func(context.Context, controlplane.Envelope) controlplane.Response { return controlplane.Error("x") }),
	})
	if err != nil {
		t.Fatalf("NewSocketServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Errorf("%s is not a socket", path)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("socket mode = %v, want 0600", info.Mode().Perm())
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "server shutdown"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file still present after shutdown: %v", err)
	}
}

func TestNewSocketServerRequiresHandler(t *testing.T) {
	if _, err := NewSocketServer(SocketConfig{Path: "/tmp/x.sock"}); err == nil {
		t.Error("NewSocketServer without a handler succeeded")
	}
}
