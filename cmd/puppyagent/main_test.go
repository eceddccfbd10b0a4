// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/puppypeer/puppyagent/lib/artifact"
	"github.com/puppypeer/puppyagent/lib/config"
	"github.com/puppypeer/puppyagent/lib/statelock"
	"github.com/puppypeer/puppyagent/lib/version"
)

type harness struct {
	configPath string
	stateDir   string
	stdout     bytes.Buffer
	stderr     bytes.Buffer
}

func newHarness(t *testing.T, extra string) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		configPath: filepath.Join(root, "puppyagent.yaml"),
		stateDir:   filepath.Join(root, "state"),
	}
	content := "paths:\n" +
		"  state: " + h.stateDir + "\n" +
		"  install_root: " + filepath.Join(root, "install") + "\n" +
		"control:\n" +
		"  socket_path: " + filepath.Join(root, "run", "control.sock") + "\n" +
		"log:\n" +
		"  format: text\n" +
		extra
	if err := os.WriteFile(h.configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return h
}

// run executes the CLI with stdin holding input.
func (h *harness) run(t *testing.T, input string, args ...string) error {
	t.Helper()
	stdinPath := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(stdinPath, []byte(input), 0o600); err != nil {
		t.Fatalf("writing stdin: %v", err)
	}
	stdin, err := os.Open(stdinPath)
	if err != nil {
		t.Fatalf("opening stdin: %v", err)
	}
	defer stdin.Close()

	h.stdout.Reset()
	h.stderr.Reset()
	a := &app{stdin: stdin, stdout: &h.stdout, stderr: &h.stderr}
	return run(context.Background(), append([]string{"--config", h.configPath}, args...), a)
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t, "")
	if err := h.run(t, "", "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(h.stdout.String(), version.Version) {
		t.Errorf("version output %q does not contain %q", h.stdout.String(), version.Version)
	}

	if err := h.run(t, "", "version", "--check"); err != nil {
		t.Fatalf("version --check: %v", err)
	}
	if !strings.Contains(h.stdout.String(), version.Version) {
		t.Errorf("version --check output %q does not contain %q", h.stdout.String(), version.Version)
	}
}

func TestVersionCheckRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, "update:\n  restart: reboot\n")
	err := h.run(t, "", "version", "--check")
	if err == nil || !strings.Contains(err.Error(), "restart") {
		t.Fatalf("version --check = %v, want a restart validation error", err)
	}
	if h.stdout.Len() != 0 {
		t.Errorf("version --check printed %q despite failing", h.stdout.String())
	}
}

func TestUnknownCommandSuggestion(t *testing.T) {
	h := newHarness(t, "")
	err := h.run(t, "", "versoin")
	if err == nil || !strings.Contains(err.Error(), `did you mean "version"`) {
		t.Fatalf("run versoin = %v, want a suggestion", err)
	}
}

func TestUserAddBootstrapsOwner(t *testing.T) {
	h := newHarness(t, "")

	if err := h.run(t, "correct horse\n", "user", "add", "alice", "--role", "viewer", "--password-stdin"); err != nil {
		t.Fatalf("user add alice: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "owner") {
		t.Errorf("first user output = %q, want the owner notice", h.stdout.String())
	}

	if err := h.run(t, "battery staple\n", "user", "add", "bob", "--role", "viewer", "--password-stdin"); err != nil {
		t.Fatalf("user add bob: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "roles: viewer") {
		t.Errorf("second user output = %q, want viewer role", h.stdout.String())
	}

	if err := h.run(t, "again\n", "user", "add", "bob", "--password-stdin"); err == nil {
		t.Error("duplicate user add succeeded")
	}

	if err := h.run(t, "", "user", "list"); err != nil {
		t.Fatalf("user list: %v", err)
	}
	listing := h.stdout.String()
	for _, want := range []string{"alice\troles=owner,viewer", "bob\troles=viewer"} {
		if !strings.Contains(listing, want) {
			t.Errorf("user list = %q, missing %q", listing, want)
		}
	}
}

func TestUserAddRejectsEmptyPassword(t *testing.T) {
	h := newHarness(t, "")
	if err := h.run(t, "\n", "user", "add", "alice", "--password-stdin"); err == nil {
		t.Fatal("user add with empty password succeeded")
	}
	if _, err := os.Stat(filepath.Join(h.stateDir, "identity.db")); err == nil {
		t.Error("identity database created before the password was read")
	}
}

func TestKeygenAndSign(t *testing.T) {
	h := newHarness(t, "")
	keys := t.TempDir()
	if err := h.run(t, "", "keygen", "--out", keys); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	publicText, err := os.ReadFile(filepath.Join(keys, "release-signing-key.pub"))
	if err != nil {
		t.Fatalf("reading public key: %v", err)
	}
	public, err := artifact.ParsePublicKey(string(publicText))
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}

	tarball := filepath.Join(t.TempDir(), "puppyagent-linux-amd64-1.1.0.tar.gz")
	if err := os.WriteFile(tarball, []byte("release bytes"), 0o644); err != nil {
		t.Fatalf("writing tarball: %v", err)
	}
	if err := h.run(t, "", "sign", "--key", filepath.Join(keys, "release-signing-key"), tarball); err != nil {
		t.Fatalf("sign: %v", err)
	}

	checksum, err := os.ReadFile(tarball + ".sha256")
	if err != nil {
		t.Fatalf("reading checksum: %v", err)
	}
	digest, err := artifact.ParseChecksum(checksum, filepath.Base(tarball))
	if err != nil {
		t.Fatalf("ParseChecksum: %v", err)
	}
	signatureText, err := os.ReadFile(tarball + ".sig")
	if err != nil {
		t.Fatalf("reading signature: %v", err)
	}
	signature, err := artifact.ParseSignature(signatureText)
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	verifier, err := artifact.NewVerifier(public, 0)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := verifier.VerifyFile(tarball, digest, signature); err != nil {
		t.Fatalf("signed tarball does not verify: %v", err)
	}

	if err := h.run(t, "", "sign", tarball); err == nil || !strings.Contains(err.Error(), "--key") {
		t.Errorf("sign without --key = %v", err)
	}
}

func TestUpdateRefusesWhileStateLocked(t *testing.T) {
	h := newHarness(t, "")
	cfg, err := config.LoadFile(h.configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	lock, err := statelock.Acquire(cfg.LockPath())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	err = h.run(t, "", "update")
	if !errors.Is(err, statelock.ErrHeld) {
		t.Fatalf("update while locked = %v, want ErrHeld", err)
	}
}

func TestUpdateRequiresReleaseKey(t *testing.T) {
	if version.ReleaseKey != "" {
		t.Skip("binary built with a release key")
	}
	h := newHarness(t, "")
	err := h.run(t, "", "update")
	if err == nil || !strings.Contains(err.Error(), "release public key") {
		t.Fatalf("update without a key = %v", err)
	}
}
