// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/puppypeer/puppyagent/lib/codec"
)

// State is the journal of one activation.
type State struct {
	JobID string `cbor:"1,keyasint"`

	// Kind is "update" or "rollback".
	Kind string `cbor:"2,keyasint"`

	PreviousVersion string `cbor:"3,keyasint"`
	NewVersion      string `cbor:"4,keyasint"`

	// StartedAt is when the job was created; Timestamp is when the swap
	// happened.
	StartedAt time.Time `cbor:"5,keyasint"`
	Timestamp time.Time `cbor:"6,keyasint"`
}

// Write atomically replaces the state file at path with mode 0600. The
// parent directory must exist.
func Write(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding activation journal: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary journal file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary journal file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary journal file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary journal file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming journal file into place: %w", err)
	}
	SyncDir(filepath.Dir(path))
	return nil
}

// SyncDir fsyncs a directory so a preceding rename in it is durable.
// Errors are ignored; not every filesystem supports directory sync.
func SyncDir(path string) {
	directory, err := os.Open(path)
	if err != nil {
		return
	}
	directory.Sync()
	directory.Close()
}

// Read parses the state file. A missing file yields an error wrapping
// fs.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing activation journal %s: %w", path, err)
	}
	return state, nil
}

// Check returns the state and true if the file exists and its Timestamp
// is within maxAge of now. A missing or stale file yields false and no
// error; other failures are returned.
func Check(path string, maxAge time.Duration, now time.Time) (State, bool, error) {
	state, err := Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	if now.Sub(state.Timestamp) > maxAge {
		return State{}, false, nil
	}
	return state, true, nil
}

// Clear removes the state file. Idempotent.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing activation journal: %w", err)
	}
	return nil
}
