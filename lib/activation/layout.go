// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/watchdog"
)

// BinaryName is the executable every release tarball must contain at
// its root.
const BinaryName = "puppyagent"

const (
	versionsDir  = "versions"
	currentLink  = "current"
	previousLink = "previous"
)

// Layout is an install root. Methods are not safe for concurrent
// mutation; the update orchestrator's single active job serializes
// them.
type Layout struct {
	root   string
	logger *slog.Logger

	// maxUnpacked bounds the total bytes extracted from one tarball.
	maxUnpacked int64
}

// Open prepares root, creating versions/ if needed. Leftover temporary
// directories from an interrupted unpack are removed.
func Open(root string, maxUnpacked int64, logger *slog.Logger) (*Layout, error) {
	if root == "" {
		return nil, fmt.Errorf("activation: install root is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if maxUnpacked <= 0 {
		maxUnpacked = 2 << 30
	}
	versions := filepath.Join(root, versionsDir)
	if err := os.MkdirAll(versions, 0o755); err != nil {
		return nil, fmt.Errorf("activation: creating %s: %w", versions, err)
	}
	entries, err := os.ReadDir(versions)
	if err != nil {
		return nil, fmt.Errorf("activation: reading %s: %w", versions, err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			os.RemoveAll(filepath.Join(versions, entry.Name()))
		}
	}
	return &Layout{root: root, logger: logger, maxUnpacked: maxUnpacked}, nil
}

// Root returns the install root.
func (l *Layout) Root() string { return l.root }

// Dir returns the directory of an installed version.
func (l *Layout) Dir(version string) string {
	return filepath.Join(l.root, versionsDir, version)
}

// Binary returns the executable path of an installed version.
func (l *Layout) Binary(version string) string {
	return filepath.Join(l.Dir(version), BinaryName)
}

// CurrentBinary is the executable path through the indirection, the
// path a supervisor should launch.
func (l *Layout) CurrentBinary() string {
	return filepath.Join(l.root, currentLink, BinaryName)
}

// validVersion rejects version strings that are not a single safe path
// component.
func validVersion(version string) error {
	if version == "" || version == "." || version == ".." ||
		strings.ContainsAny(version, `/\`) || strings.HasPrefix(version, ".") {
		return fault.New(fault.Validation, "invalid version directory name %q", version)
	}
	return nil
}

// Installed reports whether version has a directory with a binary.
func (l *Layout) Installed(version string) bool {
	if validVersion(version) != nil {
		return false
	}
	info, err := os.Stat(l.Binary(version))
	return err == nil && info.Mode().IsRegular()
}

// Versions lists installed versions in name order.
func (l *Layout) Versions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, versionsDir))
	if err != nil {
		return nil, fault.Wrap(fault.InternalIO, err, "listing installed versions")
	}
	var versions []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Current returns the active version, or "" if nothing is active.
func (l *Layout) Current() (string, error) {
	return l.readLink(currentLink)
}

// Previous returns the version that was active before the last
// activation, or "" if there was none.
func (l *Layout) Previous() (string, error) {
	return l.readLink(previousLink)
}

func (l *Layout) readLink(name string) (string, error) {
	target, err := os.Readlink(filepath.Join(l.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fault.Wrap(fault.InternalIO, err, "reading %s version link", name)
	}
	return filepath.Base(target), nil
}

// swapLink atomically points the link name at versions/version by
// renaming a fresh symlink over it.
func (l *Layout) swapLink(name, version string) error {
	temporary := filepath.Join(l.root, fmt.Sprintf(".%s.%d.tmp", name, os.Getpid()))
	os.Remove(temporary)
	if err := os.Symlink(filepath.Join(versionsDir, version), temporary); err != nil {
		return fault.Wrap(fault.InternalIO, err, "creating %s version link", name)
	}
	if err := os.Rename(temporary, filepath.Join(l.root, name)); err != nil {
		os.Remove(temporary)
		return fault.Wrap(fault.InternalIO, err, "swapping %s version link", name)
	}
	return nil
}

// Activate atomically points current at version and returns the
// version it pointed at before ("" if none). The old version is
// recorded as previous first, so a crash between the two renames
// leaves previous naming a still-valid rollback target.
func (l *Layout) Activate(version string) (previous string, err error) {
	if err := validVersion(version); err != nil {
		return "", err
	}
	if !l.Installed(version) {
		return "", fault.New(fault.NotFound, "version %s is not installed", version)
	}
	previous, err = l.Current()
	if err != nil {
		return "", err
	}
	if previous != "" && previous != version {
		if err := l.swapLink(previousLink, previous); err != nil {
			return "", err
		}
	}
	if err := l.swapLink(currentLink, version); err != nil {
		return "", err
	}
	watchdog.SyncDir(l.root)

	l.logger.Info("activated version", "version", version, "previous", previous)
	return previous, nil
}

// Restore points current back at version after a failed activation
// and removes the previous link. Unlike Activate it never records the
// version being replaced, so the failed build cannot become a rollback
// target.
func (l *Layout) Restore(version string) error {
	if err := validVersion(version); err != nil {
		return err
	}
	if !l.Installed(version) {
		return fault.New(fault.NotFound, "version %s is not installed", version)
	}
	if err := l.swapLink(currentLink, version); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.root, previousLink)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.Wrap(fault.InternalIO, err, "removing previous version link")
	}
	watchdog.SyncDir(l.root)

	l.logger.Info("restored version", "version", version)
	return nil
}

// Remove deletes an installed version. The active version cannot be
// removed.
func (l *Layout) Remove(version string) error {
	if err := validVersion(version); err != nil {
		return err
	}
	current, err := l.Current()
	if err != nil {
		return err
	}
	if current == version {
		return fault.New(fault.Conflict, "version %s is active", version)
	}
	if previous, _ := l.Previous(); previous == version {
		return fault.New(fault.Conflict, "version %s is the rollback target", version)
	}
	if err := os.RemoveAll(l.Dir(version)); err != nil {
		return fault.Wrap(fault.InternalIO, err, "removing version %s", version)
	}
	return nil
}

// Prune removes installed versions other than the current and
// previous ones and those in keep.
func (l *Layout) Prune(keep ...string) (removed []string, err error) {
	versions, err := l.Versions()
	if err != nil {
		return nil, err
	}
	current, err := l.Current()
	if err != nil {
		return nil, err
	}
	previous, err := l.Previous()
	if err != nil {
		return nil, err
	}
	for _, version := range versions {
		if version == current || version == previous || slices.Contains(keep, version) {
			continue
		}
		if err := l.Remove(version); err != nil {
			return removed, err
		}
		removed = append(removed, version)
	}
	return removed, nil
}
