// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/puppypeer/puppyagent/lib/fault"
)

// Install unpacks the tar.gz at tarball into the directory for version.
// If the version is already installed it is replaced, except when it
// is the active version, which fails with Conflict. The tarball must
// contain BinaryName at its root.
func (l *Layout) Install(ctx context.Context, tarball, version string) error {
	if err := validVersion(version); err != nil {
		return err
	}
	current, err := l.Current()
	if err != nil {
		return err
	}
	if current == version {
		return fault.New(fault.Conflict, "version %s is active and cannot be reinstalled in place", version)
	}

	staging, err := os.MkdirTemp(filepath.Join(l.root, versionsDir), "."+version+".staging-")
	if err != nil {
		return fault.Wrap(fault.InternalIO, err, "creating unpack directory")
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()
	if err := os.Chmod(staging, 0o755); err != nil {
		return fault.Wrap(fault.InternalIO, err, "preparing unpack directory")
	}

	if err := l.unpack(ctx, tarball, staging); err != nil {
		return err
	}
	info, err := os.Stat(filepath.Join(staging, BinaryName))
	if err != nil || !info.Mode().IsRegular() {
		return fault.New(fault.Validation, "release archive has no %s binary at its root", BinaryName)
	}

	final := l.Dir(version)
	if err := os.RemoveAll(final); err != nil {
		return fault.Wrap(fault.InternalIO, err, "removing previous copy of %s", version)
	}
	if err := os.Rename(staging, final); err != nil {
		return fault.Wrap(fault.InternalIO, err, "moving %s into place", version)
	}
	committed = true
	l.logger.Info("installed version", "version", version, "dir", final)
	return nil
}

func (l *Layout) unpack(ctx context.Context, tarball, destination string) error {
	file, err := os.Open(tarball)
	if err != nil {
		return fault.Wrap(fault.InternalIO, err, "opening release archive")
	}
	defer file.Close()

	decompressor, err := gzip.NewReader(file)
	if err != nil {
		return fault.Wrap(fault.Validation, err, "release archive is not gzip")
	}
	defer decompressor.Close()

	reader := tar.NewReader(decompressor)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fault.Wrap(fault.Validation, err, "reading release archive")
		}

		name, err := entryPath(header.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		target := filepath.Join(destination, filepath.FromSlash(name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fault.Wrap(fault.InternalIO, err, "creating %s", name)
			}
		case tar.TypeReg:
			total += header.Size
			if header.Size < 0 || total > l.maxUnpacked {
				return fault.New(fault.Validation, "release archive expands past %d bytes", l.maxUnpacked)
			}
			if err := writeEntry(reader, target, header); err != nil {
				return err
			}
		default:
			return fault.New(fault.Validation, "release archive entry %s has unsupported type %q", header.Name, string(header.Typeflag))
		}
	}
}

// entryPath cleans a tar entry name and rejects anything escaping the
// destination. "" means the archive root itself.
func entryPath(name string) (string, error) {
	if strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", fault.New(fault.Validation, "release archive entry %q has an absolute or foreign path", name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fault.New(fault.Validation, "release archive entry %q escapes the version directory", name)
	}
	return cleaned, nil
}

func writeEntry(reader io.Reader, target string, header *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fault.Wrap(fault.InternalIO, err, "creating parent of %s", header.Name)
	}
	mode := os.FileMode(0o644)
	if header.Mode&0o111 != 0 {
		mode = 0o755
	}
	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fault.Wrap(fault.Validation, err, "release archive entry %s", header.Name)
	}
	written, err := io.CopyN(file, reader, header.Size)
	if err != nil {
		file.Close()
		return fault.Wrap(fault.Validation, err, "extracting %s (%d of %d bytes)", header.Name, written, header.Size)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fault.Wrap(fault.InternalIO, err, "syncing %s", header.Name)
	}
	if err := file.Close(); err != nil {
		return fault.Wrap(fault.InternalIO, err, "closing %s", header.Name)
	}
	return nil
}
