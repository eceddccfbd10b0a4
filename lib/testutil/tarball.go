// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"archive/tar"
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/puppypeer/puppyagent/lib/binhash"
)

// Entry is one member of a test archive. A nil Data with Dir false
// still produces an empty regular file.
type Entry struct {
	Name     string
	Data     []byte
	Mode     int64
	Dir      bool
	Typeflag byte
	Linkname string
}

// Tarball returns a gzip-compressed tar holding entries in order.
func Tarball(t TB, entries ...Entry) []byte {
	t.Helper()
	var buffer bytes.Buffer
	compressor := gzip.NewWriter(&buffer)
	archive := tar.NewWriter(compressor)
	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.Name,
			Mode:     entry.Mode,
			Size:     int64(len(entry.Data)),
			Typeflag: tar.TypeReg,
			Linkname: entry.Linkname,
		}
		if header.Mode == 0 {
			header.Mode = 0o644
		}
		if entry.Dir {
			header.Typeflag = tar.TypeDir
			header.Size = 0
			header.Mode = 0o755
		}
		if entry.Typeflag != 0 {
			header.Typeflag = entry.Typeflag
			header.Size = 0
		}
		if err := archive.WriteHeader(header); err != nil {
			t.Fatalf("writing tar header %s: %v", entry.Name, err)
		}
		if header.Size > 0 {
			if _, err := archive.Write(entry.Data); err != nil {
				t.Fatalf("writing tar entry %s: %v", entry.Name, err)
			}
		}
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	if err := compressor.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buffer.Bytes()
}

// ReleaseTarball returns a minimal valid release archive: an
// executable "puppyagent" whose content names version, plus any extra
// files in name order.
func ReleaseTarball(t TB, version string, extra map[string]string) []byte {
	t.Helper()
	entries := []Entry{{Name: "puppyagent", Data: []byte("#!/bin/sh\necho " + version + "\n"), Mode: 0o755}}
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Data: []byte(extra[name])})
	}
	return Tarball(t, entries...)
}

// Signed is a release archive written to disk with its declared digest
// and detached signature.
type Signed struct {
	Path      string
	Data      []byte
	SHA256    binhash.Digest
	Signature []byte
}

// SignedTarball writes a release archive for version into dir and signs
// it with private.
func SignedTarball(t *testing.T, dir, version string, private ed25519.PrivateKey) Signed {
	t.Helper()
	data := ReleaseTarball(t, version, nil)
	path := filepath.Join(dir, "puppyagent-test-"+version+".tar.gz")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing tarball: %v", err)
	}
	return Signed{
		Path:      path,
		Data:      data,
		SHA256:    binhash.Sum(data),
		Signature: ed25519.Sign(private, data),
	}
}
