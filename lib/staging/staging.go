// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/puppypeer/puppyagent/lib/binhash"
	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/fault"
)

// Defaults for Config fields left zero.
const (
	DefaultIdleTimeout = 15 * time.Minute
	DefaultMaxSize     = 512 << 20
	DefaultMaxChunk    = 4 << 20
)

const partSuffix = ".part"

// Config holds the parameters for a Store.
type Config struct {
	// Dir holds staged files. It is created if missing, and leftover
	// files from a previous process are removed.
	Dir string

	IdleTimeout time.Duration
	MaxSize     int64
	MaxChunk    int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Begin is the declared shape of an artifact about to be uploaded.
type Begin struct {
	Target    string
	Version   string
	Size      int64
	SHA256    binhash.Digest
	Signature []byte
}

// Info is a snapshot of an upload session.
type Info struct {
	UploadID  string
	Target    string
	Version   string
	Size      int64
	Offset    int64
	ExpiresAt time.Time
}

// Artifact is a fully received upload, owned by the caller after Take.
type Artifact struct {
	UploadID  string
	Path      string
	Target    string
	Version   string
	Size      int64
	SHA256    binhash.Digest
	Signature []byte
}

// Discard removes the staged file.
func (a Artifact) Discard() error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type upload struct {
	mu sync.Mutex

	id       string
	declared Begin
	path     string
	file     *os.File

	offset       int64
	lastActivity time.Time
	writing      bool
	closed       bool
}

// Store is the upload staging area. It is safe for concurrent use.
type Store struct {
	dir         string
	idleTimeout time.Duration
	maxSize     int64
	maxChunk    int
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.RWMutex
	uploads map[string]*upload
}

// Open prepares the staging directory.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("staging: Dir is required")
	}
	store := &Store{
		dir:         cfg.Dir,
		idleTimeout: cfg.IdleTimeout,
		maxSize:     cfg.MaxSize,
		maxChunk:    cfg.MaxChunk,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		uploads:     make(map[string]*upload),
	}
	if store.idleTimeout <= 0 {
		store.idleTimeout = DefaultIdleTimeout
	}
	if store.maxSize <= 0 {
		store.maxSize = DefaultMaxSize
	}
	if store.maxChunk <= 0 {
		store.maxChunk = DefaultMaxChunk
	}
	if store.clock == nil {
		store.clock = clock.Real()
	}
	if store.logger == nil {
		store.logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("staging: creating %s: %w", cfg.Dir, err)
	}
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("staging: reading %s: %w", cfg.Dir, err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), partSuffix) {
			os.Remove(filepath.Join(cfg.Dir, entry.Name()))
		}
	}
	return store, nil
}

// MaxChunk returns the largest accepted chunk.
func (s *Store) MaxChunk() int { return s.maxChunk }

// Begin opens an upload session at offset 0.
func (s *Store) Begin(request Begin) (Info, error) {
	if request.Size <= 0 {
		return Info{}, fault.New(fault.Validation, "upload size must be positive, got %d", request.Size)
	}
	if request.Size > s.maxSize {
		return Info{}, fault.New(fault.Validation, "upload size %d exceeds the %d byte limit", request.Size, s.maxSize)
	}
	if len(request.Signature) != ed25519.SignatureSize {
		return Info{}, fault.New(fault.Validation, "signature has %d bytes, want %d", len(request.Signature), ed25519.SignatureSize)
	}
	if request.SHA256.IsZero() {
		return Info{}, fault.New(fault.Validation, "sha256 is required")
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+partSuffix)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Info{}, fault.Wrap(fault.InternalIO, err, "creating staging file")
	}

	entry := &upload{
		id:           id,
		declared:     request,
		path:         path,
		file:         file,
		lastActivity: s.clock.Now(),
	}
	s.mu.Lock()
	s.uploads[id] = entry
	s.mu.Unlock()

	s.logger.Info("upload session opened",
		"upload_id", id,
		"target", request.Target,
		"version", request.Version,
		"size", request.Size,
	)
	return s.info(entry), nil
}

func (s *Store) info(entry *upload) Info {
	return Info{
		UploadID:  entry.id,
		Target:    entry.declared.Target,
		Version:   entry.declared.Version,
		Size:      entry.declared.Size,
		Offset:    entry.offset,
		ExpiresAt: entry.lastActivity.Add(s.idleTimeout),
	}
}

// acquire returns the locked upload for id, purging it first if it has
// gone idle. The caller must unlock entry.mu.
func (s *Store) acquire(id string) (*upload, error) {
	s.mu.RLock()
	entry, ok := s.uploads[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fault.New(fault.NotFound, "upload %q", id)
	}

	entry.mu.Lock()
	if entry.closed {
		entry.mu.Unlock()
		return nil, fault.New(fault.NotFound, "upload %q", id)
	}
	if !entry.writing && s.idle(entry) {
		s.closeLocked(entry)
		entry.mu.Unlock()
		s.logger.Info("upload session expired", "upload_id", id)
		return nil, fault.New(fault.Expired, "upload %q expired after %s idle", id, s.idleTimeout)
	}
	return entry, nil
}

func (s *Store) idle(entry *upload) bool {
	return !s.clock.Now().Before(entry.lastActivity.Add(s.idleTimeout))
}

// closeLocked removes entry from the registry and deletes its file.
// entry.mu must be held.
func (s *Store) closeLocked(entry *upload) {
	entry.closed = true
	s.mu.Lock()
	delete(s.uploads, entry.id)
	s.mu.Unlock()
	if entry.file != nil {
		entry.file.Close()
		entry.file = nil
	}
	os.Remove(entry.path)
}

// Append writes data at offset, which must equal the current staged
// offset. Returns the new offset.
func (s *Store) Append(id string, offset int64, data []byte) (int64, error) {
	entry, err := s.acquire(id)
	if err != nil {
		return 0, err
	}
	if entry.writing {
		entry.mu.Unlock()
		return 0, fault.New(fault.Conflict, "upload %q has a chunk in flight", id)
	}
	if offset != entry.offset {
		current := entry.offset
		entry.mu.Unlock()
		return 0, fault.New(fault.OffsetMismatch, "chunk offset %d does not match staged offset %d", offset, current)
	}
	if len(data) == 0 {
		entry.mu.Unlock()
		return 0, fault.New(fault.Validation, "chunk is empty")
	}
	if len(data) > s.maxChunk {
		entry.mu.Unlock()
		return 0, fault.New(fault.Validation, "chunk of %d bytes exceeds the %d byte limit", len(data), s.maxChunk)
	}
	if offset+int64(len(data)) > entry.declared.Size {
		entry.mu.Unlock()
		return 0, fault.New(fault.Validation, "chunk ends at %d, past the declared size %d", offset+int64(len(data)), entry.declared.Size)
	}
	entry.writing = true
	file := entry.file
	entry.mu.Unlock()

	_, writeErr := file.WriteAt(data, offset)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.writing = false
	if entry.closed {
		return 0, fault.New(fault.NotFound, "upload %q was aborted", id)
	}
	if writeErr != nil {
		// Bytes past offset are ignored; the next write overwrites them.
		return 0, fault.Wrap(fault.InternalIO, writeErr, "writing chunk")
	}
	entry.offset += int64(len(data))
	entry.lastActivity = s.clock.Now()
	return entry.offset, nil
}

// Status returns the current snapshot of an upload session.
func (s *Store) Status(id string) (Info, error) {
	entry, err := s.acquire(id)
	if err != nil {
		return Info{}, err
	}
	defer entry.mu.Unlock()
	return s.info(entry), nil
}

// Abort deletes the session and its staged bytes.
func (s *Store) Abort(id string) error {
	s.mu.RLock()
	entry, ok := s.uploads[id]
	s.mu.RUnlock()
	if !ok {
		return fault.New(fault.NotFound, "upload %q", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return fault.New(fault.NotFound, "upload %q", id)
	}
	s.closeLocked(entry)
	s.logger.Info("upload session aborted", "upload_id", id, "offset", entry.offset)
	return nil
}

// Take removes a complete session and hands its file to the caller.
// An incomplete session fails with Validation and is left in place.
func (s *Store) Take(id string) (Artifact, error) {
	entry, err := s.acquire(id)
	if err != nil {
		return Artifact{}, err
	}
	defer entry.mu.Unlock()

	if entry.writing {
		return Artifact{}, fault.New(fault.Conflict, "upload %q has a chunk in flight", id)
	}
	if entry.offset != entry.declared.Size {
		return Artifact{}, fault.New(fault.Validation, "upload %q is incomplete: %d of %d bytes", id, entry.offset, entry.declared.Size)
	}
	if err := entry.file.Sync(); err != nil {
		return Artifact{}, fault.Wrap(fault.InternalIO, err, "syncing staged file")
	}
	if err := entry.file.Close(); err != nil {
		return Artifact{}, fault.Wrap(fault.InternalIO, err, "closing staged file")
	}
	entry.file = nil
	entry.closed = true
	s.mu.Lock()
	delete(s.uploads, id)
	s.mu.Unlock()

	return Artifact{
		UploadID:  id,
		Path:      entry.path,
		Target:    entry.declared.Target,
		Version:   entry.declared.Version,
		Size:      entry.declared.Size,
		SHA256:    entry.declared.SHA256,
		Signature: entry.declared.Signature,
	}, nil
}

// Sweep purges idle sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.RLock()
	candidates := make([]*upload, 0, len(s.uploads))
	for _, entry := range s.uploads {
		candidates = append(candidates, entry)
	}
	s.mu.RUnlock()

	purged := 0
	for _, entry := range candidates {
		entry.mu.Lock()
		if !entry.closed && !entry.writing && s.idle(entry) {
			s.closeLocked(entry)
			purged++
		}
		entry.mu.Unlock()
	}
	if purged > 0 {
		s.logger.Info("purged idle upload sessions", "count", purged)
	}
	return purged
}

// Len returns the number of open sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}
