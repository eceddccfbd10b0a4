// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/puppypeer/puppyagent/lib/artifact"
	"github.com/puppypeer/puppyagent/lib/binhash"
	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/github"
)

// maxSidecarSize bounds checksum and signature downloads.
const maxSidecarSize = 64 << 10

// maxListPages bounds how far back channel resolution looks.
const maxListPages = 4

// Release is a resolved release for one target.
type Release struct {
	Tag        string
	Version    string
	Prerelease bool
	NotesURL   string

	Tarball   github.Asset
	Checksum  github.Asset
	Signature github.Asset
}

// Fetched is a downloaded release: the tarball on disk plus the parsed
// sidecars.
type Fetched struct {
	Release   Release
	Path      string
	SHA256    binhash.Digest
	Signature []byte
}

// Config holds the parameters for a Source.
type Config struct {
	Client *github.Client

	// Repository is "owner/name".
	Repository string

	// Target defaults to DefaultTarget().
	Target string

	// MaxSize bounds the tarball download. Zero means no bound.
	MaxSize int64

	Clock  clock.Clock
	Logger *slog.Logger
}

// Source resolves and downloads releases from a GitHub repository.
type Source struct {
	client  *github.Client
	owner   string
	repo    string
	target  string
	maxSize int64
	clock   clock.Clock
	logger  *slog.Logger
}

// NewSource validates config and returns a Source.
func NewSource(config Config) (*Source, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("release: Client is required")
	}
	owner, repo, ok := strings.Cut(config.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("release: repository must be owner/name, got %q", config.Repository)
	}
	source := &Source{
		client:  config.Client,
		owner:   owner,
		repo:    repo,
		target:  config.Target,
		maxSize: config.MaxSize,
		clock:   config.Clock,
		logger:  config.Logger,
	}
	if source.target == "" {
		source.target = DefaultTarget()
	}
	if source.clock == nil {
		source.clock = clock.Real()
	}
	if source.logger == nil {
		source.logger = slog.New(slog.DiscardHandler)
	}
	return source, nil
}

// Target returns the configured target.
func (s *Source) Target() string { return s.target }

// ByTag resolves an explicit release. The tag may be given with or
// without a leading "v"; both spellings are tried.
func (s *Source) ByTag(ctx context.Context, tag string) (Release, error) {
	if _, err := ParseVersion(tag); err != nil {
		return Release{}, err
	}
	candidates := []string{tag}
	if strings.HasPrefix(tag, "v") {
		candidates = append(candidates, strings.TrimPrefix(tag, "v"))
	} else {
		candidates = append(candidates, "v"+tag)
	}

	var lastErr error
	for _, candidate := range candidates {
		found, err := s.client.GetReleaseByTag(ctx, s.owner, s.repo, candidate)
		if err == nil {
			return s.resolve(found)
		}
		if !github.IsNotFound(err) {
			return Release{}, fault.Wrap(fault.InternalIO, err, "looking up release %s", tag)
		}
		lastErr = err
	}
	return Release{}, fault.Wrap(fault.NotFound, lastErr, "release %s", tag)
}

// Latest resolves the greatest version available on channel.
func (s *Source) Latest(ctx context.Context, channel Channel) (Release, error) {
	all, err := s.client.ListReleases(s.owner, s.repo).Collect(ctx, maxListPages)
	if err != nil {
		return Release{}, fault.Wrap(fault.InternalIO, err, "listing releases of %s/%s", s.owner, s.repo)
	}

	var best Release
	var bestVersion *goversion.Version
	for index := range all {
		candidate := &all[index]
		if candidate.Draft {
			continue
		}
		parsed, err := ParseVersion(candidate.TagName)
		if err != nil {
			s.logger.Debug("skipping release with non-semver tag", "tag", candidate.TagName)
			continue
		}
		prerelease := candidate.Prerelease || parsed.Prerelease() != ""
		if prerelease && channel != Prerelease {
			continue
		}
		if bestVersion != nil && !parsed.GreaterThan(bestVersion) {
			continue
		}
		resolved, err := s.resolve(candidate)
		if err != nil {
			s.logger.Debug("skipping release", "tag", candidate.TagName, "error", err)
			continue
		}
		best, bestVersion = resolved, parsed
	}
	if bestVersion == nil {
		return Release{}, fault.New(fault.NotFound, "no %s release of %s/%s for %s", channel, s.owner, s.repo, s.target)
	}
	return best, nil
}

func (s *Source) resolve(found *github.Release) (Release, error) {
	parsed, err := ParseVersion(found.TagName)
	if err != nil {
		return Release{}, err
	}
	name := AssetName(s.target, found.TagName)
	tarball, ok := found.FindAsset(name)
	if !ok {
		return Release{}, fault.New(fault.NotFound, "release %s has no asset %s", found.TagName, name)
	}
	checksum, ok := found.FindAsset(name + ChecksumSuffix)
	if !ok {
		return Release{}, fault.New(fault.NotFound, "release %s has no asset %s", found.TagName, name+ChecksumSuffix)
	}
	signature, ok := found.FindAsset(name + SignatureSuffix)
	if !ok {
		return Release{}, fault.New(fault.NotFound, "release %s has no asset %s", found.TagName, name+SignatureSuffix)
	}
	return Release{
		Tag:        found.TagName,
		Version:    parsed.String(),
		Prerelease: found.Prerelease || parsed.Prerelease() != "",
		NotesURL:   found.HTMLURL,
		Tarball:    tarball,
		Checksum:   checksum,
		Signature:  signature,
	}, nil
}

// Download fetches the sidecars and streams the tarball into dir,
// reporting progress. The returned file belongs to the caller. Nothing
// is verified here.
func (s *Source) Download(ctx context.Context, target Release, dir string, progress ProgressFunc) (Fetched, error) {
	if s.maxSize > 0 && target.Tarball.Size > s.maxSize {
		return Fetched{}, fault.New(fault.Validation, "asset %s is %d bytes, over the %d byte limit", target.Tarball.Name, target.Tarball.Size, s.maxSize)
	}

	checksumData, err := s.fetchSmall(ctx, target.Checksum)
	if err != nil {
		return Fetched{}, err
	}
	digest, err := artifact.ParseChecksum(checksumData, target.Tarball.Name)
	if err != nil {
		return Fetched{}, err
	}
	signatureData, err := s.fetchSmall(ctx, target.Signature)
	if err != nil {
		return Fetched{}, err
	}
	signature, err := artifact.ParseSignature(signatureData)
	if err != nil {
		return Fetched{}, err
	}

	body, length, err := s.client.DownloadAsset(ctx, target.Tarball)
	if err != nil {
		return Fetched{}, fault.Wrap(fault.InternalIO, err, "downloading %s", target.Tarball.Name)
	}
	defer body.Close()

	total := target.Tarball.Size
	if total <= 0 {
		total = length
	}

	file, err := os.CreateTemp(dir, target.Tarball.Name+".*.download")
	if err != nil {
		return Fetched{}, fault.Wrap(fault.InternalIO, err, "creating download file")
	}
	path := file.Name()
	keep := false
	defer func() {
		if !keep {
			os.Remove(path)
		}
	}()

	var reader io.Reader = body
	if s.maxSize > 0 {
		reader = io.LimitReader(body, s.maxSize+1)
	}
	meter := newMeter(s.clock, total, progress)
	written, copyErr := io.Copy(io.MultiWriter(file, meter), reader)
	closeErr := file.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return Fetched{}, ctx.Err()
		}
		return Fetched{}, fault.Wrap(fault.InternalIO, copyErr, "downloading %s", target.Tarball.Name)
	}
	if closeErr != nil {
		return Fetched{}, fault.Wrap(fault.InternalIO, closeErr, "writing %s", target.Tarball.Name)
	}
	if s.maxSize > 0 && written > s.maxSize {
		return Fetched{}, fault.New(fault.Validation, "asset %s exceeds the %d byte limit", target.Tarball.Name, s.maxSize)
	}
	meter.finish()

	s.logger.Info("downloaded release asset",
		"asset", target.Tarball.Name,
		"bytes", written,
	)
	keep = true
	return Fetched{Release: target, Path: path, SHA256: digest, Signature: signature}, nil
}

func (s *Source) fetchSmall(ctx context.Context, asset github.Asset) ([]byte, error) {
	body, _, err := s.client.DownloadAsset(ctx, asset)
	if err != nil {
		return nil, fault.Wrap(fault.InternalIO, err, "downloading %s", asset.Name)
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, maxSidecarSize+1))
	if err != nil {
		return nil, fault.Wrap(fault.InternalIO, err, "reading %s", asset.Name)
	}
	if len(data) > maxSidecarSize {
		return nil, fault.New(fault.Validation, "sidecar %s is implausibly large", asset.Name)
	}
	return data, nil
}
