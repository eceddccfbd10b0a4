// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/puppypeer/puppyagent/lib/binhash"
	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/metrics"
	"github.com/puppypeer/puppyagent/lib/release"
	"github.com/puppypeer/puppyagent/lib/staging"
)

// DefaultHealthTimeout bounds the wait for a health report.
const DefaultHealthTimeout = 2 * time.Minute

// DefaultJournalMaxAge is how old an activation journal may be and
// still be resolved at startup.
const DefaultJournalMaxAge = 24 * time.Hour

// maxFinishedJobs bounds the terminal jobs kept for status queries.
const maxFinishedJobs = 64

// Releases resolves and fetches releases. *release.Source implements
// it.
type Releases interface {
	ByTag(ctx context.Context, tag string) (release.Release, error)
	Latest(ctx context.Context, channel release.Channel) (release.Release, error)
	Download(ctx context.Context, target release.Release, dir string, progress release.ProgressFunc) (release.Fetched, error)
}

// Installer manages installed versions. *activation.Layout implements
// it.
type Installer interface {
	Install(ctx context.Context, tarball, version string) error
	Activate(version string) (previous string, err error)
	// Restore points current at version without recording the
	// replaced version as previous.
	Restore(version string) error
	Current() (string, error)
	Previous() (string, error)
	Installed(version string) bool
	CurrentBinary() string
}

// Verifier checks artifacts. *artifact.Verifier implements it.
type Verifier interface {
	VerifyFile(path string, expected binhash.Digest, signature []byte) error
}

// Guard re-checks the caller's permission before a job swaps.
type Guard = func(ctx context.Context) error

// Config holds an Orchestrator's collaborators.
type Config struct {
	Releases   Releases
	Installer  Installer
	Verifier   Verifier
	Supervisor Supervisor

	// RunningVersion is the version of this process.
	RunningVersion string

	// DownloadDir holds tarballs between fetch and install.
	DownloadDir string

	// JournalPath is the activation journal file.
	JournalPath string

	HealthTimeout time.Duration
	JournalMaxAge time.Duration

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// Request starts a network update.
type Request struct {
	// Version is an explicit tag; empty resolves the latest release on
	// Channel.
	Version string
	Channel string

	// Force allows reinstalling or downgrading.
	Force bool
}

// Check is the result of CheckUpdate.
type Check struct {
	Current   string
	Latest    string
	Available bool
	NotesURL  string
}

// Orchestrator runs update jobs. It is safe for concurrent use.
type Orchestrator struct {
	releases   Releases
	installer  Installer
	verifier   Verifier
	supervisor Supervisor

	runningVersion string
	downloadDir    string
	journalPath    string
	healthTimeout  time.Duration
	journalMaxAge  time.Duration

	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	jobs     map[string]*job
	finished []string
	active   *job

	// unhealthy maps versions that failed their health check in this
	// process to the reported reason.
	unhealthy map[string]string
}

// New validates config and returns an idle Orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Installer == nil || config.Verifier == nil || config.Supervisor == nil {
		return nil, fmt.Errorf("update: Installer, Verifier, and Supervisor are required")
	}
	if config.JournalPath == "" || config.DownloadDir == "" {
		return nil, fmt.Errorf("update: JournalPath and DownloadDir are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		releases:       config.Releases,
		installer:      config.Installer,
		verifier:       config.Verifier,
		supervisor:     config.Supervisor,
		runningVersion: config.RunningVersion,
		downloadDir:    config.DownloadDir,
		journalPath:    config.JournalPath,
		healthTimeout:  config.HealthTimeout,
		journalMaxAge:  config.JournalMaxAge,
		clock:          config.Clock,
		logger:         config.Logger,
		metrics:        config.Metrics,
		ctx:            ctx,
		cancel:         cancel,
		jobs:           make(map[string]*job),
		unhealthy:      make(map[string]string),
	}
	if o.healthTimeout <= 0 {
		o.healthTimeout = DefaultHealthTimeout
	}
	if o.journalMaxAge <= 0 {
		o.journalMaxAge = DefaultJournalMaxAge
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.metrics == nil {
		o.metrics = metrics.Noop{}
	}
	return o, nil
}

// Close stops running jobs and waits for their goroutines. A job
// waiting for its health report is left non-terminal; its journal lets
// the next process resolve it.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// CurrentVersion is the active version: the current version link if
// set, otherwise the running binary's version.
func (o *Orchestrator) CurrentVersion() string {
	if current, err := o.installer.Current(); err == nil && current != "" {
		return current
	}
	return o.runningVersion
}

// CheckUpdate compares the latest release on channel with the current
// version.
func (o *Orchestrator) CheckUpdate(ctx context.Context, channel string) (Check, error) {
	if o.releases == nil {
		return Check{}, fault.New(fault.NotFound, "no release source is configured")
	}
	parsed, err := release.ParseChannel(channel)
	if err != nil {
		return Check{}, err
	}
	current := o.CurrentVersion()
	latest, err := o.releases.Latest(ctx, parsed)
	if err != nil {
		return Check{}, err
	}
	return Check{
		Current:   current,
		Latest:    latest.Version,
		Available: release.Newer(latest.Version, current),
		NotesURL:  latest.NotesURL,
	}, nil
}

// Status returns a job snapshot.
func (o *Orchestrator) Status(id string) (Snapshot, error) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, fault.New(fault.NotFound, "update job %q", id)
	}
	return j.view(), nil
}

// Done returns a channel closed when the job reaches a terminal status.
func (o *Orchestrator) Done(id string) (<-chan struct{}, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return nil, fault.New(fault.NotFound, "update job %q", id)
	}
	return j.done, nil
}

// Active returns the non-terminal job, if any.
func (o *Orchestrator) Active() (Snapshot, bool) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if active == nil {
		return Snapshot{}, false
	}
	return active.view(), true
}

// claim registers a new job in the active slot.
func (o *Orchestrator) claim(kind Kind) (*job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, fault.New(fault.Conflict, "update job %s is still %s", o.active.snapshot.ID, o.active.status())
	}
	j := newJob(uuid.NewString(), kind, o.clock.Now())
	o.jobs[j.snapshot.ID] = j
	o.active = j
	return j, nil
}

// drop forgets a job that never started.
func (o *Orchestrator) drop(j *job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.jobs, j.snapshot.ID)
	if o.active == j {
		o.active = nil
	}
}

// advance moves a job to a non-terminal status.
func (o *Orchestrator) advance(j *job, next Status, message string) {
	if !j.transition(next, o.clock.Now(), message) {
		o.logger.Warn("ignored invalid job transition", "job_id", j.snapshot.ID, "to", next)
		return
	}
	o.logger.Info("update job advanced", "job_id", j.snapshot.ID, "status", next)
}

// finish moves a job to a terminal status and frees the active slot.
func (o *Orchestrator) finish(j *job, status Status, message string, cause error) {
	if cause != nil && message == "" {
		message = cause.Error()
		var classified *fault.Error
		if errors.As(cause, &classified) {
			message = classified.Message
		}
	}
	if !j.settle(status, o.clock.Now(), message, cause) {
		return
	}

	o.mu.Lock()
	if o.active == j {
		o.active = nil
	}
	o.finished = append(o.finished, j.snapshot.ID)
	for len(o.finished) > maxFinishedJobs {
		delete(o.jobs, o.finished[0])
		o.finished = o.finished[1:]
	}
	o.mu.Unlock()

	snapshot := j.view()
	o.metrics.IncJobFinished(string(snapshot.Kind), string(status))
	if status == Success {
		o.logger.Info("update job finished", "job_id", snapshot.ID, "kind", snapshot.Kind, "target", snapshot.Target, "status", status)
	} else {
		o.logger.Error("update job failed", "job_id", snapshot.ID, "kind", snapshot.Kind, "target", snapshot.Target, "status", status, "message", message, "error", cause)
	}
}

// UpdateVersion resolves a release and starts a job fetching it. The
// returned snapshot names the resolved target.
func (o *Orchestrator) UpdateVersion(ctx context.Context, request Request, guard Guard) (Snapshot, error) {
	if o.releases == nil {
		return Snapshot{}, fault.New(fault.NotFound, "no release source is configured")
	}
	channel, err := release.ParseChannel(request.Channel)
	if err != nil {
		return Snapshot{}, err
	}
	j, err := o.claim(KindUpdate)
	if err != nil {
		return Snapshot{}, err
	}

	var target release.Release
	if request.Version != "" {
		target, err = o.releases.ByTag(ctx, request.Version)
	} else {
		target, err = o.releases.Latest(ctx, channel)
	}
	if err != nil {
		o.drop(j)
		return Snapshot{}, err
	}

	current := o.CurrentVersion()
	if !request.Force {
		if release.Same(target.Version, current) {
			o.drop(j)
			return Snapshot{}, fault.New(fault.Validation, "version %s is already active", current)
		}
		if request.Version == "" && !release.Newer(target.Version, current) {
			o.drop(j)
			return Snapshot{}, fault.New(fault.Validation, "no %s release newer than %s (latest is %s)", channel, current, target.Version)
		}
	}

	j.set(func(s *Snapshot) {
		s.Target = target.Version
		s.Channel = string(channel)
		s.PreviousVersion = current
	})
	o.logger.Info("update job started", "job_id", j.snapshot.ID, "target", target.Version, "current", current)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runFetch(j, target, guard)
	}()
	return j.view(), nil
}

// ApplyUpload verifies a fully staged upload and starts a job swapping
// to it. A verification failure records the job in error, discards the
// artifact, and returns the failure.
func (o *Orchestrator) ApplyUpload(ctx context.Context, take func() (staging.Artifact, error), guard Guard) (Snapshot, error) {
	j, err := o.claim(KindUpload)
	if err != nil {
		return Snapshot{}, err
	}
	staged, err := take()
	if err != nil {
		o.drop(j)
		return Snapshot{}, err
	}

	version := release.Canonical(staged.Version)
	current := o.CurrentVersion()
	j.set(func(s *Snapshot) {
		s.Target = version
		s.PreviousVersion = current
		s.BytesFetched = staged.Size
		s.Percent = 100
	})
	o.advance(j, Receiving, fmt.Sprintf("received %d bytes as upload %s", staged.Size, staged.UploadID))
	o.advance(j, Verifying, "")

	if err := o.verifier.VerifyFile(staged.Path, staged.SHA256, staged.Signature); err != nil {
		if discardErr := staged.Discard(); discardErr != nil {
			o.logger.Warn("discarding rejected upload", "upload_id", staged.UploadID, "error", discardErr)
		}
		o.finish(j, Error, "", err)
		return j.view(), fmt.Errorf("job %s: %w", j.snapshot.ID, err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer staged.Discard()
		o.runSwap(j, staged.Path, version, current, guard)
	}()
	return j.view(), nil
}

// Rollback starts a job reactivating the previous version.
func (o *Orchestrator) Rollback(ctx context.Context, guard Guard) (Snapshot, error) {
	j, err := o.claim(KindRollback)
	if err != nil {
		return Snapshot{}, err
	}
	previous, err := o.installer.Previous()
	if err != nil {
		o.drop(j)
		return Snapshot{}, err
	}
	if previous == "" || !o.installer.Installed(previous) {
		o.drop(j)
		return Snapshot{}, fault.New(fault.NotFound, "no previous version to roll back to")
	}
	o.mu.Lock()
	reason, failed := o.unhealthy[previous]
	o.mu.Unlock()
	if failed {
		o.drop(j)
		return Snapshot{}, fault.New(fault.Conflict, "version %s failed its health check: %s", previous, reason)
	}
	current := o.CurrentVersion()
	j.set(func(s *Snapshot) {
		s.Target = previous
		s.PreviousVersion = current
	})
	o.logger.Info("rollback job started", "job_id", j.snapshot.ID, "target", previous, "current", current)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runRollback(j, previous, guard)
	}()
	return j.view(), nil
}

// ReportHealth delivers a health outcome for a job in health_checking.
func (o *Orchestrator) ReportHealth(id string, healthy bool, message string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return fault.New(fault.NotFound, "update job %q", id)
	}
	if status := j.status(); status != HealthChecking {
		return fault.New(fault.Conflict, "update job %s is %s, not awaiting a health report", id, status)
	}
	select {
	case j.health <- healthReport{healthy: healthy, message: message}:
		return nil
	default:
		return fault.New(fault.Conflict, "update job %s already has a health report", id)
	}
}

// classify gives unclassified errors a fault kind for job records.
func classify(err error, kind fault.Kind, format string, args ...any) error {
	var classified *fault.Error
	if errors.As(err, &classified) || errors.Is(err, context.Canceled) {
		return err
	}
	return fault.Wrap(kind, err, format, args...)
}

