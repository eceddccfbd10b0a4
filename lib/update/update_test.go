// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/puppypeer/puppyagent/lib/activation"
	"github.com/puppypeer/puppyagent/lib/artifact"
	"github.com/puppypeer/puppyagent/lib/binhash"
	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/github"
	"github.com/puppypeer/puppyagent/lib/release"
	"github.com/puppypeer/puppyagent/lib/staging"
	"github.com/puppypeer/puppyagent/lib/testutil"
	"github.com/puppypeer/puppyagent/lib/watchdog"
)

const waitTimeout = 5 * time.Second

type fakeReleases struct {
	mu       sync.Mutex
	signed   map[string]testutil.Signed
	latest   string
	corrupt  map[string]bool
	download int
}

func (f *fakeReleases) release(version string) release.Release {
	return release.Release{
		Tag:     "v" + version,
		Version: version,
		Tarball: github.Asset{Name: release.AssetName("test", version)},
	}
}

func (f *fakeReleases) ByTag(_ context.Context, tag string) (release.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version := release.Canonical(tag)
	if _, ok := f.signed[version]; !ok {
		return release.Release{}, fault.New(fault.NotFound, "no release %s", tag)
	}
	return f.release(version), nil
}

func (f *fakeReleases) Latest(_ context.Context, _ release.Channel) (release.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == "" {
		return release.Release{}, fault.New(fault.NotFound, "no releases")
	}
	return f.release(f.latest), nil
}

func (f *fakeReleases) Download(_ context.Context, target release.Release, dir string, _ release.ProgressFunc) (release.Fetched, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.download++
	signed := f.signed[target.Version]
	file, err := os.CreateTemp(dir, "*.download")
	if err != nil {
		return release.Fetched{}, err
	}
	defer file.Close()
	if _, err := file.Write(signed.Data); err != nil {
		return release.Fetched{}, err
	}
	digest := signed.SHA256
	if f.corrupt[target.Version] {
		digest = binhash.Sum([]byte("something else"))
	}
	return release.Fetched{Release: target, Path: file.Name(), SHA256: digest, Signature: signed.Signature}, nil
}

// fakeSupervisor records restart intents and answers through behavior.
type fakeSupervisor struct {
	mu       sync.Mutex
	intents  []Intent
	restarts chan Intent
	behavior func(Intent, ReportFunc) error
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{restarts: make(chan Intent, 8)}
}

func (s *fakeSupervisor) Restart(_ context.Context, intent Intent, report ReportFunc) error {
	s.mu.Lock()
	s.intents = append(s.intents, intent)
	behavior := s.behavior
	s.mu.Unlock()
	s.restarts <- intent
	if behavior == nil {
		return nil
	}
	return behavior(intent, report)
}

func (s *fakeSupervisor) setBehavior(behavior func(Intent, ReportFunc) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior = behavior
}

func (s *fakeSupervisor) recorded() []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Intent(nil), s.intents...)
}

func reportHealthy(intent Intent, report ReportFunc) error {
	if report != nil {
		report(true, "")
	}
	return nil
}

func reportUnhealthy(intent Intent, report ReportFunc) error {
	if report != nil {
		report(false, "listener never came up")
	}
	return nil
}

type harness struct {
	orchestrator *Orchestrator
	layout       *activation.Layout
	clock        *clock.FakeClock
	releases     *fakeReleases
	supervisor   *fakeSupervisor
	private      ed25519.PrivateKey
	journal      string
	assets       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	layout, err := activation.Open(filepath.Join(root, "install"), 1<<20, nil)
	if err != nil {
		t.Fatalf("activation.Open: %v", err)
	}
	public, private, err := artifact.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	verifier, err := artifact.NewVerifier(public, 1<<20)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	downloads := filepath.Join(root, "downloads")
	if err := os.MkdirAll(downloads, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	h := &harness{
		layout:     layout,
		clock:      clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		releases:   &fakeReleases{signed: make(map[string]testutil.Signed), corrupt: make(map[string]bool)},
		supervisor: newFakeSupervisor(),
		private:    private,
		journal:    filepath.Join(root, "activation.journal"),
		assets:     t.TempDir(),
	}
	h.installActive(t, "1.0.0")

	h.orchestrator, err = New(Config{
		Releases:       h.releases,
		Installer:      layout,
		Verifier:       verifier,
		Supervisor:     h.supervisor,
		RunningVersion: "1.0.0",
		DownloadDir:    downloads,
		JournalPath:    h.journal,
		HealthTimeout:  time.Minute,
		Clock:          h.clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(h.orchestrator.Close)
	return h
}

func (h *harness) installActive(t *testing.T, version string) {
	t.Helper()
	signed := testutil.SignedTarball(t, h.assets, version, h.private)
	if err := h.layout.Install(context.Background(), signed.Path, version); err != nil {
		t.Fatalf("Install(%s): %v", version, err)
	}
	if _, err := h.layout.Activate(version); err != nil {
		t.Fatalf("Activate(%s): %v", version, err)
	}
}

func (h *harness) publish(t *testing.T, version string) {
	t.Helper()
	h.releases.mu.Lock()
	defer h.releases.mu.Unlock()
	h.releases.signed[version] = testutil.SignedTarball(t, h.assets, version, h.private)
	h.releases.latest = version
}

func (h *harness) wait(t *testing.T, id string) Snapshot {
	t.Helper()
	done, err := h.orchestrator.Done(id)
	if err != nil {
		t.Fatalf("Done(%s): %v", id, err)
	}
	testutil.RequireClosed(t, done, waitTimeout, "job %s finishing", id)
	snapshot, err := h.orchestrator.Status(id)
	if err != nil {
		t.Fatalf("Status(%s): %v", id, err)
	}
	return snapshot
}

func (h *harness) current(t *testing.T) string {
	t.Helper()
	current, err := h.layout.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	return current
}

func statuses(snapshot Snapshot) []Status {
	result := make([]Status, len(snapshot.History))
	for i, transition := range snapshot.History {
		result[i] = transition.Status
	}
	return result
}

func countStatus(snapshot Snapshot, status Status) int {
	count := 0
	for _, transition := range snapshot.History {
		if transition.Status == status {
			count++
		}
	}
	return count
}

func journalExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Stat journal: %v", err)
	}
	return false
}

func TestUpdateVersionSuccess(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.1.0")
	h.supervisor.setBehavior(reportHealthy)

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "v1.1.0"}, nil)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	if started.Target != "1.1.0" || started.PreviousVersion != "1.0.0" {
		t.Errorf("started target=%q previous=%q", started.Target, started.PreviousVersion)
	}

	final := h.wait(t, started.ID)
	if final.Status != Success {
		t.Fatalf("status = %s (%s), want success", final.Status, final.Message)
	}
	want := []Status{Pending, Fetching, Verifying, Swapping, HealthChecking, Success}
	got := statuses(final)
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history = %v, want %v", got, want)
		}
	}
	if final.Percent != 100 {
		t.Errorf("percent = %d, want 100", final.Percent)
	}
	if current := h.current(t); current != "1.1.0" {
		t.Errorf("current = %q, want 1.1.0", current)
	}
	if previous, _ := h.layout.Previous(); previous != "1.0.0" {
		t.Errorf("previous = %q, want 1.0.0", previous)
	}

	intents := h.supervisor.recorded()
	if len(intents) != 1 {
		t.Fatalf("restarts = %d, want 1", len(intents))
	}
	if intents[0].Version != "1.1.0" || intents[0].Previous != "1.0.0" || intents[0].Binary != h.layout.CurrentBinary() {
		t.Errorf("intent = %+v", intents[0])
	}

	h.orchestrator.Close()
	if journalExists(t, h.journal) {
		t.Error("activation journal left after success")
	}
	if _, active := h.orchestrator.Active(); active {
		t.Error("job still active after success")
	}
}

func TestUpdateLatestNotNewer(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.0.0")

	_, err := h.orchestrator.UpdateVersion(context.Background(), Request{}, nil)
	if !errors.Is(err, fault.Validation) {
		t.Fatalf("UpdateVersion = %v, want Validation", err)
	}
	if _, active := h.orchestrator.Active(); active {
		t.Error("rejected request left an active job")
	}
	if h.releases.download != 0 {
		t.Error("rejected request downloaded an artifact")
	}
}

func TestUpdateUnknownChannel(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.UpdateVersion(context.Background(), Request{Channel: "nightly"}, nil)
	if !errors.Is(err, fault.Validation) {
		t.Fatalf("UpdateVersion = %v, want Validation", err)
	}
}

func TestUpdateChecksumMismatch(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.1.0")
	h.releases.corrupt["1.1.0"] = true

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0"}, nil)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	final := h.wait(t, started.ID)
	if final.Status != Error || final.Fault != fault.ChecksumMismatch {
		t.Fatalf("final = %s/%s, want error/ChecksumMismatch", final.Status, final.Fault)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q after rejected artifact", current)
	}
	if h.layout.Installed("1.1.0") {
		t.Error("rejected artifact was installed")
	}
	if len(h.supervisor.recorded()) != 0 {
		t.Error("supervisor restarted for a rejected artifact")
	}
}

func TestUpdateSignatureInvalid(t *testing.T) {
	h := newHarness(t)
	_, foreign, err := artifact.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	h.releases.signed["1.1.0"] = testutil.SignedTarball(t, h.assets, "1.1.0", foreign)

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0"}, nil)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	final := h.wait(t, started.ID)
	if final.Status != Error || final.Fault != fault.SignatureInvalid {
		t.Fatalf("final = %s/%s, want error/SignatureInvalid", final.Status, final.Fault)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q after rejected artifact", current)
	}
}

func TestSecondJobConflicts(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.1.0")

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0"}, nil)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	testutil.RequireReceive(t, h.supervisor.restarts, waitTimeout, "restart into 1.1.0")

	if _, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0", Force: true}, nil); !errors.Is(err, fault.Conflict) {
		t.Fatalf("second UpdateVersion = %v, want Conflict", err)
	}
	if _, err := h.orchestrator.Rollback(context.Background(), nil); !errors.Is(err, fault.Conflict) {
		t.Fatalf("Rollback during update = %v, want Conflict", err)
	}
	active, ok := h.orchestrator.Active()
	if !ok || active.ID != started.ID || active.Status != HealthChecking {
		t.Fatalf("Active = %+v, %v", active, ok)
	}

	if err := h.orchestrator.ReportHealth(started.ID, true, "serving"); err != nil {
		t.Fatalf("ReportHealth: %v", err)
	}
	final := h.wait(t, started.ID)
	if final.Status != Success || final.Message != "serving" {
		t.Fatalf("final = %s %q", final.Status, final.Message)
	}
	if err := h.orchestrator.ReportHealth(started.ID, true, ""); !errors.Is(err, fault.Conflict) {
		t.Errorf("ReportHealth after success = %v, want Conflict", err)
	}
}

func TestHealthFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.1.0")
	h.supervisor.setBehavior(reportUnhealthy)

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0"}, nil)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	final := h.wait(t, started.ID)
	if final.Status != RolledBack {
		t.Fatalf("status = %s (%s), want rolled_back", final.Status, final.Message)
	}
	if !strings.Contains(final.Message, "listener never came up") {
		t.Errorf("message = %q", final.Message)
	}
	if n := countStatus(final, RolledBack); n != 1 {
		t.Errorf("rolled_back appears %d times in history", n)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q, want 1.0.0", current)
	}

	h.orchestrator.Close()
	intents := h.supervisor.recorded()
	if len(intents) != 2 {
		t.Fatalf("restarts = %d, want 2", len(intents))
	}
	if intents[1].Version != "1.0.0" || intents[1].Kind != journalRolledBack {
		t.Errorf("restore intent = %+v", intents[1])
	}
	if journalExists(t, h.journal) {
		t.Error("activation journal left after rollback")
	}
}

func TestRollbackNeverTargetsUnhealthyVersion(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.1.0")
	h.supervisor.setBehavior(reportUnhealthy)

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0"}, nil)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	if final := h.wait(t, started.ID); final.Status != RolledBack {
		t.Fatalf("status = %s (%s), want rolled_back", final.Status, final.Message)
	}
	if previous, _ := h.layout.Previous(); previous == "1.1.0" {
		t.Fatal("failed version recorded as the rollback target")
	}

	if _, err := h.orchestrator.Rollback(context.Background(), nil); !errors.Is(err, fault.NotFound) {
		t.Fatalf("Rollback after automatic rollback = %v, want NotFound", err)
	}

	// Even when the layout is repointed by hand, the version that
	// failed in this process is refused.
	if _, err := h.layout.Activate("1.1.0"); err != nil {
		t.Fatalf("Activate(1.1.0): %v", err)
	}
	if _, err := h.layout.Activate("1.0.0"); err != nil {
		t.Fatalf("Activate(1.0.0): %v", err)
	}
	_, err = h.orchestrator.Rollback(context.Background(), nil)
	if !errors.Is(err, fault.Conflict) {
		t.Fatalf("Rollback onto unhealthy version = %v, want Conflict", err)
	}
	if !strings.Contains(err.Error(), "listener never came up") {
		t.Errorf("error = %q, want the recorded health failure", err)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q, want 1.0.0", current)
	}
	if _, active := h.orchestrator.Active(); active {
		t.Error("refused rollback left an active job")
	}
}

func TestHealthTimeoutRollsBack(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.1.0")

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0"}, nil)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	testutil.RequireReceive(t, h.supervisor.restarts, waitTimeout, "restart into 1.1.0")
	h.clock.WaitForTimers(1)
	h.clock.Advance(time.Minute)

	final := h.wait(t, started.ID)
	if final.Status != RolledBack {
		t.Fatalf("status = %s, want rolled_back", final.Status)
	}
	if !strings.Contains(final.Message, "no health report") {
		t.Errorf("message = %q", final.Message)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q, want 1.0.0", current)
	}
}

func TestGuardDeniesSwap(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.1.0")
	guard := func(context.Context) error {
		return fault.New(fault.PermissionDenied, "session lost can_update")
	}

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0"}, guard)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	final := h.wait(t, started.ID)
	if final.Status != Error || final.Fault != fault.PermissionDenied {
		t.Fatalf("final = %s/%s, want error/PermissionDenied", final.Status, final.Fault)
	}
	if countStatus(final, Swapping) != 0 {
		t.Error("job reached swapping despite the guard")
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q", current)
	}
}

func TestRestartFailureRestoresPrevious(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.1.0")
	h.supervisor.setBehavior(func(Intent, ReportFunc) error {
		return errors.New("exec format error")
	})

	started, err := h.orchestrator.UpdateVersion(context.Background(), Request{Version: "1.1.0"}, nil)
	if err != nil {
		t.Fatalf("UpdateVersion: %v", err)
	}
	final := h.wait(t, started.ID)
	if final.Status != Error || final.Fault != fault.InternalIO {
		t.Fatalf("final = %s/%s, want error/InternalIO", final.Status, final.Fault)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q, want 1.0.0", current)
	}
}

func TestRollbackJob(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orchestrator.Rollback(context.Background(), nil); !errors.Is(err, fault.NotFound) {
		t.Fatalf("Rollback without previous = %v, want NotFound", err)
	}

	h.installActive(t, "1.1.0")
	h.supervisor.setBehavior(reportHealthy)
	started, err := h.orchestrator.Rollback(context.Background(), nil)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if started.Kind != KindRollback || started.Target != "1.0.0" || started.PreviousVersion != "1.1.0" {
		t.Errorf("started = %+v", started)
	}
	final := h.wait(t, started.ID)
	if final.Status != Success {
		t.Fatalf("status = %s (%s)", final.Status, final.Message)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q, want 1.0.0", current)
	}
}

func TestApplyUpload(t *testing.T) {
	h := newHarness(t)
	h.supervisor.setBehavior(reportHealthy)
	store, err := staging.Open(staging.Config{Dir: t.TempDir(), Clock: h.clock})
	if err != nil {
		t.Fatalf("staging.Open: %v", err)
	}
	signed := testutil.SignedTarball(t, h.assets, "1.2.0", h.private)

	info, err := store.Begin(staging.Begin{
		Target:    "test",
		Version:   "1.2.0",
		Size:      int64(len(signed.Data)),
		SHA256:    signed.SHA256,
		Signature: signed.Signature,
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := store.Append(info.UploadID, 0, signed.Data); err != nil {
		t.Fatalf("Append: %v", err)
	}

	started, err := h.orchestrator.ApplyUpload(context.Background(), func() (staging.Artifact, error) {
		return store.Take(info.UploadID)
	}, nil)
	if err != nil {
		t.Fatalf("ApplyUpload: %v", err)
	}
	if started.Kind != KindUpload || started.Target != "1.2.0" {
		t.Errorf("started = %+v", started)
	}
	final := h.wait(t, started.ID)
	if final.Status != Success {
		t.Fatalf("status = %s (%s)", final.Status, final.Message)
	}
	if countStatus(final, Receiving) != 1 || countStatus(final, Fetching) != 0 {
		t.Errorf("history = %v", statuses(final))
	}
	if current := h.current(t); current != "1.2.0" {
		t.Errorf("current = %q, want 1.2.0", current)
	}
}

func TestApplyUploadRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	store, err := staging.Open(staging.Config{Dir: t.TempDir(), Clock: h.clock})
	if err != nil {
		t.Fatalf("staging.Open: %v", err)
	}
	signed := testutil.SignedTarball(t, h.assets, "1.2.0", h.private)
	tampered := append([]byte(nil), signed.Signature...)
	tampered[0] ^= 0xff

	info, err := store.Begin(staging.Begin{
		Target:    "test",
		Version:   "1.2.0",
		Size:      int64(len(signed.Data)),
		SHA256:    signed.SHA256,
		Signature: tampered,
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := store.Append(info.UploadID, 0, signed.Data); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var staged staging.Artifact
	snapshot, err := h.orchestrator.ApplyUpload(context.Background(), func() (staging.Artifact, error) {
		taken, takeErr := store.Take(info.UploadID)
		staged = taken
		return taken, takeErr
	}, nil)
	if !errors.Is(err, fault.SignatureInvalid) {
		t.Fatalf("ApplyUpload = %v, want SignatureInvalid", err)
	}
	if !strings.Contains(err.Error(), snapshot.ID) {
		t.Errorf("error %q does not name job %s", err, snapshot.ID)
	}
	if snapshot.Status != Error {
		t.Errorf("status = %s, want error", snapshot.Status)
	}
	if _, statErr := os.Stat(staged.Path); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("rejected upload still on disk: %v", statErr)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q", current)
	}
}

func TestUnknownJob(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orchestrator.Status("missing"); !errors.Is(err, fault.NotFound) {
		t.Errorf("Status = %v, want NotFound", err)
	}
	if err := h.orchestrator.ReportHealth("missing", true, ""); !errors.Is(err, fault.NotFound) {
		t.Errorf("ReportHealth = %v, want NotFound", err)
	}
}

func TestCheckUpdate(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "1.3.0")
	check, err := h.orchestrator.CheckUpdate(context.Background(), "stable")
	if err != nil {
		t.Fatalf("CheckUpdate: %v", err)
	}
	if check.Current != "1.0.0" || check.Latest != "1.3.0" || !check.Available {
		t.Errorf("check = %+v", check)
	}
}

func writeJournal(t *testing.T, h *harness, kind, previous, next string) {
	t.Helper()
	err := watchdog.Write(h.journal, watchdog.State{
		JobID:           "job-from-before",
		Kind:            kind,
		PreviousVersion: previous,
		NewVersion:      next,
		StartedAt:       h.clock.Now().Add(-time.Minute),
		Timestamp:       h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("watchdog.Write: %v", err)
	}
}

func TestRecoverSuccess(t *testing.T) {
	h := newHarness(t)
	h.installActive(t, "1.1.0")
	writeJournal(t, h, string(KindUpdate), "1.0.0", "1.1.0")

	snapshot, found, err := h.orchestrator.Recover("1.1.0", func() error { return nil })
	if err != nil || !found {
		t.Fatalf("Recover = %v, %v", found, err)
	}
	if snapshot.ID != "job-from-before" || snapshot.Status != Success {
		t.Errorf("snapshot = %s %s", snapshot.ID, snapshot.Status)
	}
	if journalExists(t, h.journal) {
		t.Error("journal not cleared")
	}
	if _, active := h.orchestrator.Active(); active {
		t.Error("recovered job still active")
	}
	if status, err := h.orchestrator.Status("job-from-before"); err != nil || status.Status != Success {
		t.Errorf("Status = %+v, %v", status, err)
	}
}

func TestRecoverRunningPrevious(t *testing.T) {
	h := newHarness(t)
	h.installActive(t, "1.1.0")
	writeJournal(t, h, string(KindUpdate), "1.0.0", "1.1.0")

	snapshot, found, err := h.orchestrator.Recover("1.0.0", nil)
	if err != nil || !found {
		t.Fatalf("Recover = %v, %v", found, err)
	}
	if snapshot.Status != RolledBack {
		t.Errorf("status = %s, want rolled_back", snapshot.Status)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q, want 1.0.0", current)
	}
	if previous, _ := h.layout.Previous(); previous == "1.1.0" {
		t.Error("version that never started recorded as the rollback target")
	}
	if _, err := h.orchestrator.Rollback(context.Background(), nil); err == nil {
		t.Error("Rollback succeeded onto a version that never started")
	}
}

func TestRecoverFailedSelfCheck(t *testing.T) {
	h := newHarness(t)
	h.installActive(t, "1.1.0")
	writeJournal(t, h, string(KindUpdate), "1.0.0", "1.1.0")

	snapshot, found, err := h.orchestrator.Recover("1.1.0", func() error { return errors.New("database locked") })
	if err != nil || !found {
		t.Fatalf("Recover = %v, %v", found, err)
	}
	if snapshot.Status != RolledBack {
		t.Errorf("status = %s, want rolled_back", snapshot.Status)
	}
	if current := h.current(t); current != "1.0.0" {
		t.Errorf("current = %q, want 1.0.0", current)
	}
	intents := h.supervisor.recorded()
	if len(intents) != 1 || intents[0].Version != "1.0.0" {
		t.Errorf("intents = %+v", intents)
	}
}

func TestRecoverRolledBackJournal(t *testing.T) {
	h := newHarness(t)
	writeJournal(t, h, journalRolledBack, "1.1.0", "1.0.0")

	snapshot, found, err := h.orchestrator.Recover("1.0.0", nil)
	if err != nil || !found {
		t.Fatalf("Recover = %v, %v", found, err)
	}
	if snapshot.Status != RolledBack || snapshot.Target != "1.1.0" || snapshot.PreviousVersion != "1.0.0" {
		t.Errorf("snapshot = %s target=%s previous=%s", snapshot.Status, snapshot.Target, snapshot.PreviousVersion)
	}
	if countStatus(snapshot, RolledBack) != 1 {
		t.Errorf("history = %v", statuses(snapshot))
	}
}

func TestRecoverNothing(t *testing.T) {
	h := newHarness(t)
	if _, found, err := h.orchestrator.Recover("1.0.0", nil); err != nil || found {
		t.Fatalf("Recover without journal = %v, %v", found, err)
	}

	writeJournal(t, h, string(KindUpdate), "0.9.0", "1.1.0")
	if _, found, err := h.orchestrator.Recover("1.0.0", nil); err != nil || found {
		t.Fatalf("Recover with unrelated journal = %v, %v", found, err)
	}
	if journalExists(t, h.journal) {
		t.Error("unrelated journal not cleared")
	}
}
