// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/identity"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *identity.Store
	manager *Manager
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := clock.Fake(epoch)
	store, err := identity.Open(context.Background(), identity.Config{
		Path:       filepath.Join(t.TempDir(), "identity.db"),
		Clock:      fake,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("identity.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &fixture{store: store, manager: NewManager(store, Config{Clock: fake}), clock: fake}
}

func (f *fixture) createUser(t *testing.T, username string, grants ...grant.Grant) {
	t.Helper()
	_, _, err := f.store.CreateUser(context.Background(), identity.NewUser{
		Username: username,
		Password: "pw-" + username,
		Grants:   grants,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
}

func (f *fixture) login(t *testing.T, username string) Principal {
	t.Helper()
	principal, err := f.manager.Authenticate(context.Background(), Credentials{Username: username, Password: "pw-" + username})
	if err != nil {
		t.Fatalf("Authenticate(%s): %v", username, err)
	}
	return principal
}

func TestCredentialSessionExpiresAfterOneHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")

	principal := f.login(t, "alice")
	if want := epoch.Add(time.Hour); !principal.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", principal.ExpiresAt, want)
	}
	if !grant.Has(principal.Grants, grant.Owner) {
		t.Errorf("alice grants = %v, want Owner", principal.Grants)
	}

	f.clock.Advance(59 * time.Minute)
	if _, err := f.manager.Resolve(ctx, principal.SessionID); err != nil {
		t.Fatalf("Resolve before expiry: %v", err)
	}

	f.clock.Advance(time.Minute)
	if _, err := f.manager.Resolve(ctx, principal.SessionID); !errors.Is(err, fault.Expired) {
		t.Fatalf("Resolve at expiry = %v, want Expired", err)
	}
	if _, err := f.manager.Resolve(ctx, principal.SessionID); !errors.Is(err, fault.AuthFailure) {
		t.Fatalf("Resolve after expiry was reported = %v, want AuthFailure (session dropped)", err)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")

	methods := []Method{
		Credentials{Username: "alice", Password: "wrong"},
		Credentials{Username: "mallory", Password: "pw"},
		Token{Value: "pa1.nope.nope"},
	}
	for _, method := range methods {
		if _, err := f.manager.Authenticate(ctx, method); !errors.Is(err, fault.AuthFailure) {
			t.Errorf("Authenticate(%T) = %v, want AuthFailure", method, err)
		}
	}
	if f.manager.Count() != 0 {
		t.Errorf("failed authentications left %d sessions", f.manager.Count())
	}
}

func TestBootstrapSessionEndsWithFirstUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	principal, err := f.manager.Authenticate(ctx, Credentials{Username: "anyone", Password: "anything"})
	if err != nil {
		t.Fatalf("Authenticate in bootstrap mode: %v", err)
	}
	if principal.Kind != SubjectBootstrap || !grant.Has(principal.Grants, grant.Owner) {
		t.Fatalf("bootstrap principal = %+v", principal)
	}

	f.createUser(t, "alice")
	if _, err := f.manager.Resolve(ctx, principal.SessionID); !errors.Is(err, fault.AuthFailure) {
		t.Fatalf("bootstrap session after first user = %v, want AuthFailure", err)
	}
}

func TestGrantChangesVisibleWithoutReauthentication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	f.createUser(t, "bob")

	bob := f.login(t, "bob")
	if len(bob.Grants) != 0 {
		t.Fatalf("bob starts with %v", bob.Grants)
	}

	if _, err := f.store.GrantAccess(ctx, "bob", []grant.Grant{grant.FilesGrant("/srv", grant.Read)}, true); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	resolved, err := f.manager.Resolve(ctx, bob.SessionID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !grant.Covers(resolved.Grants, grant.NeedPath(grant.ReadFile, "/srv/a")) {
		t.Errorf("new grant not visible: %v", resolved.Grants)
	}
}

func TestTokenSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")

	value, token, err := f.manager.CreateToken(ctx, "alice", "deploy", 2*time.Hour,
		[]grant.Grant{grant.Unit(grant.SoftwareUpdate)}, "alice")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	principal, err := f.manager.Authenticate(ctx, Token{Value: value})
	if err != nil {
		t.Fatalf("Authenticate(token): %v", err)
	}
	if principal.Kind != SubjectToken || principal.TokenID != token.ID {
		t.Fatalf("principal = %+v", principal)
	}
	if !principal.ExpiresAt.Equal(token.ExpiresAt) {
		t.Errorf("session expiry %v, token expiry %v", principal.ExpiresAt, token.ExpiresAt)
	}
	if !slices.Equal(principal.Grants, []grant.Grant{grant.Unit(grant.SoftwareUpdate)}) {
		t.Errorf("token session grants = %v, want token grants only", principal.Grants)
	}

	// A second session from the same token; revocation must end both.
	second, err := f.manager.Authenticate(ctx, Token{Value: value})
	if err != nil {
		t.Fatalf("Authenticate(token) again: %v", err)
	}

	if _, err := f.manager.RevokeToken(ctx, token.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	for _, id := range []string{principal.SessionID, second.SessionID} {
		if _, err := f.manager.Resolve(ctx, id); !errors.Is(err, fault.AuthFailure) {
			t.Errorf("Resolve after revocation = %v, want AuthFailure", err)
		}
	}
	if _, err := f.manager.Authenticate(ctx, Token{Value: value}); !errors.Is(err, fault.AuthFailure) {
		t.Errorf("Authenticate with revoked token = %v, want AuthFailure", err)
	}
}

func TestTokenWithoutExpiryLivesUntilRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")

	value, _, err := f.manager.CreateToken(ctx, "alice", "forever", 0, nil, "alice")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	principal, err := f.manager.Authenticate(ctx, Token{Value: value})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !principal.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", principal.ExpiresAt)
	}
	f.clock.Advance(24 * 365 * time.Hour)
	if _, err := f.manager.Resolve(ctx, principal.SessionID); err != nil {
		t.Errorf("Resolve after a year: %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")

	value, _, err := f.manager.CreateToken(ctx, "alice", "short", time.Minute, nil, "alice")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	f.clock.Advance(time.Minute)
	if _, err := f.manager.Authenticate(ctx, Token{Value: value}); !errors.Is(err, fault.Expired) {
		t.Fatalf("Authenticate with expired token = %v, want Expired", err)
	}
}

func TestTokenGrantsNarrowWithOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	f.createUser(t, "bob", grant.FilesGrant("/data", grant.ReadWrite))

	value, _, err := f.manager.CreateToken(ctx, "bob", "sync", 0,
		[]grant.Grant{grant.FilesGrant("/data", grant.ReadWrite)}, "bob")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	principal, err := f.manager.Authenticate(ctx, Token{Value: value})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if _, err := f.store.GrantAccess(ctx, "bob", []grant.Grant{grant.FilesGrant("/data", grant.Read)}, false); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	resolved, err := f.manager.Resolve(ctx, principal.SessionID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if grant.Covers(resolved.Grants, grant.NeedPath(grant.WriteFile, "/data/x")) {
		t.Error("token session kept write access its owner lost")
	}
}

func TestRevokeUserEndsAllDerivedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "alice")
	f.createUser(t, "bob", grant.Unit(grant.Viewer))

	bobSession := f.login(t, "bob")
	value, _, err := f.manager.CreateToken(ctx, "bob", "phone", 0, nil, "bob")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	tokenSession, err := f.manager.Authenticate(ctx, Token{Value: value})
	if err != nil {
		t.Fatalf("Authenticate(token): %v", err)
	}
	aliceSession := f.login(t, "alice")

	if err := f.manager.RevokeUser(ctx, "bob"); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	for _, id := range []string{bobSession.SessionID, tokenSession.SessionID} {
		if _, err := f.manager.Resolve(ctx, id); !errors.Is(err, fault.AuthFailure) {
			t.Errorf("Resolve(%s) after RevokeUser = %v, want AuthFailure", id, err)
		}
	}
	if _, err := f.manager.Resolve(ctx, aliceSession.SessionID); err != nil {
		t.Errorf("unrelated session broken by RevokeUser: %v", err)
	}
	if got := f.manager.Count(); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice")
	f.login(t, "alice")
	f.login(t, "alice")

	if removed := f.manager.Sweep(); removed != 0 {
		t.Errorf("Sweep before expiry removed %d", removed)
	}
	f.clock.Advance(2 * time.Hour)
	if removed := f.manager.Sweep(); removed != 2 {
		t.Errorf("Sweep after expiry removed %d, want 2", removed)
	}
}
