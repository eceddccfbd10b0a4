// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puppypeer/puppyagent/lib/authorization"
	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/identity"
	"github.com/puppypeer/puppyagent/lib/metrics"
	"github.com/puppypeer/puppyagent/lib/session"
	"github.com/puppypeer/puppyagent/lib/staging"
	"github.com/puppypeer/puppyagent/lib/update"
)

// Config holds the components a Dispatcher routes to.
type Config struct {
	Identity  *identity.Store
	Sessions  *session.Manager
	Evaluator *authorization.Evaluator
	Updates   *update.Orchestrator
	Uploads   *staging.Store

	// Version, Commit, and Target describe the running build for
	// GetVersion. Target is also the only target uploads may declare.
	Version string
	Commit  string
	Target  string

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// Dispatcher routes requests. It is safe for concurrent use.
type Dispatcher struct {
	identity  *identity.Store
	sessions  *session.Manager
	evaluator *authorization.Evaluator
	updates   *update.Orchestrator
	uploads   *staging.Store

	version string
	commit  string
	target  string

	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.Metrics
}

// NewDispatcher returns a Dispatcher over config's components.
func NewDispatcher(config Config) (*Dispatcher, error) {
	if config.Identity == nil || config.Sessions == nil || config.Evaluator == nil {
		return nil, fmt.Errorf("controlplane: Identity, Sessions, and Evaluator are required")
	}
	if config.Updates == nil || config.Uploads == nil {
		return nil, fmt.Errorf("controlplane: Updates and Uploads are required")
	}
	d := &Dispatcher{
		identity:  config.Identity,
		sessions:  config.Sessions,
		evaluator: config.Evaluator,
		updates:   config.Updates,
		uploads:   config.Uploads,
		version:   config.Version,
		commit:    config.Commit,
		target:    config.Target,
		clock:     config.Clock,
		logger:    config.Logger,
		metrics:   config.Metrics,
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.metrics == nil {
		d.metrics = metrics.Noop{}
	}
	return d, nil
}

// authError marks a failure to establish who the caller is. It becomes
// AuthFailure rather than Error.
type authError struct {
	err error
}

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

func asAuthError(err error) error {
	if errors.Is(err, fault.AuthFailure) || errors.Is(err, fault.Expired) {
		return &authError{err: err}
	}
	return err
}

// Dispatch executes one request and returns its single response.
func (d *Dispatcher) Dispatch(ctx context.Context, envelope Envelope) Response {
	start := d.clock.Now()
	name := "unknown"
	if envelope.Request != nil {
		name = envelope.Request.requestName()
	}

	response, err := d.route(ctx, envelope.Session, envelope.Request)
	if err != nil {
		response = d.failure(name, err)
	}

	outcome := "ok"
	switch response.(type) {
	case AuthFailure:
		outcome = "auth_failure"
	case Error:
		outcome = "error"
	}
	d.metrics.ObserveRequest(name, outcome, d.clock.Now().Sub(start).Seconds())
	d.metrics.SetSessions(d.sessions.Count())
	return response
}

func (d *Dispatcher) route(ctx context.Context, sessionID string, request Request) (Response, error) {
	switch request := request.(type) {
	case Authenticate:
		return d.authenticate(ctx, request)
	case CreateUser:
		return d.createUser(ctx, sessionID, request)
	case CreateToken:
		return d.createToken(ctx, sessionID, request)
	case GrantAccess:
		return d.grantAccess(ctx, sessionID, request)
	case ListUsers:
		return d.listUsers(ctx, sessionID)
	case ListTokens:
		return d.listTokens(ctx, sessionID, request)
	case RevokeToken:
		return d.revokeToken(ctx, sessionID, request)
	case RevokeUser:
		return d.revokeUser(ctx, sessionID, request)
	case ListPermissions:
		return d.listPermissions(ctx, sessionID)
	case GetVersion:
		return d.getVersion(ctx, sessionID)
	case CheckUpdate:
		return d.checkUpdate(ctx, sessionID, request)
	case UpdateVersion:
		return d.updateVersion(ctx, sessionID, request)
	case UpdateStatus:
		return d.updateStatus(ctx, sessionID, request)
	case RollbackUpdate:
		return d.rollbackUpdate(ctx, sessionID)
	case ReportHealth:
		return d.reportHealth(ctx, sessionID, request)
	case BeginUploadUpdate:
		return d.beginUpload(ctx, sessionID, request)
	case UploadUpdateChunk:
		return d.uploadChunk(ctx, sessionID, request)
	case UploadUpdateStatus:
		return d.uploadStatus(ctx, sessionID, request)
	case CommitUploadUpdate:
		return d.commitUpload(ctx, sessionID, request)
	case AbortUploadUpdate:
		return d.abortUpload(ctx, sessionID, request)
	case nil:
		return nil, fault.New(fault.Validation, "request is missing")
	}
	return nil, fault.New(fault.Validation, "unsupported request %s", request.requestName())
}

// authorize checks capability for the session right now.
func (d *Dispatcher) authorize(ctx context.Context, sessionID string, capability grant.Capability) (authorization.Result, error) {
	result := d.evaluator.Evaluate(ctx, sessionID, capability)
	if result.Decision == authorization.Deny {
		return result, asAuthError(result.Err)
	}
	return result, nil
}

// failure renders err as the single response for a failed request.
func (d *Dispatcher) failure(name string, err error) Response {
	var auth *authError
	if errors.As(err, &auth) {
		d.logger.Info("request not authenticated", "request", name, "error", err)
		return AuthFailure{Reason: reason(auth.err)}
	}
	kind := fault.KindOf(err)
	if kind == fault.Internal || kind == fault.InternalIO {
		d.logger.Error("request failed", "request", name, "error", err)
	} else {
		d.logger.Debug("request rejected", "request", name, "error", err)
	}
	return Error(wireMessage(err))
}

// wireMessage renders "Kind: message" without lower-level causes.
func wireMessage(err error) string {
	var classified *fault.Error
	if errors.As(err, &classified) {
		return classified.WireMessage()
	}
	var kind fault.Kind
	if errors.As(err, &kind) {
		return kind.String() + ": " + err.Error()
	}
	return fault.Internal.String() + ": internal error"
}

func reason(err error) string {
	var classified *fault.Error
	if errors.As(err, &classified) {
		return classified.Message
	}
	return err.Error()
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func grantsOrEmpty(grants []grant.Grant) []grant.Grant {
	if grants == nil {
		return []grant.Grant{}
	}
	return grants
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
