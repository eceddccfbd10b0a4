// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"context"
	"fmt"

	"github.com/puppypeer/puppyagent/lib/authorization"
	"github.com/puppypeer/puppyagent/lib/binhash"
	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/release"
	"github.com/puppypeer/puppyagent/lib/staging"
	"github.com/puppypeer/puppyagent/lib/update"
)

var needUpdate = grant.Need(grant.Update)

// authorizeUpdate checks SoftwareUpdate and returns the guard a job
// carries to repeat the check before it swaps. Bootstrap callers get
// an always-allow guard.
func (d *Dispatcher) authorizeUpdate(ctx context.Context, sessionID string) (update.Guard, error) {
	result, err := d.authorize(ctx, sessionID, needUpdate)
	if err != nil {
		return nil, err
	}
	if result.Bootstrap {
		return authorization.AllowAll, nil
	}
	return d.evaluator.Guard(sessionID, needUpdate), nil
}

func (d *Dispatcher) checkUpdate(ctx context.Context, sessionID string, request CheckUpdate) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, needUpdate); err != nil {
		return nil, err
	}
	check, err := d.updates.CheckUpdate(ctx, request.Channel)
	if err != nil {
		return nil, err
	}
	return UpdateCheck{
		Current:   check.Current,
		Latest:    check.Latest,
		Available: check.Available,
		NotesURL:  check.NotesURL,
	}, nil
}

func (d *Dispatcher) updateVersion(ctx context.Context, sessionID string, request UpdateVersion) (Response, error) {
	guard, err := d.authorizeUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snapshot, err := d.updates.UpdateVersion(ctx, update.Request{
		Version: request.Version,
		Channel: request.Channel,
		Force:   request.Force,
	}, guard)
	if err != nil {
		return nil, err
	}
	return UpdateStarted{JobID: snapshot.ID, Target: snapshot.Target}, nil
}

func (d *Dispatcher) updateStatus(ctx context.Context, sessionID string, request UpdateStatus) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, needUpdate); err != nil {
		return nil, err
	}
	snapshot, err := d.updates.Status(request.JobID)
	if err != nil {
		return nil, err
	}
	return updateState(snapshot), nil
}

func updateState(snapshot update.Snapshot) UpdateState {
	message := snapshot.Message
	if snapshot.Status == update.Error {
		message = fmt.Sprintf("%s: %s", snapshot.Fault, message)
	}
	return UpdateState{
		JobID:        snapshot.ID,
		Kind:         string(snapshot.Kind),
		Target:       snapshot.Target,
		Status:       string(snapshot.Status),
		Pct:          snapshot.Percent,
		BytesFetched: snapshot.BytesFetched,
		EtaSecs:      uint64(snapshot.ETA.Seconds()),
		Message:      message,
	}
}

func (d *Dispatcher) rollbackUpdate(ctx context.Context, sessionID string) (Response, error) {
	guard, err := d.authorizeUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snapshot, err := d.updates.Rollback(ctx, guard)
	if err != nil {
		return nil, err
	}
	return RollbackStarted{JobID: snapshot.ID, Target: snapshot.Target}, nil
}

func (d *Dispatcher) reportHealth(ctx context.Context, sessionID string, request ReportHealth) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, needUpdate); err != nil {
		return nil, err
	}
	if err := d.updates.ReportHealth(request.JobID, request.Healthy, request.Message); err != nil {
		return nil, err
	}
	return HealthRecorded{JobID: request.JobID}, nil
}

func (d *Dispatcher) beginUpload(ctx context.Context, sessionID string, request BeginUploadUpdate) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, needUpdate); err != nil {
		return nil, err
	}
	if request.Target != d.target {
		return nil, fault.New(fault.Validation, "upload target %q does not match this agent's target %q", request.Target, d.target)
	}
	if _, err := release.ParseVersion(request.Version); err != nil {
		return nil, err
	}
	digest, err := binhash.ParseDigest(request.SHA256)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "sha256 must be 64 lowercase hex characters")
	}
	info, err := d.uploads.Begin(staging.Begin{
		Target:    request.Target,
		Version:   release.Canonical(request.Version),
		Size:      request.Size,
		SHA256:    digest,
		Signature: request.Signature,
	})
	if err != nil {
		return nil, err
	}
	return uploadSession(info), nil
}

func uploadSession(info staging.Info) UploadSession {
	return UploadSession{
		UploadID:  info.UploadID,
		Offset:    info.Offset,
		Size:      info.Size,
		ExpiresAt: info.ExpiresAt.UTC(),
	}
}

func (d *Dispatcher) uploadChunk(ctx context.Context, sessionID string, request UploadUpdateChunk) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, needUpdate); err != nil {
		return nil, err
	}
	next, err := d.uploads.Append(request.UploadID, request.Offset, request.Data)
	if err != nil {
		return nil, err
	}
	d.metrics.AddUploadBytes(len(request.Data))
	return ChunkAck{NextOffset: next}, nil
}

func (d *Dispatcher) uploadStatus(ctx context.Context, sessionID string, request UploadUpdateStatus) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, needUpdate); err != nil {
		return nil, err
	}
	info, err := d.uploads.Status(request.UploadID)
	if err != nil {
		return nil, err
	}
	return uploadSession(info), nil
}

func (d *Dispatcher) commitUpload(ctx context.Context, sessionID string, request CommitUploadUpdate) (Response, error) {
	guard, err := d.authorizeUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snapshot, err := d.updates.ApplyUpload(ctx, func() (staging.Artifact, error) {
		return d.uploads.Take(request.UploadID)
	}, guard)
	if err != nil {
		if snapshot.ID != "" {
			return jobError(err, snapshot.ID), nil
		}
		return nil, err
	}
	return UpdateStarted{JobID: snapshot.ID, Target: snapshot.Target}, nil
}

// jobError is the Error for a failure recorded on update job id.
func jobError(err error, id string) Error {
	return Error(fmt.Sprintf("%s (job %s)", wireMessage(err), id))
}

func (d *Dispatcher) abortUpload(ctx context.Context, sessionID string, request AbortUploadUpdate) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, needUpdate); err != nil {
		return nil, err
	}
	if err := d.uploads.Abort(request.UploadID); err != nil {
		return nil, err
	}
	return UploadAborted{UploadID: request.UploadID}, nil
}
