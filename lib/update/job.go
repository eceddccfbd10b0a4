// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"sync"
	"time"

	"github.com/puppypeer/puppyagent/lib/fault"
)

// Transition is one entry in a job's history.
type Transition struct {
	Status  Status
	At      time.Time
	Message string
}

// Snapshot is a point-in-time copy of a job.
type Snapshot struct {
	ID              string
	Kind            Kind
	Target          string
	PreviousVersion string
	Channel         string

	Status       Status
	Percent      int
	BytesFetched int64
	ETA          time.Duration
	Message      string

	// Fault classifies the failure when Status is Error.
	Fault fault.Kind

	CreatedAt time.Time
	UpdatedAt time.Time
	History   []Transition
}

type healthReport struct {
	healthy bool
	message string
}

type job struct {
	mu       sync.Mutex
	snapshot Snapshot
	done     chan struct{}
	health   chan healthReport
}

func newJob(id string, kind Kind, now time.Time) *job {
	return &job{
		snapshot: Snapshot{
			ID:        id,
			Kind:      kind,
			Status:    Pending,
			CreatedAt: now,
			UpdatedAt: now,
			History:   []Transition{{Status: Pending, At: now}},
		},
		done:   make(chan struct{}),
		health: make(chan healthReport, 1),
	}
}

func (j *job) view() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snapshot := j.snapshot
	snapshot.History = append([]Transition(nil), j.snapshot.History...)
	return snapshot
}

func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshot.Status
}

// transition moves the job to a status that carries no failure. It
// reports false, changing nothing, if the move is not allowed.
func (j *job) transition(next Status, now time.Time, message string) bool {
	return j.settle(next, now, message, nil)
}

// settle moves the job to next. When next is Error, cause classifies
// the failure; a nil cause records fault.Internal. Reaching a terminal
// status closes done.
func (j *job) settle(next Status, now time.Time, message string, cause error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !canTransition(j.snapshot.Status, next) {
		return false
	}
	j.snapshot.Status = next
	j.snapshot.UpdatedAt = now
	j.snapshot.Message = message
	j.snapshot.ETA = 0
	if next == Error {
		j.snapshot.Fault = fault.Internal
		if cause != nil {
			j.snapshot.Fault = fault.KindOf(cause)
		}
	}
	if next == Success {
		j.snapshot.Percent = 100
	}
	j.snapshot.History = append(j.snapshot.History, Transition{Status: next, At: now, Message: message})
	if next.Terminal() {
		close(j.done)
	}
	return true
}

func (j *job) progress(percent int, bytes int64, eta time.Duration, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snapshot.Status.Terminal() {
		return
	}
	j.snapshot.Percent = percent
	j.snapshot.BytesFetched = bytes
	j.snapshot.ETA = eta
	j.snapshot.UpdatedAt = now
}

func (j *job) set(update func(*Snapshot)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	update(&j.snapshot)
}
