// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package update

// Status is the state of an update job.
type Status string

const (
	Pending        Status = "pending"
	Fetching       Status = "fetching"
	Receiving      Status = "receiving"
	Verifying      Status = "verifying"
	Swapping       Status = "swapping"
	HealthChecking Status = "health_checking"
	Success        Status = "success"
	Error          Status = "error"
	RolledBack     Status = "rolled_back"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Success || s == Error || s == RolledBack
}

func (s Status) rank() int {
	switch s {
	case Pending:
		return 0
	case Fetching, Receiving:
		return 1
	case Verifying:
		return 2
	case Swapping:
		return 3
	case HealthChecking:
		return 4
	}
	return 5
}

// canTransition enforces the job state machine.
func canTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case Error:
		return true
	case Success, RolledBack:
		return from == HealthChecking
	}
	return to.rank() > from.rank()
}

// Kind distinguishes how a job obtained its artifact.
type Kind string

const (
	KindUpdate   Kind = "update"
	KindUpload   Kind = "upload"
	KindRollback Kind = "rollback"
)

// journalRolledBack marks a journal written after an automatic
// rollback, just before restarting into the previous version.
const journalRolledBack = "rolled_back"
