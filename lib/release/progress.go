// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"time"

	"github.com/puppypeer/puppyagent/lib/clock"
)

// Progress describes a download in flight.
type Progress struct {
	Bytes int64

	// Total is -1 when the server did not say.
	Total int64

	// Percent is 0..100, or 0 when Total is unknown.
	Percent int

	// ETA is zero until a rate can be estimated.
	ETA time.Duration
}

// ProgressFunc receives download progress. It is called from the
// downloading goroutine and must not block.
type ProgressFunc func(Progress)

// meter is an io.Writer that counts bytes and reports progress each
// time the whole percentage changes.
type meter struct {
	clock    clock.Clock
	started  time.Time
	total    int64
	bytes    int64
	reported int
	report   ProgressFunc
}

func newMeter(clk clock.Clock, total int64, report ProgressFunc) *meter {
	if total <= 0 {
		total = -1
	}
	return &meter{clock: clk, started: clk.Now(), total: total, reported: -1, report: report}
}

func (m *meter) Write(p []byte) (int, error) {
	m.bytes += int64(len(p))
	if m.report == nil {
		return len(p), nil
	}
	snapshot := m.snapshot()
	if m.total < 0 || snapshot.Percent != m.reported {
		m.reported = snapshot.Percent
		m.report(snapshot)
	}
	return len(p), nil
}

func (m *meter) snapshot() Progress {
	progress := Progress{Bytes: m.bytes, Total: m.total}
	if m.total <= 0 {
		return progress
	}
	progress.Percent = int(min(m.bytes*100/m.total, 100))
	elapsed := m.clock.Now().Sub(m.started)
	if elapsed > 0 && m.bytes > 0 && m.bytes < m.total {
		rate := float64(m.bytes) / elapsed.Seconds()
		progress.ETA = time.Duration(float64(m.total-m.bytes) / rate * float64(time.Second)).Round(time.Second)
	}
	return progress
}

// finish reports the final state once.
func (m *meter) finish() {
	if m.report == nil {
		return
	}
	snapshot := m.snapshot()
	if snapshot.Percent != m.reported || m.total < 0 {
		m.report(snapshot)
	}
}
