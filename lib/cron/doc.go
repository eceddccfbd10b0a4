// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron runs the daemon's periodic housekeeping jobs (expired
// upload and session purges) on cron schedules.
//
// Schedules use the standard five-field syntax or a descriptor such as
// "@every 1m" or "@hourly". Jobs never overlap with themselves: a run
// still in progress when the next tick arrives causes that tick to be
// skipped. A panicking job is logged and the scheduler keeps running.
package cron
