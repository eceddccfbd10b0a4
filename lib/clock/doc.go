// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is an injectable time source. Components that compute
// expiry (sessions, upload sessions, health-check windows, rate-limit
// backoff) take a Clock instead of calling the time package, so tests
// can drive every deadline deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	manager := session.NewManager(store, session.Config{Clock: fake})
//	// ...
//	fake.Advance(time.Hour) // credential sessions are now expired
//
// AfterFunc callbacks registered on a FakeClock run synchronously
// inside Advance, in deadline order. A goroutine that registers a
// timer races with the test's Advance call; [FakeClock.WaitForTimers]
// closes that race.
package clock
