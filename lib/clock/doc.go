// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The daemon arms one timer per outstanding agent request when an
// agent timeout is configured and reports its uptime through the
// status action. Both go through a Clock so tests can drive them
// without sleeping:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	hub := newAgentHub(c, 5*time.Second, ...)
//	// ... send a request that arms a timer ...
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
