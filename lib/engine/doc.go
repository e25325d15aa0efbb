// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the policy decision engine.
//
// [Logic] resolves checks by walking bucket chains held in a
// [storage.Storage]: it asks the start bucket for the most specific
// matching result, follows BUCKET results into other buckets, detects
// cycles with a visited set, and stops at ALLOW or DENY. Terminal
// decisions are cached per (start bucket, key) in a [Cache] that every
// successful admin mutation clears. A plugin result suspends the check
// and hands it to an [agent.Manager]; when the agent answers, Logic
// resumes the walk where it stopped and delivers the decision to every
// waiter.
//
// Logic, its storage, cache and agent manager are owned by one
// goroutine, the [Loop]. Transport code posts closures to the loop and
// never touches engine state directly. Decision callbacks run on the
// loop and must not block.
package engine
