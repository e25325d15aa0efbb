// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// ErrAgentUnavailable is returned when the channel cannot accept a new
// request, typically because no agent of the type is registered.
var ErrAgentUnavailable = errors.New("agent unavailable")

// Request is one call to an agent.
type Request struct {
	ID        string `json:"id"`
	AgentType string `json:"agent_type"`
	Session   string `json:"session"`
	Payload   []byte `json:"payload"`
}

// Channel carries requests to agents. Implementations must not call
// back into the Manager synchronously.
type Channel interface {
	// Request sends a new request. An error means the request was not
	// accepted and nothing was recorded.
	Request(Request) error

	// Cancel tells the agent the request was abandoned. It is
	// advisory: an answer may still arrive and will be discarded.
	Cancel(id string)
}

// Resumer continues resolution of a pending check once its agent
// answered.
type Resumer interface {
	Resume(pending *PendingCheck, answer policy.Result)
}

// PendingCheck is a check suspended at a plugin policy.
type PendingCheck struct {
	// Key and StartBucket identify the original check. The decision
	// is cached under (StartBucket, Key).
	Key         policy.Key
	StartBucket string

	// Path lists the buckets the walk is inside, outermost first; the
	// last one issued the plugin policy. Visited holds every bucket
	// entered so far, for cycle detection on resume.
	Path    []string
	Visited map[string]bool

	AgentType string
	Payload   []byte

	Session   string
	RequestID uint64

	// Callback receives the decision exactly once, unless the check is
	// cancelled first.
	Callback func(policy.Decision)

	// Generation is the cache generation the check was suspended in.
	Generation uint64

	cancelled bool
	call      *call
}

// Cancelled reports whether the check was cancelled.
func (p *PendingCheck) Cancelled() bool {
	return p.cancelled
}

// Deliver invokes the callback unless the check was cancelled.
func (p *PendingCheck) Deliver(decision policy.Decision) {
	if p.cancelled || p.Callback == nil {
		return
	}
	p.Callback(decision)
}

type callKey struct {
	agentType string
	payload   string
	session   string
}

type call struct {
	request Request
	key     callKey
	seq     uint64
	waiters []*PendingCheck
}

// Manager holds the outstanding agent calls.
type Manager struct {
	channel Channel
	resumer Resumer
	logger  *slog.Logger
	newID   func() string

	calls    map[string]*call
	byKey    map[callKey]*call
	sessions map[string]map[string]*call
	seq      uint64
}

// NewManager returns a Manager sending through channel and resuming
// through resumer.
func NewManager(channel Channel, resumer Resumer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		channel:  channel,
		resumer:  resumer,
		logger:   logger,
		newID:    uuid.NewString,
		calls:    make(map[string]*call),
		byKey:    make(map[callKey]*call),
		sessions: make(map[string]map[string]*call),
	}
}

// RequestAnswer attaches pending to the outstanding call with the same
// agent type, payload and session, or opens a new call. It returns
// ErrAgentUnavailable if the channel refuses a new request.
func (m *Manager) RequestAnswer(pending *PendingCheck) error {
	key := callKey{agentType: pending.AgentType, payload: string(pending.Payload), session: pending.Session}
	if existing, ok := m.byKey[key]; ok {
		existing.waiters = append(existing.waiters, pending)
		pending.call = existing
		m.logger.Debug("coalesced onto outstanding agent call",
			"request_id", existing.request.ID,
			"agent_type", pending.AgentType,
			"waiters", len(existing.waiters),
		)
		return nil
	}

	request := Request{
		ID:        m.newID(),
		AgentType: pending.AgentType,
		Session:   pending.Session,
		Payload:   pending.Payload,
	}
	if err := m.channel.Request(request); err != nil {
		return fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}

	m.seq++
	c := &call{request: request, key: key, seq: m.seq, waiters: []*PendingCheck{pending}}
	pending.call = c
	m.calls[request.ID] = c
	m.byKey[key] = c
	if m.sessions[pending.Session] == nil {
		m.sessions[pending.Session] = make(map[string]*call)
	}
	m.sessions[pending.Session][request.ID] = c
	m.logger.Debug("agent call opened", "request_id", request.ID, "agent_type", request.AgentType)
	return nil
}

// OnAnswer completes the call with the given id and resumes every
// waiter that has not been cancelled. Answers for unknown or abandoned
// calls are discarded; OnAnswer reports whether the id was known.
func (m *Manager) OnAnswer(id string, answer policy.Result) bool {
	c, ok := m.remove(id)
	if !ok {
		m.logger.Debug("discarding answer for unknown agent call", "request_id", id)
		return false
	}
	for _, waiter := range c.waiters {
		waiter.call = nil
		if waiter.cancelled {
			continue
		}
		m.resumer.Resume(waiter, answer)
	}
	return true
}

// Fail completes the call with a fail-closed decision for every
// waiter. The daemon uses it when an agent request times out.
func (m *Manager) Fail(id string, failure policy.Failure) bool {
	c, ok := m.remove(id)
	if !ok {
		return false
	}
	m.logger.Info("agent call failed",
		"request_id", id,
		"agent_type", c.request.AgentType,
		"failure", failure.String(),
		"waiters", len(c.waiters),
	)
	for _, waiter := range c.waiters {
		waiter.call = nil
		waiter.Deliver(policy.Failed(failure))
	}
	return true
}

// Cancel cancels the pending check of session with the given request
// id. Request ids are unique among a session's pending checks; see
// [Manager.Pending]. If it was the last waiter on its call, the call is abandoned and
// the channel told. Cancel reports whether a pending check was found.
func (m *Manager) Cancel(session string, requestID uint64) bool {
	for _, c := range m.sessions[session] {
		for _, waiter := range c.waiters {
			if waiter.RequestID == requestID {
				m.cancelWaiter(c, waiter)
				return true
			}
		}
	}
	return false
}

// Pending reports whether session has a pending check with the given
// request id.
func (m *Manager) Pending(session string, requestID uint64) bool {
	for _, c := range m.sessions[session] {
		for _, waiter := range c.waiters {
			if waiter.RequestID == requestID {
				return true
			}
		}
	}
	return false
}

// CancelSession cancels every pending check of session and returns
// how many there were.
func (m *Manager) CancelSession(session string) int {
	cancelled := 0
	for _, c := range m.sessions[session] {
		for _, waiter := range append([]*PendingCheck(nil), c.waiters...) {
			m.cancelWaiter(c, waiter)
			cancelled++
		}
	}
	return cancelled
}

func (m *Manager) cancelWaiter(c *call, waiter *PendingCheck) {
	waiter.cancelled = true
	waiter.call = nil
	for i, candidate := range c.waiters {
		if candidate == waiter {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	if len(c.waiters) > 0 {
		return
	}
	m.remove(c.request.ID)
	m.channel.Cancel(c.request.ID)
	m.logger.Debug("agent call abandoned", "request_id", c.request.ID)
}

func (m *Manager) remove(id string) (*call, bool) {
	c, ok := m.calls[id]
	if !ok {
		return nil, false
	}
	delete(m.calls, id)
	delete(m.byKey, c.key)
	if calls := m.sessions[c.request.Session]; calls != nil {
		delete(calls, id)
		if len(calls) == 0 {
			delete(m.sessions, c.request.Session)
		}
	}
	return c, true
}

// Outstanding returns the open requests for agentType in the order
// they were opened. The daemon re-sends them when an agent of that
// type registers.
func (m *Manager) Outstanding(agentType string) []Request {
	var open []*call
	for _, c := range m.calls {
		if c.request.AgentType == agentType {
			open = append(open, c)
		}
	}
	slices.SortFunc(open, func(a, b *call) int {
		return cmp.Compare(a.seq, b.seq)
	})
	requests := make([]Request, len(open))
	for i, c := range open {
		requests[i] = c.request
	}
	return requests
}

// Len returns the number of outstanding calls.
func (m *Manager) Len() int {
	return len(m.calls)
}

// Waiters returns how many pending checks wait on the call with id.
func (m *Manager) Waiters(id string) int {
	if c, ok := m.calls[id]; ok {
		return len(c.waiters)
	}
	return 0
}
