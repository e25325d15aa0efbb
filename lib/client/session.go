// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
)

// ErrSessionClosed is returned by Session methods after Close or after
// the daemon dropped the connection.
var ErrSessionClosed = errors.New("session closed")

// Result is what a session check delivers. Err is set when the daemon
// rejected the check frame itself (for example an invalid key).
type Result struct {
	ID       uint64
	Decision policy.Decision
	Err      error
}

// Session is a long-lived connection on which checks may wait for an
// agent. It is safe for concurrent use.
//
// Each check gets a buffered channel that receives exactly one Result,
// or is closed without a value if the check is cancelled or the
// session ends first.
type Session struct {
	stream *service.Stream
	id     string

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Result
	closed  bool
	done    chan struct{}
	err     error
}

func newSession(stream *service.Stream, id string) *Session {
	session := &Session{
		stream:  stream,
		id:      id,
		pending: make(map[uint64]chan Result),
		done:    make(chan struct{}),
	}
	go session.readLoop()
	return session
}

// ID returns the daemon-assigned session id.
func (s *Session) ID() string {
	return s.id
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is open or after
// a clean Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Check sends a check for key and returns its id and result channel.
func (s *Session) Check(key policy.Key) (uint64, <-chan Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, ErrSessionClosed
	}
	s.nextID++
	id := s.nextID
	frame := schema.SessionFrame{
		Kind:      schema.FrameCheck,
		ID:        id,
		Client:    key.Client,
		User:      key.User,
		Privilege: key.Privilege,
	}
	if err := s.stream.Send(frame); err != nil {
		return 0, nil, fmt.Errorf("sending check %d: %w", id, err)
	}
	results := make(chan Result, 1)
	s.pending[id] = results
	return id, results, nil
}

// Cancel abandons check id. Its channel is closed without a result.
// Cancelling an id that already completed is a no-op.
func (s *Session) Cancel(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	results, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	close(results)
	if err := s.stream.Send(schema.SessionFrame{Kind: schema.FrameCancel, ID: id}); err != nil {
		return fmt.Errorf("sending cancel %d: %w", id, err)
	}
	return nil
}

// Close ends the session. The daemon cancels every check still
// waiting on it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	err := s.stream.Close()
	<-s.done
	return err
}

func (s *Session) readLoop() {
	var readErr error
	for {
		var result schema.SessionResult
		if err := s.stream.Receive(&result); err != nil {
			readErr = err
			break
		}
		if result.Kind != schema.FrameResult {
			continue
		}
		s.deliver(result)
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.err = fmt.Errorf("%w: %w", ErrSessionClosed, readErr)
	}
	for id, results := range s.pending {
		delete(s.pending, id)
		close(results)
	}
	s.mu.Unlock()
	close(s.done)
}

func (s *Session) deliver(result schema.SessionResult) {
	s.mu.Lock()
	results, ok := s.pending[result.ID]
	if ok {
		delete(s.pending, result.ID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	delivered := Result{ID: result.ID}
	if result.Error != "" {
		delivered.Err = errors.New(result.Error)
	} else {
		delivered.Decision = decisionFromWire(result.Type, result.Metadata, result.Failure)
	}
	results <- delivered
	close(results)
}
