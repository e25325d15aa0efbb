// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lukaszwojciechowski/cynara/lib/agent"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/storage"
)

// ErrPolicyCycle is reported when a bucket chain leads back to a
// bucket already visited by the same check.
var ErrPolicyCycle = errors.New("policy cycle")

// ErrDuplicateRequest is returned by [Logic.Check] when the session
// already has a pending check with the same request id.
var ErrDuplicateRequest = errors.New("request id already pending in session")

// FailureError maps a decision failure to the sentinel error callers
// test with errors.Is. It returns nil for FailureNone.
func FailureError(failure policy.Failure) error {
	switch failure {
	case policy.FailureBucketNotFound:
		return storage.ErrBucketNotFound
	case policy.FailurePolicyCycle:
		return ErrPolicyCycle
	case policy.FailureAgentUnavailable, policy.FailureAgentTimeout:
		return agent.ErrAgentUnavailable
	default:
		return nil
	}
}

// BucketSource is the read side of storage the walk needs.
type BucketSource interface {
	Bucket(id string) (*policy.Bucket, error)
}

// CheckRequest is one check submitted to [Logic.Check].
type CheckRequest struct {
	Key    policy.Key
	Bucket string

	// Session and RequestID identify the check for cancellation.
	Session   string
	RequestID uint64

	// Simple checks never wait for an agent: a plugin policy yields
	// DENY, which is not cached.
	Simple bool
}

// Config holds the collaborators of a [Logic].
type Config struct {
	Storage *storage.Storage
	Plugins *Plugins
	Channel agent.Channel
	Logger  *slog.Logger

	// Buckets overrides where the walk reads buckets from. It
	// defaults to Storage.
	Buckets BucketSource
}

// Logic resolves checks and applies admin mutations. It is not safe
// for concurrent use; see [Loop].
type Logic struct {
	storage *storage.Storage
	buckets BucketSource
	plugins *Plugins
	cache   *Cache
	agents  *agent.Manager
	logger  *slog.Logger

	// generation counts cache invalidations. A resumed check caches
	// its decision only if no admin mutation happened while it waited.
	generation uint64
}

// NewLogic wires a Logic from config.
func NewLogic(config Config) *Logic {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	plugins := config.Plugins
	if plugins == nil {
		plugins, _ = NewPlugins(nil)
	}
	logic := &Logic{
		storage: config.Storage,
		buckets: config.Buckets,
		plugins: plugins,
		cache:   NewCache(),
		logger:  logger,
	}
	if logic.buckets == nil {
		logic.buckets = config.Storage
	}
	logic.agents = agent.NewManager(config.Channel, logic, logger)
	return logic
}

// Cache returns the decision cache.
func (l *Logic) Cache() *Cache { return l.cache }

// Agents returns the agent call manager.
func (l *Logic) Agents() *agent.Manager { return l.agents }

// Plugins returns the plugin registry.
func (l *Logic) Plugins() *Plugins { return l.plugins }

// Storage returns the policy storage.
func (l *Logic) Storage() *storage.Storage { return l.storage }

// walk is the state of one resolution in progress.
type walk struct {
	key       policy.Key
	start     string
	session   string
	requestID uint64
	simple    bool
	cached    bool

	// generation is the cache generation the walk's results belong to.
	generation uint64

	// path is the stack of buckets entered; its last element is the
	// bucket whose result is being applied.
	path    []string
	visited map[string]bool

	callback func(policy.Decision)
}

func (w *walk) current() string {
	return w.path[len(w.path)-1]
}

// Check resolves request and passes the decision to callback, either
// before returning or, if an agent must be consulted, later on the
// loop. callback is not called if the check is cancelled first. Check
// returns an error for an invalid key or a request id the session is
// still waiting on, in which case callback is never called.
func (l *Logic) Check(request CheckRequest, callback func(policy.Decision)) error {
	if err := request.Key.Validate(); err != nil {
		return err
	}
	if request.Session != "" && l.agents.Pending(request.Session, request.RequestID) {
		return fmt.Errorf("%w: %d", ErrDuplicateRequest, request.RequestID)
	}
	if decision, ok := l.cache.Get(request.Bucket, request.Key); ok {
		callback(decision)
		return nil
	}
	w := &walk{
		key:        request.Key,
		start:      request.Bucket,
		session:    request.Session,
		requestID:  request.RequestID,
		simple:     request.Simple,
		cached:     true,
		generation: l.generation,
		visited:    make(map[string]bool),
		callback:   callback,
	}
	l.enter(w, request.Bucket)
	return nil
}

// Resume continues a check suspended at a plugin policy, treating
// answer as the result of the bucket that issued the plugin policy.
// The agent manager calls it for every waiter of an answered call.
func (l *Logic) Resume(pending *agent.PendingCheck, answer policy.Result) {
	w := &walk{
		key:        pending.Key,
		start:      pending.StartBucket,
		session:    pending.Session,
		requestID:  pending.RequestID,
		cached:     true,
		generation: pending.Generation,
		path:       pending.Path,
		visited:    pending.Visited,
		callback:   pending.Deliver,
	}
	l.logger.Debug("resuming check",
		"key", w.key.String(),
		"bucket", w.current(),
		"answer_type", answer.Type,
		"stale", w.generation != l.generation,
	)
	l.resolve(w, answer)
}

// enter pushes bucket id onto the walk and applies its result for the
// key.
func (l *Logic) enter(w *walk, id string) {
	bucket, err := l.buckets.Bucket(id)
	if err != nil {
		l.logger.Warn("bucket missing during resolution",
			"bucket", id,
			"key", w.key.String(),
			"error", err,
		)
		w.callback(policy.Failed(policy.FailureBucketNotFound))
		return
	}
	w.visited[id] = true
	w.path = append(w.path, id)
	l.resolve(w, bucket.Find(w.key))
}

// resolve applies result, found in the walk's current bucket, until
// the check is decided or suspended.
func (l *Logic) resolve(w *walk, result policy.Result) {
	for {
		switch {
		case result.Type.IsTerminal():
			l.finish(w, policy.Decided(result))
			return

		case result.Type == policy.TypeBucket:
			target := result.Metadata
			if w.visited[target] {
				l.logger.Warn("policy cycle",
					"bucket", w.current(),
					"target", target,
					"key", w.key.String(),
					"error", ErrPolicyCycle,
				)
				l.finish(w, policy.Failed(policy.FailurePolicyCycle))
				return
			}
			bucket, err := l.buckets.Bucket(target)
			if err != nil {
				l.logger.Warn("bucket missing during resolution",
					"bucket", target,
					"key", w.key.String(),
					"error", err,
				)
				w.callback(policy.Failed(policy.FailureBucketNotFound))
				return
			}
			w.visited[target] = true
			w.path = append(w.path, target)
			result = bucket.Find(w.key)

		case result.Type == policy.TypeNone:
			// The current bucket has no opinion. Fall back to the
			// default of the bucket that led here; if that default is
			// the redirect we just followed, keep unwinding.
			if len(w.path) <= 1 {
				l.finish(w, policy.Decided(policy.DenyResult("")))
				return
			}
			left := w.current()
			w.path = w.path[:len(w.path)-1]
			referrer, err := l.buckets.Bucket(w.current())
			if err != nil {
				w.callback(policy.Failed(policy.FailureBucketNotFound))
				return
			}
			result = referrer.Default
			if target, ok := result.TargetBucket(); ok && target == left {
				result = policy.NoneResult()
			}

		default:
			l.suspend(w, result)
			return
		}
	}
}

// finish delivers a decision, caching it at the start bucket unless
// the cache was cleared since the walk began.
func (l *Logic) finish(w *walk, decision policy.Decision) {
	if w.cached && w.generation == l.generation {
		l.cache.Put(w.start, w.key, decision)
	}
	w.callback(decision)
}

// suspend hands the check to the agent manager for a plugin result.
func (l *Logic) suspend(w *walk, result policy.Result) {
	if w.simple {
		w.callback(policy.Decided(policy.DenyResult("")))
		return
	}
	plugin, ok := l.plugins.Lookup(result.Type)
	if !ok {
		l.logger.Warn("no plugin registered for policy type",
			"type", result.Type,
			"bucket", w.current(),
			"key", w.key.String(),
		)
		w.callback(policy.Failed(policy.FailureAgentUnavailable))
		return
	}
	payload, err := schema.AgentPayload{
		Client:    w.key.Client,
		User:      w.key.User,
		Privilege: w.key.Privilege,
		Metadata:  result.Metadata,
	}.Encode()
	if err != nil {
		l.logger.Error("encoding agent payload", "error", err)
		w.callback(policy.Failed(policy.FailureAgentUnavailable))
		return
	}

	pending := &agent.PendingCheck{
		Key:         w.key,
		StartBucket: w.start,
		Path:        w.path,
		Visited:     w.visited,
		AgentType:   plugin.Agent,
		Payload:     payload,
		Session:     w.session,
		RequestID:   w.requestID,
		Callback:    w.callback,
		Generation:  w.generation,
	}
	if err := l.agents.RequestAnswer(pending); err != nil {
		l.logger.Info("agent unavailable",
			"agent_type", plugin.Agent,
			"key", w.key.String(),
			"error", err,
		)
		w.callback(policy.Failed(policy.FailureAgentUnavailable))
		return
	}
	l.logger.Debug("check suspended for agent",
		"agent_type", plugin.Agent,
		"bucket", w.current(),
		"key", w.key.String(),
		"session", w.session,
	)
}

// Cancel cancels one pending check of a session.
func (l *Logic) Cancel(session string, requestID uint64) bool {
	return l.agents.Cancel(session, requestID)
}

// CancelSession cancels every pending check of a session. The daemon
// calls it when the session's connection closes.
func (l *Logic) CancelSession(session string) int {
	return l.agents.CancelSession(session)
}

// DeliverAgentAnswer completes the agent call with the given id.
func (l *Logic) DeliverAgentAnswer(id string, answer policy.Result) bool {
	return l.agents.OnAnswer(id, answer)
}

// FailAgentCall fails the agent call with the given id.
func (l *Logic) FailAgentCall(id string, failure policy.Failure) bool {
	return l.agents.Fail(id, failure)
}
