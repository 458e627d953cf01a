// Package sandbox implements the sandbox session registry (§4.B):
// create/get/delete/connect, TTL expiry, and a background reaper.
// Modeled after the teacher's agent-record lifecycle
// (kvstore.AgentRecord + cursor.Client's launch/poll/stop idiom) and
// poller.go's cleanupStaleAgents loop, generalized from one Cursor
// background agent to an arbitrary containerized session.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/internal/errkind"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/transport"
)

// ContainerHandle is the runtime-specific side of one sandbox session.
// Kept as an interface so the registry stays agnostic of the actual
// container runtime, which spec.md §1 scopes out of this system;
// internal/sandbox/execbackend provides the reference implementation.
type ContainerHandle interface {
	// Connect opens a new framed stdio connection for a spawn request.
	Connect(ctx context.Context) (*transport.Conn, error)
	// Teardown stops the container and releases its resources.
	Teardown(ctx context.Context) error
}

// Backend creates container handles for new sessions.
type Backend interface {
	Create(ctx context.Context, opts CreateOptions) (ContainerHandle, error)
}

// CreateOptions configures a new session.
type CreateOptions struct {
	// Secrets are injected into every spawn in this session's
	// container; they must never surface in a frame except as a side
	// effect of a child process printing them.
	Secrets map[string]string
	TTL     time.Duration
}

// Status is a session's externally visible state.
type Status struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

type session struct {
	Status
	handle ContainerHandle
}

const defaultTTL = 30 * time.Minute

// Registry tracks live sandbox sessions.
type Registry struct {
	backend Backend
	log     *observability.Logger

	mu       sync.Mutex
	sessions map[string]*session

	now func() time.Time
}

// NewRegistry constructs a Registry backed by the given container
// backend.
func NewRegistry(backend Backend, log *observability.Logger) *Registry {
	return &Registry{
		backend:  backend,
		log:      log,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// CreateSession creates or returns an existing session bound to id (a
// server-generated UUID if id is empty). Idempotent on an unexpired ID.
func (r *Registry) CreateSession(ctx context.Context, id string, opts CreateOptions) (string, time.Duration, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if existing, ok := r.sessions[id]; ok && r.now().Before(existing.ExpiresAt) {
			return id, existing.ExpiresAt.Sub(r.now()), nil
		}
	} else {
		id = uuid.NewString()
	}

	handle, err := r.backend.Create(ctx, opts)
	if err != nil {
		return "", 0, fmt.Errorf("create sandbox container: %w", err)
	}

	now := r.now()
	r.sessions[id] = &session{
		Status: Status{ID: id, CreatedAt: now, LastActiveAt: now, ExpiresAt: now.Add(ttl)},
		handle: handle,
	}
	r.log.Debugw("sandbox session created", "session_id", id, "ttl", ttl.String())
	return id, ttl, nil
}

// GetSession returns a session's status, failing with errkind.NotFound
// if it has expired or was never created.
func (r *Registry) GetSession(id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !r.now().Before(s.ExpiresAt) {
		return Status{}, errkind.NotFound
	}
	return s.Status, nil
}

// DeleteSession tears down a session's container and invalidates its ID.
func (r *Registry) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return errkind.NotFound
	}
	if err := s.handle.Teardown(ctx); err != nil {
		return fmt.Errorf("teardown sandbox session %s: %w", id, err)
	}
	r.log.Debugw("sandbox session deleted", "session_id", id)
	return nil
}

// Connect opens a framed stdio connection to a live session, refreshing
// its last-active timestamp. Multiple connections per session are
// permitted and drive independent spawn requests.
func (r *Registry) Connect(ctx context.Context, id string) (*transport.Conn, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok && r.now().Before(s.ExpiresAt) {
		s.LastActiveAt = r.now()
	}
	r.mu.Unlock()

	if !ok {
		return nil, errkind.NotFound
	}
	if !r.now().Before(s.ExpiresAt) {
		return nil, errkind.NotFound
	}
	return s.handle.Connect(ctx)
}

// Reap tears down every expired session, mirroring poller.go's
// cleanupStaleAgents sweep. Returns the number of sessions removed.
func (r *Registry) Reap(ctx context.Context) int {
	r.mu.Lock()
	var expired []*session
	now := r.now()
	for id, s := range r.sessions {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		if err := s.handle.Teardown(ctx); err != nil {
			r.log.Warnw("failed to tear down expired sandbox session", "session_id", s.ID, "error", err.Error())
		}
	}
	if len(expired) > 0 {
		r.log.Infow("reaped expired sandbox sessions", "count", len(expired))
	}
	return len(expired)
}

// RunReaper starts a background loop calling Reap on interval until ctx
// is cancelled.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(ctx)
		}
	}
}
