package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"photodeck/pkg/build"
	"photodeck/pkg/metrics"
	"photodeck/pkg/staging"
)

// ErrNotFound is returned when a session ID is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Session owns one user's staging state: the ordered store and the build
// orchestrator driving it.
type Session struct {
	ID        string
	CreatedAt time.Time

	Store        *staging.Store
	Orchestrator *build.Orchestrator

	timer *time.Timer
}

// Factory wires a store and orchestrator for a fresh session.
type Factory func() (*staging.Store, *build.Orchestrator)

// Manager is an in-memory session registry with TTL-based auto-eviction.
// Evicting or deleting a session clears its store, which releases every
// preview handle.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	factory  Factory
	reg      *metrics.Registry
}

// NewManager creates an empty manager.
func NewManager(ttl time.Duration, factory Factory, reg *metrics.Registry) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		factory:  factory,
		reg:      reg,
	}
}

// Create registers a new session under a fresh UUID.
func (m *Manager) Create(ctx context.Context) *Session {
	store, orchestrator := m.factory()
	sess := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now(),
		Store:        store,
		Orchestrator: orchestrator,
	}

	m.mu.Lock()
	// Start the timer before publishing so eviction can never fire on an
	// unregistered session.
	if m.ttl > 0 {
		sess.timer = time.AfterFunc(m.ttl, func() { m.evict(sess.ID) })
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if m.reg != nil {
		m.reg.Inc(ctx, metrics.SessionsTotal, nil, 1)
	}
	return sess
}

// Get returns a live session and resets its idle timer.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if sess.timer != nil {
		sess.timer.Reset(m.ttl)
	}
	return sess, true
}

// Delete tears a session down, releasing its staged resources.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.Store.Clear()
	return nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close tears down every session. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		if sess.timer != nil {
			sess.timer.Stop()
		}
		sess.Store.Clear()
	}
}

// evict expires an idle session. A session with a build in flight gets
// another TTL instead; its store must not mutate under the build.
func (m *Manager) evict(id string) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if sess.Orchestrator.Busy() {
		sess.timer.Reset(m.ttl)
		return
	}
	if err := m.Delete(id); err == nil {
		log.Debug().Str("session_id", id).Msg("session expired")
	}
}
