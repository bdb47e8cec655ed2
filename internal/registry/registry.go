// Package registry is the connection registry: it tracks every live client
// session, delivers events to specific sessions, and fans out disconnect
// notifications. Delivery is at-most-once and ordered per session; the
// registry never retries.
package registry

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotDelivered is returned by Send when the target session is gone or its
// connection refused the write. Callers treat this as a silent drop.
var ErrNotDelivered = errors.New("registry: event not delivered")

// UnregisterHook is invoked synchronously while a session is being removed,
// before Unregister returns. It is the single authoritative disconnect
// trigger: search-driver teardown, unpairing and queue removal all hang off
// this hook.
type UnregisterHook func(sessionID string)

// DefaultWriteTimeout bounds a single outbound frame write. A client that
// stopped reading (full TCP send buffer) fails the write at the deadline
// instead of blocking the sender; Send reports ErrNotDelivered.
const DefaultWriteTimeout = 10 * time.Second

// Registry is a thread-safe table of live sessions with O(1) lookups by
// session ID and by file descriptor.
type Registry struct {
	mu           sync.RWMutex
	byID         map[string]*Session // session_id -> Session
	byFd         map[int]*Session    // fd -> Session
	writeTimeout time.Duration       // copied onto each session at Register

	hookMu sync.RWMutex
	hook   UnregisterHook
}

// New creates an empty Registry ready for use.
func New() *Registry {
	return &Registry{
		byID:         make(map[string]*Session),
		byFd:         make(map[int]*Session),
		writeTimeout: DefaultWriteTimeout,
	}
}

// SetWriteTimeout overrides the per-frame write deadline applied to sessions
// registered after the call. Like SetUnregisterHook it belongs in startup
// wiring, before the first connection is accepted.
func (r *Registry) SetWriteTimeout(d time.Duration) {
	r.mu.Lock()
	r.writeTimeout = d
	r.mu.Unlock()
}

// SetUnregisterHook installs the disconnect hook. It must be set during
// startup wiring, before the first connection is accepted.
func (r *Registry) SetUnregisterHook(hook UnregisterHook) {
	r.hookMu.Lock()
	r.hook = hook
	r.hookMu.Unlock()
}

// Register allocates a fresh SessionID for the connection, records the
// delivery handle and returns the new Session.
func (r *Registry) Register(conn net.Conn, fd int) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
	}
	s.Touch()

	r.mu.Lock()
	s.writeTimeout = r.writeTimeout
	r.byID[s.ID] = s
	r.byFd[fd] = s
	r.mu.Unlock()
	return s
}

// Unregister removes the session, closes its connection and runs the
// disconnect hook. All disconnect cleanup (driver stop, unpair, dequeue)
// completes before Unregister returns. Returns false if the session was
// already gone, which prevents double cleanup when a read error and a
// heartbeat timeout race to remove the same session.
func (r *Registry) Unregister(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.byID[sessionID]
	if ok {
		delete(r.byID, sessionID)
		delete(r.byFd, s.Fd)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.hookMu.RLock()
	hook := r.hook
	r.hookMu.RUnlock()
	if hook != nil {
		hook(sessionID)
	}

	if err := s.Close(); err != nil {
		log.Printf("[registry] close session=%s: %v", sessionID, err)
	}
	return true
}

// Send delivers an event to the session, best effort. Events to the same
// session are serialized in Send-call order by the session's write mutex.
// Returns ErrNotDelivered if the session is gone or the write failed; the
// registry does not retry.
func (r *Registry) Send(sessionID string, data []byte) error {
	s := r.Get(sessionID)
	if s == nil {
		return ErrNotDelivered
	}
	if err := s.WriteMessage(data); err != nil {
		return errors.Join(ErrNotDelivered, err)
	}
	return nil
}

// Get returns the session for the given ID, or nil if not found.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.RLock()
	s := r.byID[sessionID]
	r.mu.RUnlock()
	return s
}

// GetByFd returns the session for the given file descriptor, or nil.
func (r *Registry) GetByFd(fd int) *Session {
	r.mu.RLock()
	s := r.byFd[fd]
	r.mu.RUnlock()
	return s
}

// Count returns the current number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all current sessions. The returned slice is safe
// to iterate without holding the lock.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	return sessions
}
