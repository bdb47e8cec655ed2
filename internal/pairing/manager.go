// Package pairing owns the symmetric session↔session relation. TryPair and
// Unpair are serialized with respect to one another and with IsPaired, which
// is what makes double-pairing impossible: exactly one of two racing TryPair
// calls for the same session succeeds.
package pairing

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QueueRemover is the slice of the matchmaking queue the manager needs:
// TryPair atomically removes both sessions from the queue while creating the
// pairing, so no session is ever observable in both tables at once.
type QueueRemover interface {
	Remove(sessionID string)
}

// Pairing is the symmetric relation between two sessions.
type Pairing struct {
	SessionA  string
	SessionB  string
	RoomTag   string
	CreatedAt time.Time
}

// PartnerOf returns the other half of the pairing, or "" if sessionID is not
// a participant.
func (p *Pairing) PartnerOf(sessionID string) string {
	switch sessionID {
	case p.SessionA:
		return p.SessionB
	case p.SessionB:
		return p.SessionA
	}
	return ""
}

// Manager holds the pairing table. All operations take the single mutex, so
// a skip can never race with a concurrent new match of the same session.
type Manager struct {
	mu    sync.Mutex
	byID  map[string]*Pairing // both halves point at the same record
	queue QueueRemover
}

// NewManager creates a pairing manager. The queue remover is consulted by
// TryPair; it may be nil in tests that have no queue.
func NewManager(queue QueueRemover) *Manager {
	return &Manager{
		byID:  make(map[string]*Pairing),
		queue: queue,
	}
}

// TryPair atomically checks that neither session is currently paired and
// creates the symmetric record, removing both sessions from the matchmaking
// queue in the same critical section. The notify callback (may be nil) runs
// under the lock, before any other goroutine can observe the pairing via
// PartnerOf — emitting match-found there guarantees both peers receive it
// before any relayed event of this pairing.
//
// Returns nil if a == b or either session is already paired.
func (m *Manager) TryPair(a, b string, notify func(p *Pairing)) *Pairing {
	if a == b || a == "" || b == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, paired := m.byID[a]; paired {
		return nil
	}
	if _, paired := m.byID[b]; paired {
		return nil
	}

	p := &Pairing{
		SessionA:  a,
		SessionB:  b,
		RoomTag:   uuid.New().String(),
		CreatedAt: time.Now(),
	}
	m.byID[a] = p
	m.byID[b] = p

	if m.queue != nil {
		m.queue.Remove(a)
		m.queue.Remove(b)
	}

	if notify != nil {
		notify(p)
	}

	log.Printf("[pairing] paired a=%s b=%s room=%s", a, b, p.RoomTag)
	return p
}

// Unpair atomically removes both halves of the session's pairing. The notify
// callback (may be nil) runs under the lock before the record is deleted, so
// both peers can be told match-ended while the pairing still exists and
// neither observes the other as paired after receiving the notification.
//
// Returns the former partner's ID and true, or "" and false if the session
// was not paired (a repeated Unpair is a no-op).
func (m *Manager) Unpair(sessionID string, notify func(p *Pairing)) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[sessionID]
	if !ok {
		return "", false
	}

	if notify != nil {
		notify(p)
	}

	delete(m.byID, p.SessionA)
	delete(m.byID, p.SessionB)

	partner := p.PartnerOf(sessionID)
	log.Printf("[pairing] unpaired session=%s partner=%s room=%s", sessionID, partner, p.RoomTag)
	return partner, true
}

// PartnerOf returns the session's current partner, or "" if unpaired.
func (m *Manager) PartnerOf(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.byID[sessionID]; ok {
		return p.PartnerOf(sessionID)
	}
	return ""
}

// IsPaired reports whether the session is currently in a pairing.
func (m *Manager) IsPaired(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[sessionID]
	return ok
}

// Get returns the session's pairing record, or nil.
func (m *Manager) Get(sessionID string) *Pairing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[sessionID]
}

// Count returns the number of active pairings.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID) / 2
}
