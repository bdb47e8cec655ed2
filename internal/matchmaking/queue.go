// Package matchmaking holds the waiting-session queue, finds and scores
// compatible partners, and runs the per-session search drivers that poll the
// queue with adaptive backoff until matched or cancelled.
package matchmaking

import (
	"log"
	"sync"
	"time"

	"github.com/veilmeet/roulette/internal/protocol"
)

// Entry is a session currently waiting for a partner.
type Entry struct {
	SessionID      string
	UserID         string
	Tier           protocol.Tier
	Prefs          protocol.Preferences
	Blocked        map[string]struct{} // user IDs this user has blocked
	EnqueuedAt     time.Time
	SearchAttempts int
}

// WaitMs returns how long the entry has been queued, in milliseconds.
func (e *Entry) WaitMs(now time.Time) int64 {
	return now.Sub(e.EnqueuedAt).Milliseconds()
}

// Blocks reports whether this entry's user has blocked the given user ID.
// Block comparisons are always over user IDs, never session IDs.
func (e *Entry) Blocks(userID string) bool {
	_, ok := e.Blocked[userID]
	return ok
}

// Snapshot is a read-only view of queue occupancy for observability and for
// the driver's adaptive interval computation.
type Snapshot struct {
	Total   int
	PerTier map[protocol.Tier]int
}

// Queue holds all waiting sessions plus a redundant tier index that stays in
// sync with the entry table under the same mutex. A session ID appears at
// most once; Enqueue of an already-queued session replaces the prior entry.
type Queue struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	tiers   map[protocol.Tier]map[string]struct{}
	wake    chan struct{} // closed and replaced on every Enqueue

	now       func() time.Time // injectable clock for tests
	randFloat func() float64   // injectable RNG for the score jitter/draw
}

// NewQueue creates an empty matchmaking queue.
func NewQueue() *Queue {
	q := &Queue{
		entries: make(map[string]*Entry),
		tiers:   make(map[protocol.Tier]map[string]struct{}),
		wake:    make(chan struct{}),
		now:     time.Now,
		randFloat: func() float64 {
			return defaultRandFloat()
		},
	}
	for _, t := range protocol.Tiers {
		q.tiers[t] = make(map[string]struct{})
	}
	return q
}

// Enqueue inserts the entry, replacing any prior entry for the same session
// (idempotent re-insertion: queue size is unchanged by a re-enqueue). The
// caller must have cleared any pairing first. Every enqueue wakes all
// waiting search drivers so a fresh arrival is matched within one tick.
func (q *Queue) Enqueue(e *Entry) {
	if !e.Tier.Valid() {
		e.Tier = protocol.TierFree
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.now()
	}

	q.mu.Lock()
	if prev, ok := q.entries[e.SessionID]; ok {
		delete(q.tiers[prev.Tier], prev.SessionID)
	}
	q.entries[e.SessionID] = e
	q.tiers[e.Tier][e.SessionID] = struct{}{}

	// Broadcast: close the current wake channel and hand out a new one.
	close(q.wake)
	q.wake = make(chan struct{})
	size := len(q.entries)
	q.mu.Unlock()

	log.Printf("[matchmaker] enqueued session=%s user=%s tier=%s (queue size: %d)",
		e.SessionID, e.UserID, e.Tier, size)
}

// Remove deletes the session from the queue and its tier bucket. No-op if
// the session is not queued.
func (q *Queue) Remove(sessionID string) {
	q.mu.Lock()
	if e, ok := q.entries[sessionID]; ok {
		delete(q.entries, sessionID)
		delete(q.tiers[e.Tier], sessionID)
	}
	q.mu.Unlock()
}

// IsQueued reports whether the session currently has a queue entry.
func (q *Queue) IsQueued(sessionID string) bool {
	q.mu.RLock()
	_, ok := q.entries[sessionID]
	q.mu.RUnlock()
	return ok
}

// Entry returns a copy of the session's queue entry, or nil if absent.
func (q *Queue) Entry(sessionID string) *Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if e, ok := q.entries[sessionID]; ok {
		cp := *e
		return &cp
	}
	return nil
}

// Snapshot returns read-only occupancy counts.
func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	snap := Snapshot{
		Total:   len(q.entries),
		PerTier: make(map[protocol.Tier]int, len(q.tiers)),
	}
	for t, bucket := range q.tiers {
		snap.PerTier[t] = len(bucket)
	}
	return snap
}

// WakeSignal returns a channel that is closed the next time any session is
// enqueued. Drivers select on it alongside their poll timer so a new arrival
// cuts the average match latency.
func (q *Queue) WakeSignal() <-chan struct{} {
	q.mu.RLock()
	ch := q.wake
	q.mu.RUnlock()
	return ch
}

// FindMatch returns a compatible partner for the session, or nil when no
// candidate exists. It increments the caller's search-attempt counter but
// never modifies queue membership; promoting the returned candidate into a
// pairing is the pairing manager's job. The returned entry is a copy taken
// under the lock.
func (q *Queue) FindMatch(sessionID string) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	caller, ok := q.entries[sessionID]
	if !ok {
		return nil
	}
	caller.SearchAttempts++

	now := q.now()
	callerWait := caller.WaitMs(now)

	// Phase 1: same-tier candidates honoring region/gender filters.
	candidates := q.collect(caller, now, q.tiers[caller.Tier], true, false)

	// Phase 2: cross-tier, entered when phase 1 came up empty or the caller
	// has waited past the cross-tier threshold.
	if len(candidates) == 0 || callerWait > crossTierAfterMs {
		for _, t := range protocol.Tiers {
			if t == caller.Tier {
				continue
			}
			candidates = append(candidates, q.collect(caller, now, q.tiers[t], false, false)...)
		}
	}

	// Phase 3: relaxed — whole queue, region/gender filters ignored, only
	// the mutual block check kept.
	if len(candidates) == 0 {
		for _, t := range protocol.Tiers {
			same := t == caller.Tier
			candidates = append(candidates, q.collect(caller, now, q.tiers[t], same, true)...)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	chosen := pickWeighted(candidates, q.randFloat)
	cp := *chosen
	return &cp
}

// collect gathers scored candidates from one tier bucket. relaxed drops the
// region/gender filters while keeping the mutual block check.
func (q *Queue) collect(caller *Entry, now time.Time, bucket map[string]struct{}, tierMatch, relaxed bool) []scoredCandidate {
	var out []scoredCandidate
	for sid := range bucket {
		cand, ok := q.entries[sid]
		if !ok {
			continue // bucket out of sync would be a bug; tolerate stale id
		}
		if !compatible(caller, cand, relaxed) {
			continue
		}
		out = append(out, scoredCandidate{
			entry: cand,
			score: score(caller, cand, now, tierMatch, q.randFloat),
		})
	}
	return out
}

// compatible applies the compatibility rule between caller U and candidate C.
// The check is asymmetric by design: only the caller's preferences gate the
// candidate, except the block check which is always mutual and over user IDs.
func compatible(caller, cand *Entry, relaxed bool) bool {
	if cand.SessionID == caller.SessionID {
		return false
	}
	if caller.Blocks(cand.UserID) || cand.Blocks(caller.UserID) {
		return false
	}
	if relaxed {
		return true
	}
	if caller.Prefs.Region != protocol.PrefAny && cand.Prefs.Region != caller.Prefs.Region {
		return false
	}
	if caller.Prefs.Gender != protocol.PrefAny && cand.Prefs.Gender != caller.Prefs.Gender {
		return false
	}
	return true
}
