package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/veilmeet/roulette/internal/pairing"
)

// MatchFunc is invoked inside TryPair's critical section when a driver wins a
// pairing. caller and partner are entry copies taken before the pair was
// committed; implementations emit match-found to both sessions.
type MatchFunc func(p *pairing.Pairing, caller, partner *Entry)

// TickFunc is invoked on every unsuccessful poll; implementations emit the
// searching progress event. entry is a copy; snap is the queue occupancy at
// tick time.
type TickFunc func(entry *Entry, snap Snapshot)

// Supervisor runs at most one search driver per session. Drivers are
// long-lived cancellable goroutines; cancellation is cooperative and is
// always observed before the next FindMatch and before any TryPair.
type Supervisor struct {
	queue   *Queue
	pairs   *pairing.Manager
	onMatch MatchFunc
	onTick  TickFunc

	mu      sync.Mutex
	drivers map[string]*driver
}

// NewSupervisor creates a driver supervisor over the given queue and pairing
// manager. The callbacks are shared by all drivers.
func NewSupervisor(queue *Queue, pairs *pairing.Manager, onMatch MatchFunc, onTick TickFunc) *Supervisor {
	return &Supervisor{
		queue:   queue,
		pairs:   pairs,
		onMatch: onMatch,
		onTick:  onTick,
		drivers: make(map[string]*driver),
	}
}

type driver struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Start launches a search driver for the session, replacing (and cancelling)
// any driver already running for it.
func (s *Supervisor) Start(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &driver{
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if prev, ok := s.drivers[sessionID]; ok {
		prev.cancel()
	}
	s.drivers[sessionID] = d
	s.mu.Unlock()

	go s.run(d)
}

// Stop cancels the session's driver if one is running. A driver that has
// already paired cannot be cancelled after the fact; the pairing stands.
// Returns true if a driver was found.
func (s *Supervisor) Stop(sessionID string) bool {
	s.mu.Lock()
	d, ok := s.drivers[sessionID]
	if ok {
		delete(s.drivers, sessionID)
	}
	s.mu.Unlock()

	if ok {
		d.cancel()
	}
	return ok
}

// StopAll cancels every running driver and waits for the loops to exit.
// Used during graceful shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	drivers := make([]*driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		drivers = append(drivers, d)
	}
	s.drivers = make(map[string]*driver)
	s.mu.Unlock()

	for _, d := range drivers {
		d.cancel()
		<-d.done
	}
}

// Running reports whether a driver is currently registered for the session.
func (s *Supervisor) Running(sessionID string) bool {
	s.mu.Lock()
	_, ok := s.drivers[sessionID]
	s.mu.Unlock()
	return ok
}

// remove clears the supervisor slot if it still belongs to d (a replacement
// driver must not be evicted by its predecessor's exit).
func (s *Supervisor) remove(d *driver) {
	s.mu.Lock()
	if cur, ok := s.drivers[d.sessionID]; ok && cur == d {
		delete(s.drivers, d.sessionID)
	}
	s.mu.Unlock()
}

// run is the driver loop: poll FindMatch, promote via TryPair, otherwise
// tick and sleep for the adaptive interval or until a new enqueue wakes us.
func (s *Supervisor) run(d *driver) {
	defer close(d.done)
	defer s.remove(d)

	for {
		if d.ctx.Err() != nil {
			return
		}

		cand := s.queue.FindMatch(d.sessionID)
		if cand != nil {
			// Entry copy for the match-found payload; taken before TryPair
			// removes the caller from the queue.
			caller := s.queue.Entry(d.sessionID)
			if caller == nil {
				return // dequeued by cancel or disconnect mid-poll
			}

			// Cancellation check between FindMatch and TryPair: a cancelled
			// driver performs no further TryPair.
			if d.ctx.Err() != nil {
				return
			}

			p := s.pairs.TryPair(d.sessionID, cand.SessionID, func(p *pairing.Pairing) {
				if s.onMatch != nil {
					s.onMatch(p, caller, cand)
				}
			})
			if p != nil {
				// Stop the partner's driver; ours stops by returning.
				s.Stop(cand.SessionID)
				return
			}

			if s.pairs.IsPaired(d.sessionID) {
				// A racing driver paired us first. Terminate silently.
				return
			}
			// The candidate was taken; poll again immediately.
			continue
		}

		entry := s.queue.Entry(d.sessionID)
		if entry == nil {
			return // no longer queued
		}
		snap := s.queue.Snapshot()
		if s.onTick != nil {
			s.onTick(entry, snap)
		}

		wake := s.queue.WakeSignal()
		timer := time.NewTimer(pollInterval(snap.Total, entry.SearchAttempts))
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// pollInterval computes the adaptive delay before the next poll from the
// queue occupancy and the caller's attempt count. A lone waiter backs off
// exponentially (capped at 10s); a near-empty queue polls fast; otherwise
// the interval grows with the attempt count.
func pollInterval(queueSize, attempts int) time.Duration {
	switch {
	case queueSize == 1:
		shift := attempts / 5
		if shift > 4 {
			shift = 4 // 2^4s already exceeds the 10s cap
		}
		iv := time.Duration(1<<uint(shift)) * time.Second
		if iv > 10*time.Second {
			iv = 10 * time.Second
		}
		return iv
	case queueSize <= 2:
		return 500 * time.Millisecond
	case attempts < 5:
		return time.Second
	case attempts < 15:
		return 2 * time.Second
	default:
		return 3 * time.Second
	}
}
