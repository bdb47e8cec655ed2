package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/veilmeet/roulette/internal/protocol"
)

// Session is one live bidirectional client connection. The SessionID is
// unique for the lifetime of the process and is never shared across
// reconnects. Identity fields start empty/anonymous and are bound once via
// BindIdentity or SetSearchProfile.
type Session struct {
	ID        string    // session ID (UUID)
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups
	CreatedAt time.Time // when the connection was established

	lastPing atomic.Int64 // unix nanos of the last activity from the client

	writeTimeout time.Duration // per-frame write deadline, copied from the registry
	writeMu      sync.Mutex    // serializes outbound frames (per-session ordering)
	processing   int32         // atomic flag: 0 = idle, 1 = being read by the worker

	mu     sync.RWMutex // guards identity and search profile below
	userID string
	tier   protocol.Tier
	prefs  protocol.Preferences
}

// Touch records activity from the client. Called by the read path on every
// frame; the heartbeat monitor reads it concurrently via LastActive.
func (s *Session) Touch() {
	s.lastPing.Store(time.Now().UnixNano())
}

// LastActive returns the time of the most recent activity from the client.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastPing.Load())
}

// WriteMessage sends a WebSocket text frame to this session. The write mutex
// ensures that concurrent goroutines do not interleave frame bytes, which is
// what gives Send its per-session ordering guarantee. The write deadline
// bounds how long a client that stopped reading can hold the caller: the
// write fails instead of blocking, and Send reports not-delivered.
func (s *Session) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer s.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(s.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection, serialized with application writes by the same mutex and
// bounded by the same write deadline.
func (s *Session) WritePing() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer s.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(s.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (s *Session) Close() error {
	return s.Conn.Close()
}

// TryAcquireRead marks the session as being read by a worker. It returns
// false if another worker already holds it, guarding against duplicate
// dispatch from level-triggered epoll.
func (s *Session) TryAcquireRead() bool {
	return atomic.CompareAndSwapInt32(&s.processing, 0, 1)
}

// ReleaseRead clears the read-worker flag set by TryAcquireRead.
func (s *Session) ReleaseRead() {
	atomic.StoreInt32(&s.processing, 0)
}

// BindIdentity records the authenticated user ID and tier for this session.
func (s *Session) BindIdentity(userID string, tier protocol.Tier) {
	s.mu.Lock()
	s.userID = userID
	s.tier = tier
	s.mu.Unlock()
}

// Identity returns the bound user ID and tier. The user ID is empty for
// sessions that never authenticated and never searched.
func (s *Session) Identity() (string, protocol.Tier) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.tier
}

// SetSearchProfile stores the user ID and preferences of the most recent
// find-match request. The skip auto-requeue path re-enqueues with this
// profile when the skip event carries no replacement.
func (s *Session) SetSearchProfile(userID string, prefs protocol.Preferences) {
	s.mu.Lock()
	if s.userID == "" {
		s.userID = userID
	}
	s.prefs = prefs
	s.mu.Unlock()
}

// SearchProfile returns the effective user ID, tier and preferences for
// (re-)enqueueing this session.
func (s *Session) SearchProfile() (string, protocol.Tier, protocol.Preferences) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tier := s.tier
	if !tier.Valid() {
		tier = s.prefs.Tier
	}
	if !tier.Valid() {
		tier = protocol.TierFree
	}
	return s.userID, tier, s.prefs
}
