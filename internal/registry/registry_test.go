package registry

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/veilmeet/roulette/internal/protocol"
)

func newTestSession(t *testing.T, r *Registry, fd int) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return r.Register(server, fd)
}

func TestRegisterAssignsUniqueSessions(t *testing.T) {
	r := New()

	s1 := newTestSession(t, r, 10)
	s2 := newTestSession(t, r, 11)

	if s1.ID == "" || s2.ID == "" {
		t.Fatal("expected non-empty session IDs")
	}
	if s1.ID == s2.ID {
		t.Fatal("session IDs must be unique")
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
	if r.Get(s1.ID) != s1 {
		t.Error("Get did not return the registered session")
	}
	if r.GetByFd(11) != s2 {
		t.Error("GetByFd did not return the registered session")
	}
}

func TestUnregisterRunsHookBeforeReturn(t *testing.T) {
	r := New()
	s := newTestSession(t, r, 20)

	var hookRan bool
	r.SetUnregisterHook(func(sessionID string) {
		hookRan = true
		if sessionID != s.ID {
			t.Errorf("hook got session %q, want %q", sessionID, s.ID)
		}
		// The session is already out of the table when the hook runs, so
		// any delivery attempt during cleanup reports not-delivered.
		if r.Get(sessionID) != nil {
			t.Error("session still visible during unregister hook")
		}
		if err := r.Send(sessionID, []byte("{}")); !errors.Is(err, ErrNotDelivered) {
			t.Errorf("Send during hook = %v, want ErrNotDelivered", err)
		}
	})

	if !r.Unregister(s.ID) {
		t.Fatal("Unregister returned false for a live session")
	}
	if !hookRan {
		t.Fatal("unregister hook did not run before Unregister returned")
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d after unregister, want 0", r.Count())
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New()
	s := newTestSession(t, r, 30)

	hookCalls := 0
	r.SetUnregisterHook(func(string) { hookCalls++ })

	if !r.Unregister(s.ID) {
		t.Fatal("first Unregister returned false")
	}
	if r.Unregister(s.ID) {
		t.Fatal("second Unregister returned true, want false")
	}
	if hookCalls != 1 {
		t.Fatalf("hook ran %d times, want 1", hookCalls)
	}
}

func TestSendToUnknownSession(t *testing.T) {
	r := New()

	err := r.Send("no-such-session", []byte("{}"))
	if !errors.Is(err, ErrNotDelivered) {
		t.Fatalf("Send = %v, want ErrNotDelivered", err)
	}
}

func TestSendToStalledClientFailsAtDeadline(t *testing.T) {
	r := New()
	r.SetWriteTimeout(50 * time.Millisecond)
	s := newTestSession(t, r, 35)

	// The pipe peer never reads, so the write can only end at the deadline.
	// Without it, Send would block forever and so would every caller holding
	// a lock across delivery.
	start := time.Now()
	err := r.Send(s.ID, []byte(`{"type":"match-found"}`))
	if !errors.Is(err, ErrNotDelivered) {
		t.Fatalf("Send to stalled client = %v, want ErrNotDelivered", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Send blocked for %s, want failure near the 50ms deadline", elapsed)
	}
}

func TestSessionActivityConcurrentTouch(t *testing.T) {
	r := New()
	s := newTestSession(t, r, 36)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Touch()
			}
		}()
	}
	for j := 0; j < 200; j++ {
		if s.LastActive().IsZero() {
			t.Fatal("LastActive returned zero for a live session")
		}
	}
	wg.Wait()
}

func TestAllReturnsSnapshot(t *testing.T) {
	r := New()
	newTestSession(t, r, 40)
	newTestSession(t, r, 41)

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d sessions, want 2", len(all))
	}
}

func TestSessionSearchProfile(t *testing.T) {
	r := New()
	s := newTestSession(t, r, 50)

	// Unauthenticated, no profile: anonymous free tier.
	userID, tier, _ := s.SearchProfile()
	if userID != "" {
		t.Errorf("fresh session userID = %q, want empty", userID)
	}
	if tier != protocol.TierFree {
		t.Errorf("fresh session tier = %q, want %q", tier, protocol.TierFree)
	}

	prefs := protocol.Preferences{Tier: protocol.TierPremium, Gender: "any", Region: "eu"}
	s.SetSearchProfile("u1", prefs)

	userID, tier, got := s.SearchProfile()
	if userID != "u1" {
		t.Errorf("userID = %q, want %q", userID, "u1")
	}
	// No bound identity: the tier falls back to the requested preference.
	if tier != protocol.TierPremium {
		t.Errorf("tier = %q, want %q", tier, protocol.TierPremium)
	}
	if got != prefs {
		t.Errorf("prefs = %+v, want %+v", got, prefs)
	}
}

func TestBindIdentityWinsOverProfile(t *testing.T) {
	r := New()
	s := newTestSession(t, r, 51)

	s.BindIdentity("acct-9", protocol.TierPro)
	s.SetSearchProfile("spoofed", protocol.Preferences{Tier: protocol.TierFree})

	userID, tier, _ := s.SearchProfile()
	if userID != "acct-9" {
		t.Errorf("userID = %q, want bound identity %q", userID, "acct-9")
	}
	if tier != protocol.TierPro {
		t.Errorf("tier = %q, want bound tier %q", tier, protocol.TierPro)
	}
}
