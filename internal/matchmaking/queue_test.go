package matchmaking

import (
	"testing"
	"time"

	"github.com/veilmeet/roulette/internal/protocol"
)

func testEntry(sessionID, userID string, tier protocol.Tier) *Entry {
	return &Entry{
		SessionID: sessionID,
		UserID:    userID,
		Tier:      tier,
		Prefs:     protocol.Preferences{Tier: tier, Gender: protocol.PrefAny, Region: protocol.PrefAny},
	}
}

// newTestQueue pins the clock and the RNG so scoring and selection are
// deterministic.
func newTestQueue(now time.Time) *Queue {
	q := NewQueue()
	q.now = func() time.Time { return now }
	q.randFloat = func() float64 { return 0 }
	return q
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q := newTestQueue(time.Now())

	q.Enqueue(testEntry("s1", "u1", protocol.TierFree))
	q.Enqueue(testEntry("s1", "u1", protocol.TierPremium))

	snap := q.Snapshot()
	if snap.Total != 1 {
		t.Fatalf("queue size = %d after re-enqueue, want 1", snap.Total)
	}
	if snap.PerTier[protocol.TierPremium] != 1 {
		t.Errorf("premium bucket = %d, want 1", snap.PerTier[protocol.TierPremium])
	}
	if snap.PerTier[protocol.TierFree] != 0 {
		t.Errorf("free bucket = %d after tier change, want 0", snap.PerTier[protocol.TierFree])
	}
}

func TestRemoveAndIsQueued(t *testing.T) {
	q := newTestQueue(time.Now())

	q.Enqueue(testEntry("s1", "u1", protocol.TierFree))
	if !q.IsQueued("s1") {
		t.Fatal("s1 should be queued")
	}

	q.Remove("s1")
	if q.IsQueued("s1") {
		t.Fatal("s1 still queued after Remove")
	}
	q.Remove("s1") // repeated remove is a no-op

	if q.Snapshot().Total != 0 {
		t.Errorf("queue size = %d, want 0", q.Snapshot().Total)
	}
}

func TestFindMatchTwoPeers(t *testing.T) {
	q := newTestQueue(time.Now())

	q.Enqueue(testEntry("s1", "u1", protocol.TierFree))
	q.Enqueue(testEntry("s2", "u2", protocol.TierFree))

	cand := q.FindMatch("s1")
	if cand == nil {
		t.Fatal("FindMatch returned nil with a compatible peer queued")
	}
	if cand.SessionID != "s2" {
		t.Errorf("matched %q, want %q", cand.SessionID, "s2")
	}

	// The returned entry is a copy; membership is unchanged.
	if !q.IsQueued("s1") || !q.IsQueued("s2") {
		t.Error("FindMatch must not modify queue membership")
	}
}

func TestFindMatchIncrementsAttempts(t *testing.T) {
	q := newTestQueue(time.Now())
	q.Enqueue(testEntry("s1", "u1", protocol.TierFree))

	for i := 0; i < 3; i++ {
		if q.FindMatch("s1") != nil {
			t.Fatal("unexpected match in an otherwise empty queue")
		}
	}
	if got := q.Entry("s1").SearchAttempts; got != 3 {
		t.Errorf("SearchAttempts = %d, want 3", got)
	}
}

func TestFindMatchUnknownSession(t *testing.T) {
	q := newTestQueue(time.Now())
	q.Enqueue(testEntry("s1", "u1", protocol.TierFree))

	if q.FindMatch("ghost") != nil {
		t.Error("FindMatch for an unqueued session must return nil")
	}
}

func TestMutualBlockFilter(t *testing.T) {
	q := newTestQueue(time.Now())

	e1 := testEntry("s1", "u1", protocol.TierFree)
	e1.Blocked = map[string]struct{}{"u2": {}}
	q.Enqueue(e1)
	q.Enqueue(testEntry("s2", "u2", protocol.TierFree))

	// Blocks are mutual: neither direction may match.
	if q.FindMatch("s1") != nil {
		t.Error("s1 matched a user it blocks")
	}
	if q.FindMatch("s2") != nil {
		t.Error("s2 matched a user that blocks it")
	}
	if q.Snapshot().Total != 2 {
		t.Errorf("queue size = %d, want both sessions still queued", q.Snapshot().Total)
	}
}

func TestRegionAndGenderFilters(t *testing.T) {
	q := newTestQueue(time.Now())

	caller := testEntry("s1", "u1", protocol.TierFree)
	caller.Prefs.Region = "eu"
	q.Enqueue(caller)

	usPeer := testEntry("s2", "u2", protocol.TierFree)
	usPeer.Prefs.Region = "us"
	q.Enqueue(usPeer)

	// Phase 1 and 2 filter on region, but phase 3 relaxes the filters, so
	// the cross-region peer is still matched rather than starving the caller.
	cand := q.FindMatch("s1")
	if cand == nil {
		t.Fatal("relaxed phase should still produce a match")
	}
	if cand.SessionID != "s2" {
		t.Errorf("matched %q, want %q", cand.SessionID, "s2")
	}
}

func TestRegionFilterPrefersCompatible(t *testing.T) {
	q := newTestQueue(time.Now())

	caller := testEntry("s1", "u1", protocol.TierFree)
	caller.Prefs.Region = "eu"
	q.Enqueue(caller)

	usPeer := testEntry("s2", "u2", protocol.TierFree)
	usPeer.Prefs.Region = "us"
	q.Enqueue(usPeer)

	euPeer := testEntry("s3", "u3", protocol.TierFree)
	euPeer.Prefs.Region = "eu"
	q.Enqueue(euPeer)

	// With a region-compatible peer available, phase 1 selects it and the
	// relaxed phase never runs.
	cand := q.FindMatch("s1")
	if cand == nil {
		t.Fatal("expected a match")
	}
	if cand.SessionID != "s3" {
		t.Errorf("matched %q, want region-compatible %q", cand.SessionID, "s3")
	}
}

func TestSameTierPreferred(t *testing.T) {
	q := newTestQueue(time.Now())

	q.Enqueue(testEntry("s1", "u1", protocol.TierPremium))
	q.Enqueue(testEntry("s2", "u2", protocol.TierFree))
	q.Enqueue(testEntry("s3", "u3", protocol.TierPremium))

	cand := q.FindMatch("s1")
	if cand == nil {
		t.Fatal("expected a match")
	}
	if cand.SessionID != "s3" {
		t.Errorf("matched %q, want same-tier %q", cand.SessionID, "s3")
	}
}

func TestCrossTierAfterLongWait(t *testing.T) {
	now := time.Now()
	q := newTestQueue(now)

	// Caller has waited past the cross-tier threshold; a same-tier peer
	// exists but the cross-tier pool is merged in regardless.
	caller := testEntry("s1", "u1", protocol.TierPremium)
	caller.EnqueuedAt = now.Add(-15 * time.Second)
	q.Enqueue(caller)

	// A same-tier peer that has been passed over many times: the
	// anti-starvation penalty drops it below the long-waiting cross-tier
	// candidate (100 + 12.5 boost - 20 penalty vs 50 + capped 50 boost).
	same := testEntry("s2", "u2", protocol.TierPremium)
	same.EnqueuedAt = now
	same.SearchAttempts = 10
	q.Enqueue(same)

	cross := testEntry("s3", "u3", protocol.TierFree)
	cross.EnqueuedAt = now.Add(-60 * time.Second)
	q.Enqueue(cross)

	cand := q.FindMatch("s1")
	if cand == nil {
		t.Fatal("expected a match")
	}
	if cand.SessionID != "s3" {
		t.Errorf("matched %q, want long-waiting cross-tier %q", cand.SessionID, "s3")
	}
}

func TestCrossTierWhenTierEmpty(t *testing.T) {
	q := newTestQueue(time.Now())

	q.Enqueue(testEntry("s1", "u1", protocol.TierPro))
	q.Enqueue(testEntry("s2", "u2", protocol.TierFree))

	cand := q.FindMatch("s1")
	if cand == nil {
		t.Fatal("empty tier bucket must fall through to cross-tier")
	}
	if cand.SessionID != "s2" {
		t.Errorf("matched %q, want %q", cand.SessionID, "s2")
	}
}

func TestWakeSignalOnEnqueue(t *testing.T) {
	q := newTestQueue(time.Now())

	wake := q.WakeSignal()
	select {
	case <-wake:
		t.Fatal("wake signal fired before any enqueue")
	default:
	}

	q.Enqueue(testEntry("s1", "u1", protocol.TierFree))

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("wake signal did not fire on enqueue")
	}

	// A fresh signal is armed for the next enqueue.
	next := q.WakeSignal()
	select {
	case <-next:
		t.Fatal("fresh wake signal already fired")
	default:
	}
}
