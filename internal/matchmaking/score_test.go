package matchmaking

import (
	"testing"
	"time"

	"github.com/veilmeet/roulette/internal/protocol"
)

func noJitter() float64 { return 0 }

func TestScoreComponents(t *testing.T) {
	now := time.Now()

	caller := testEntry("s1", "u1", protocol.TierFree)
	caller.EnqueuedAt = now

	tests := []struct {
		name      string
		candWait  time.Duration
		attempts  int
		tierMatch bool
		want      float64
	}{
		{"tier match, fresh", 0, 0, true, 100},
		{"cross tier, fresh", 0, 0, false, 50},
		{"wait boost", 12 * time.Second, 0, true, 110}, // avg 6s / 600 = 10
		{"wait boost capped", 5 * time.Minute, 0, true, 150},
		{"attempt penalty", 0, 4, true, 92},
		{"attempt penalty capped", 0, 50, true, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := testEntry("s2", "u2", protocol.TierFree)
			cand.EnqueuedAt = now.Add(-tt.candWait)
			cand.SearchAttempts = tt.attempts

			got := score(caller, cand, now, tt.tierMatch, noJitter)
			if got != tt.want {
				t.Errorf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreJitterRange(t *testing.T) {
	now := time.Now()
	caller := testEntry("s1", "u1", protocol.TierFree)
	caller.EnqueuedAt = now
	cand := testEntry("s2", "u2", protocol.TierFree)
	cand.EnqueuedAt = now

	max := score(caller, cand, now, true, func() float64 { return 0.9999 })
	if max < 100 || max >= 110 {
		t.Errorf("score with max jitter = %v, want in [100, 110)", max)
	}
}

func TestPickWeightedTopK(t *testing.T) {
	// Seven candidates; only the five highest-scored may be drawn. With the
	// draw pinned just under the sum, the walk lands on the last of the
	// top-k, never on the two lowest.
	var candidates []scoredCandidate
	for i, s := range []float64{70, 20, 90, 10, 50, 60, 80} {
		candidates = append(candidates, scoredCandidate{
			entry: testEntry(string(rune('a'+i)), "u", protocol.TierFree),
			score: s,
		})
	}

	picked := pickWeighted(candidates, func() float64 { return 0.999999 })
	// Sorted top-5 scores: 90, 80, 70, 60, 50. The last walked is 50 ("e").
	if picked.SessionID != "e" {
		t.Errorf("picked %q, want the lowest of the top-k (%q)", picked.SessionID, "e")
	}
}

func TestPickWeightedZeroDrawTakesBest(t *testing.T) {
	candidates := []scoredCandidate{
		{entry: testEntry("low", "u", protocol.TierFree), score: 10},
		{entry: testEntry("high", "u", protocol.TierFree), score: 90},
	}

	picked := pickWeighted(candidates, func() float64 { return 0 })
	if picked.SessionID != "high" {
		t.Errorf("picked %q, want highest-scored %q", picked.SessionID, "high")
	}
}

func TestPickWeightedSingleCandidate(t *testing.T) {
	candidates := []scoredCandidate{
		{entry: testEntry("only", "u", protocol.TierFree), score: 42},
	}
	if picked := pickWeighted(candidates, noJitter); picked.SessionID != "only" {
		t.Errorf("picked %q, want %q", picked.SessionID, "only")
	}
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		name      string
		queueSize int
		attempts  int
		want      time.Duration
	}{
		{"lone waiter, first polls", 1, 0, time.Second},
		{"lone waiter, backing off", 1, 5, 2 * time.Second},
		{"lone waiter, more backoff", 1, 10, 4 * time.Second},
		{"lone waiter, capped", 1, 100, 10 * time.Second},
		{"near-empty queue", 2, 0, 500 * time.Millisecond},
		{"busy queue, fresh", 10, 0, time.Second},
		{"busy queue, some attempts", 10, 7, 2 * time.Second},
		{"busy queue, many attempts", 10, 20, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pollInterval(tt.queueSize, tt.attempts); got != tt.want {
				t.Errorf("pollInterval(%d, %d) = %v, want %v",
					tt.queueSize, tt.attempts, got, tt.want)
			}
		})
	}
}
