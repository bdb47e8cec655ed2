package matchmaking

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

const (
	// crossTierAfterMs is how long a caller waits before cross-tier
	// candidates are pooled in even when same-tier candidates exist.
	crossTierAfterMs = 10_000

	// topK is how many of the highest-scored candidates enter the final
	// weighted draw.
	topK = 5
)

// scoredCandidate pairs a queue entry with its computed match score.
type scoredCandidate struct {
	entry *Entry
	score float64
}

// score computes the match score for candidate cand from caller's point of
// view:
//
//	base 100 for a tier match, 50 otherwise
//	+ up to 50 fairness boost for accumulated wait time
//	- up to 20 anti-starvation offset for repeatedly rejected candidates
//	+ uniform(0, 10) jitter so ties break fairly
func score(caller, cand *Entry, now time.Time, tierMatch bool, randFloat func() float64) float64 {
	s := 50.0
	if tierMatch {
		s = 100.0
	}

	avgWaitMs := float64(caller.WaitMs(now)+cand.WaitMs(now)) / 2
	boost := avgWaitMs / 600
	if boost > 50 {
		boost = 50
	}
	s += boost

	penalty := float64(cand.SearchAttempts) * 2
	if penalty > 20 {
		penalty = 20
	}
	s -= penalty

	return s + randFloat()*10
}

// pickWeighted sorts candidates by score, keeps the top-k, and performs a
// single weighted random draw with weight = score. One uniform draw is
// scaled to the score sum and walked deterministically over the sorted
// slice, so the RNG is touched exactly once per selection.
func pickWeighted(candidates []scoredCandidate, randFloat func() float64) *Entry {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	var sum float64
	for _, c := range candidates {
		if c.score > 0 {
			sum += c.score
		}
	}
	if sum <= 0 {
		return candidates[0].entry
	}

	target := randFloat() * sum
	for _, c := range candidates {
		if c.score <= 0 {
			continue
		}
		target -= c.score
		if target <= 0 {
			return c.entry
		}
	}
	return candidates[len(candidates)-1].entry
}

// defaultRandFloat is the process-wide RNG used when no deterministic source
// is injected. math/rand's global source is goroutine-safe; a dedicated
// seeded source is kept so tests can compare against reproducible runs.
var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func defaultRandFloat() float64 {
	rngMu.Lock()
	f := rng.Float64()
	rngMu.Unlock()
	return f
}
