// Package balancer implements the Load Balancer (spec §4.5): given a
// non-empty candidate set of running instances and a strategy, picks one.
package balancer

import (
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
)

// Strategy names one of the selection algorithms.
type Strategy string

const (
	Performance  Strategy = "performance"
	LeastLoaded  Strategy = "least-loaded"
	RoundRobin   Strategy = "round-robin"
	Cost         Strategy = "cost"          // alias of RoundRobin, spec §4.5
	ContentAware Strategy = "content-aware" // alias of Performance, spec §4.5
)

// DefaultWarmupDuration is how long a newly-registered instance's
// performance score ramps from 0 to 1.
const DefaultWarmupDuration = 10 * time.Second

// Balancer picks one instance from a candidate set per request, using
// round-robin cursors to break ties deterministically rather than at
// random, so repeated identical candidate sets distribute fairly.
type Balancer struct {
	warmup time.Duration

	mu      sync.Mutex
	cursors map[string]int // per logical key (e.g. template name + strategy)
}

// New constructs a Balancer. warmup <= 0 uses DefaultWarmupDuration.
func New(warmup time.Duration) *Balancer {
	if warmup <= 0 {
		warmup = DefaultWarmupDuration
	}
	return &Balancer{warmup: warmup, cursors: make(map[string]int)}
}

// Pick selects one instance from candidates (must be non-empty and all
// `running`) using strategy, resolving each instance's load metric via
// metrics (for an instance unseen by metrics, warmup is measured from its
// StartedAt; with no StartedAt either, no warmup factor is applied).
// cursorKey scopes the round-robin cursor, typically the template name.
func (b *Balancer) Pick(candidates []store.Instance, metrics map[string]store.LoadMetric, strategy Strategy, cursorKey string) (store.Instance, error) {
	if len(candidates) == 0 {
		return store.Instance{}, gwerrors.New(gwerrors.NoHealthyInstance, "no running instances available")
	}

	sorted := append([]store.Instance(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	switch strategy {
	case Performance, ContentAware:
		return b.pickByScore(sorted, metrics, cursorKey, b.performanceScore)
	case LeastLoaded:
		return b.pickByScore(sorted, metrics, cursorKey, b.leastLoadedScore)
	case RoundRobin, Cost, "":
		return b.pickRoundRobin(sorted, cursorKey)
	default:
		return store.Instance{}, gwerrors.New(gwerrors.InvalidArgument, "unknown load balancing strategy: "+string(strategy))
	}
}

type scoreFunc func(inst store.Instance, m store.LoadMetric) float64

func (b *Balancer) pickByScore(sorted []store.Instance, metrics map[string]store.LoadMetric, cursorKey string, score scoreFunc) (store.Instance, error) {
	best := -1
	bestScore := -1.0
	var tied []int

	for i, inst := range sorted {
		m := metrics[inst.ID]
		s := score(inst, m)
		if s > bestScore {
			bestScore = s
			best = i
			tied = []int{i}
		} else if s == bestScore {
			tied = append(tied, i)
		}
	}
	if best < 0 {
		return store.Instance{}, gwerrors.New(gwerrors.NoHealthyInstance, "no candidates scored")
	}
	if len(tied) == 1 {
		return sorted[tied[0]], nil
	}
	return sorted[b.advanceCursor(cursorKey, tied)], nil
}

// performanceScore implements spec §4.5's weighted latency/error-rate
// formula, scaled by a linear warmup factor.
func (b *Balancer) performanceScore(inst store.Instance, m store.LoadMetric) float64 {
	latencyTerm := 1 - min1(m.AvgLatencyMs/5000)
	errorRate := 0.0
	if m.RequestCount > 0 {
		errorRate = float64(m.ErrorCount) / float64(m.RequestCount)
	}
	base := 0.5*latencyTerm + 0.5*(1-errorRate)

	addedAt := m.AddedAt
	if addedAt.IsZero() {
		addedAt = inst.StartedAt
	}
	if addedAt.IsZero() {
		return base
	}
	elapsed := time.Since(addedAt)
	factor := float64(elapsed) / float64(b.warmup)
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	return base * factor
}

func (b *Balancer) leastLoadedScore(inst store.Instance, m store.LoadMetric) float64 {
	// Higher score wins in pickByScore, so invert request count: fewer
	// requests in flight/served scores higher.
	return -float64(m.RequestCount)
}

func (b *Balancer) pickRoundRobin(sorted []store.Instance, cursorKey string) (store.Instance, error) {
	indices := make([]int, len(sorted))
	for i := range sorted {
		indices[i] = i
	}
	return sorted[b.advanceCursor(cursorKey, indices)], nil
}

// advanceCursor returns the next candidate index cursorKey should use,
// cycling through candidates (a tie set, or the full sorted list for
// round-robin) in order and persisting position across calls.
func (b *Balancer) advanceCursor(cursorKey string, candidates []int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.cursors[cursorKey]
	idx := candidates[cur%len(candidates)]
	b.cursors[cursorKey] = cur + 1
	return idx
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
