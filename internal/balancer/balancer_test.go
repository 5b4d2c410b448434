package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gatekeeper/internal/store"
)

func inst(id string) store.Instance {
	return store.Instance{ID: id, State: store.StateRunning}
}

func TestRoundRobinCyclesDeterministically(t *testing.T) {
	b := New(0)
	candidates := []store.Instance{inst("c"), inst("a"), inst("b")}

	var order []string
	for i := 0; i < 6; i++ {
		picked, err := b.Pick(candidates, nil, RoundRobin, "tpl")
		require.NoError(t, err)
		order = append(order, picked.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)
}

func TestLeastLoadedPicksSmallestRequestCount(t *testing.T) {
	b := New(0)
	candidates := []store.Instance{inst("a"), inst("b")}
	metrics := map[string]store.LoadMetric{
		"a": {InstanceID: "a", RequestCount: 10},
		"b": {InstanceID: "b", RequestCount: 2},
	}
	picked, err := b.Pick(candidates, metrics, LeastLoaded, "tpl")
	require.NoError(t, err)
	assert.Equal(t, "b", picked.ID)
}

func TestPerformanceScoreFavorsLowerLatencyAndErrorRate(t *testing.T) {
	b := New(time.Millisecond) // warmup already elapsed for addedAt in the past
	past := time.Now().Add(-time.Hour)
	candidates := []store.Instance{inst("fast"), inst("slow")}
	metrics := map[string]store.LoadMetric{
		"fast": {InstanceID: "fast", AvgLatencyMs: 10, RequestCount: 100, ErrorCount: 0, AddedAt: past},
		"slow": {InstanceID: "slow", AvgLatencyMs: 4000, RequestCount: 100, ErrorCount: 50, AddedAt: past},
	}
	picked, err := b.Pick(candidates, metrics, Performance, "tpl")
	require.NoError(t, err)
	assert.Equal(t, "fast", picked.ID)
}

func TestWarmupFactorSuppressesBrandNewInstance(t *testing.T) {
	b := New(10 * time.Second)
	now := time.Now()
	candidates := []store.Instance{inst("new"), inst("seasoned")}
	metrics := map[string]store.LoadMetric{
		"new":      {InstanceID: "new", AvgLatencyMs: 1, AddedAt: now},
		"seasoned": {InstanceID: "seasoned", AvgLatencyMs: 2000, ErrorCount: 10, RequestCount: 100, AddedAt: now.Add(-time.Hour)},
	}
	picked, err := b.Pick(candidates, metrics, Performance, "tpl")
	require.NoError(t, err)
	assert.Equal(t, "seasoned", picked.ID, "a just-registered instance's score is suppressed by the warmup factor")
}

func TestPickRejectsEmptyCandidateSet(t *testing.T) {
	b := New(0)
	_, err := b.Pick(nil, nil, RoundRobin, "tpl")
	assert.Error(t, err)
}

func TestCostAndContentAwareAliasRoundRobinAndPerformance(t *testing.T) {
	b := New(0)
	candidates := []store.Instance{inst("a"), inst("b")}

	rrBalancer := New(0)
	perfBalancer := New(0)

	costPick, err := b.Pick(candidates, nil, Cost, "k")
	require.NoError(t, err)
	rrPick, err := rrBalancer.Pick(candidates, nil, RoundRobin, "k")
	require.NoError(t, err)
	assert.Equal(t, rrPick.ID, costPick.ID)

	metrics := map[string]store.LoadMetric{
		"a": {InstanceID: "a", AvgLatencyMs: 10, AddedAt: time.Now().Add(-time.Hour)},
		"b": {InstanceID: "b", AvgLatencyMs: 4000, AddedAt: time.Now().Add(-time.Hour)},
	}
	caPick, err := b.Pick(candidates, metrics, ContentAware, "k2")
	require.NoError(t, err)
	perfPick, err := perfBalancer.Pick(candidates, metrics, Performance, "k2")
	require.NoError(t, err)
	assert.Equal(t, perfPick.ID, caPick.ID)
}
