package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pucknotes/note-discovery/internal/discovery"
)

func queryPass(q string, candidates int, latency int64) PassEvent {
	return PassEvent{
		Type:        EventPassCompleted,
		ContextKind: discovery.KindQuery,
		Query:       q,
		Candidates:  candidates,
		Visible:     candidates,
		LatencyMs:   latency,
	}
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg.startTime = start
	agg.now = func() time.Time { return start.Add(2 * time.Minute) }

	agg.Record(queryPass("Graphs", 4, 10))
	agg.Record(queryPass(" graphs ", 2, 20))
	agg.Record(queryPass("quantum", 0, 30))
	agg.Record(PassEvent{Type: EventPassCompleted, ContextKind: discovery.KindSection, SectionID: "s1",
		Candidates: 3, SectionFetches: 1, CacheHits: 2, PartialFailed: 1, LatencyMs: 40})
	agg.Record(PassEvent{Type: EventPassFailed, ContextKind: discovery.KindQuery, Query: "down", Error: "backend"})
	agg.Record(PassEvent{Type: EventPassStale, ContextKind: discovery.KindCourse, LatencyMs: 999})

	s := agg.Stats()
	assert.EqualValues(t, 6, s.TotalPasses)
	assert.EqualValues(t, 4, s.CompletedPasses)
	assert.EqualValues(t, 1, s.FailedPasses)
	assert.EqualValues(t, 1, s.StalePasses)
	assert.Equal(t, map[string]int64{"query": 4, "section": 1, "course": 1}, s.PassesByKind)
	assert.EqualValues(t, 1, s.SectionFetches)
	assert.EqualValues(t, 2, s.SectionCacheHits)
	assert.EqualValues(t, 1, s.PartialFailures)
	assert.EqualValues(t, 1, s.ZeroResultCount)
	assert.InDelta(t, 25.0, s.AvgLatencyMs, 0.001)
	assert.EqualValues(t, 30, s.P50LatencyMs)
	assert.EqualValues(t, 40, s.P99LatencyMs)
	assert.Equal(t, []QueryCount{{"graphs", 2}, {"quantum", 1}}, s.TopQueries)
	assert.Equal(t, []QueryCount{{"quantum", 1}}, s.ZeroResultQueries)
	assert.InDelta(t, 3.0, s.PassesPerMinute, 0.001)
}

func TestStatsIsACopy(t *testing.T) {
	agg := NewAggregator()
	agg.Record(queryPass("x", 1, 1))
	s := agg.Stats()
	s.PassesByKind["query"] = 100
	assert.EqualValues(t, 1, agg.Stats().PassesByKind["query"])
}

func TestLatencySamplesBounded(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < maxLatencySamples+50; i++ {
		agg.Record(PassEvent{Type: EventPassCompleted, ContextKind: discovery.KindSection, LatencyMs: int64(i)})
	}
	assert.Len(t, agg.latencies, maxLatencySamples)
	assert.NotContains(t, agg.latencies, int64(0))
	assert.Contains(t, agg.latencies, int64(maxLatencySamples+49))
}

func TestHandleEvent(t *testing.T) {
	agg := NewAggregator()
	h := HandleEvent(agg)

	data, err := json.Marshal(queryPass("heaps", 3, 12))
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), []byte("sess"), data))
	require.NoError(t, h(context.Background(), []byte("sess"), []byte("garbage")))

	assert.EqualValues(t, 1, agg.Stats().TotalPasses)
}
