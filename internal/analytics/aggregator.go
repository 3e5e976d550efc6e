package analytics

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/pkg/kafka"
)

const maxLatencySamples = 10000

type Stats struct {
	TotalPasses       int64            `json:"total_passes"`
	CompletedPasses   int64            `json:"completed_passes"`
	FailedPasses      int64            `json:"failed_passes"`
	StalePasses       int64            `json:"stale_passes"`
	PassesByKind      map[string]int64 `json:"passes_by_kind"`
	SectionFetches    int64            `json:"section_fetches"`
	SectionCacheHits  int64            `json:"section_cache_hits"`
	PartialFailures   int64            `json:"partial_failures"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	PassesPerMinute   float64          `json:"passes_per_minute"`
}

// Snapshot is a persisted copy of Stats.
type Snapshot struct {
	Stats      Stats     `json:"stats"`
	CapturedAt time.Time `json:"captured_at"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds PassEvents into running totals. Latency percentiles are
// computed over the most recent completed passes only.
type Aggregator struct {
	mu                sync.RWMutex
	stats             Stats
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	now               func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		stats:             Stats{PassesByKind: make(map[string]int64)},
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes PassEvents off the discovery-events topic.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[PassEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode pass event", "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

func (a *Aggregator) Record(ev PassEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalPasses++
	a.stats.PassesByKind[string(ev.ContextKind)]++
	a.stats.SectionFetches += int64(ev.SectionFetches)
	a.stats.SectionCacheHits += int64(ev.CacheHits)

	switch ev.Type {
	case EventPassStale:
		a.stats.StalePasses++
		return
	case EventPassFailed:
		a.stats.FailedPasses++
		return
	}

	a.stats.CompletedPasses++
	a.stats.PartialFailures += int64(ev.PartialFailed)
	a.addLatency(ev.LatencyMs)

	query := normalizeQuery(ev)
	if query == "" {
		return
	}
	a.queryCounts[query]++
	if ev.Candidates == 0 {
		a.stats.ZeroResultCount++
		a.zeroResultQueries[query]++
	}
}

func normalizeQuery(ev PassEvent) string {
	if ev.ContextKind != discovery.KindQuery {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(ev.Query))
}

func (a *Aggregator) addLatency(ms int64) {
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, ms)
		return
	}
	a.latencies[a.next] = ms
	a.next = (a.next + 1) % maxLatencySamples
}

func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	stats.PassesByKind = make(map[string]int64, len(a.stats.PassesByKind))
	for k, v := range a.stats.PassesByKind {
		stats.PassesByKind[k] = v
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.PassesPerMinute = float64(stats.TotalPasses) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then query, so ties are stable across snapshots.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	slices.SortFunc(result, func(a, b QueryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Query, b.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
