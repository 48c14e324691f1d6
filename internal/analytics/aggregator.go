package analytics

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/kafka"
)

// latencyWindow bounds the samples kept for percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalSearches        int64        `json:"total_searches"`
	TotalCompiles        int64        `json:"total_compiles"`
	FailedRequests       int64        `json:"failed_requests"`
	CacheHits            int64        `json:"cache_hits"`
	CacheMisses          int64        `json:"cache_misses"`
	ZeroResultCount      int64        `json:"zero_result_count"`
	AvgLatencyMs         float64      `json:"avg_latency_ms"`
	P50LatencyMs         int64        `json:"p50_latency_ms"`
	P95LatencyMs         int64        `json:"p95_latency_ms"`
	P99LatencyMs         int64        `json:"p99_latency_ms"`
	TopConditions        []QueryCount `json:"top_conditions"`
	ZeroResultConditions []QueryCount `json:"zero_result_conditions"`
	TopErrorKinds        []QueryCount `json:"top_error_kinds"`
	TopIndices           []QueryCount `json:"top_indices"`
	QueriesPerMinute     float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

type Aggregator struct {
	mu              sync.RWMutex
	totalSearches   int64
	totalCompiles   int64
	failed          int64
	cacheHits       int64
	cacheMisses     int64
	zeroResults     int64
	latencies       []int64
	next            int
	conditionCounts map[string]int64
	zeroResultConds map[string]int64
	errorKinds      map[string]int64
	indexCounts     map[string]int64
	startTime       time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:       make([]int64, 0, latencyWindow),
		conditionCounts: make(map[string]int64),
		zeroResultConds: make(map[string]int64),
		errorKinds:      make(map[string]int64),
		indexCounts:     make(map[string]int64),
		startTime:       time.Now(),
	}
}

// HandleEvent adapts the aggregator to a Kafka consumer. Undecodable
// messages come back as invalid input, which the consumer skips.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			return err
		}
		agg.Track(event)
		return nil
	}
}

// PublishBatch records events directly, for searchers running without Kafka.
func (a *Aggregator) PublishBatch(_ context.Context, events []kafka.Event) error {
	for _, e := range events {
		switch v := e.Value.(type) {
		case SearchEvent:
			a.Track(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			event, err := kafka.DecodeJSON[SearchEvent](data)
			if err != nil {
				return err
			}
			a.Track(event)
		}
	}
	return nil
}

// Track folds one event into the running statistics.
func (a *Aggregator) Track(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch event.Type {
	case EventCompile:
		a.totalCompiles++
	default:
		a.totalSearches++
	}
	if event.Index != "" {
		a.indexCounts[event.Index]++
	}
	if event.Failed() {
		a.failed++
		a.errorKinds[event.ErrorKind]++
		return
	}

	if event.Type == EventSearch {
		if event.CacheHit {
			a.cacheHits++
		} else {
			a.cacheMisses++
		}
		if event.TotalHits == 0 {
			a.zeroResults++
			a.zeroResultConds[event.Condition]++
		}
	}
	a.conditionCounts[event.Condition]++
	a.addLatency(event.LatencyMs)
}

func (a *Aggregator) addLatency(ms int64) {
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, ms)
		return
	}
	a.latencies[a.next] = ms
	a.next = (a.next + 1) % latencyWindow
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		TotalCompiles:   a.totalCompiles,
		FailedRequests:  a.failed,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
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
	stats.TopConditions = topN(a.conditionCounts, 10)
	stats.ZeroResultConditions = topN(a.zeroResultConds, 10)
	stats.TopErrorKinds = topN(a.errorKinds, 10)
	stats.TopIndices = topN(a.indexCounts, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
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

// topN orders by count, then alphabetically so ties are stable.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
