package analytics

import (
	"sort"
	"sync"
	"time"
)

type AggregatedStats struct {
	TotalQueries     int64          `json:"total_queries"`
	FailedQueries    int64          `json:"failed_queries"`
	CacheHits        int64          `json:"cache_hits"`
	CacheMisses      int64          `json:"cache_misses"`
	ImagesIndexed    int64          `json:"images_indexed"`
	ImagesSkipped    int64          `json:"images_skipped"`
	BuildsCompleted  int64          `json:"builds_completed"`
	AvgLatencyMs     float64        `json:"avg_latency_ms"`
	P50LatencyMs     int64          `json:"p50_latency_ms"`
	P95LatencyMs     int64          `json:"p95_latency_ms"`
	P99LatencyMs     int64          `json:"p99_latency_ms"`
	TopVariants      []VariantCount `json:"top_variants"`
	TopMatches       []VariantCount `json:"top_matches"`
	QueriesPerMinute float64        `json:"queries_per_minute"`
}

// VariantCount pairs a name (a variant, or a matched image ID) with how often
// it was seen.
type VariantCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

// Aggregator keeps running query and build statistics in memory. A nil
// Aggregator ignores every event.
type Aggregator struct {
	mu            sync.RWMutex
	totalQueries  int64
	failedQueries int64
	cacheHits     int64
	cacheMisses   int64
	indexed       int64
	skipped       int64
	builds        int64
	latencies     []int64
	next          int
	variantCounts map[string]int64
	matchCounts   map[string]int64
	startTime     time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:     make([]int64, 0, 1024),
		variantCounts: make(map[string]int64),
		matchCounts:   make(map[string]int64),
		startTime:     time.Now(),
	}
}

func (a *Aggregator) RecordQuery(event QueryEvent) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalQueries++
	if event.Error != "" {
		a.failedQueries++
		return
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
	a.variantCounts[event.Variant]++
	if event.BestMatch != "" {
		a.matchCounts[event.BestMatch]++
	}
}

func (a *Aggregator) RecordBuild(event BuildEvent) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch event.Type {
	case EventBuildDone:
		a.builds++
	case EventBuildImage:
		if event.Error != "" {
			a.skipped++
		} else {
			a.indexed++
		}
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	if a == nil {
		return AggregatedStats{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalQueries:    a.totalQueries,
		FailedQueries:   a.failedQueries,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ImagesIndexed:   a.indexed,
		ImagesSkipped:   a.skipped,
		BuildsCompleted: a.builds,
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopVariants = topN(a.variantCounts, 10)
	stats.TopMatches = topN(a.matchCounts, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
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

func topN(counts map[string]int64, n int) []VariantCount {
	result := make([]VariantCount, 0, len(counts))
	for name, count := range counts {
		result = append(result, VariantCount{Name: name, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
