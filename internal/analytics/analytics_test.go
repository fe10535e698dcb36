package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/resilience"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) published() []kafka.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Event(nil), f.events...)
}

func TestCollectorPublishesToTopicPublishers(t *testing.T) {
	queries, builds := &fakePublisher{}, &fakePublisher{}
	agg := NewAggregator()
	c := NewCollector(Options{Query: queries, Build: builds, Aggregator: agg})
	c.Start(context.Background())

	c.TrackQuery(QueryEvent{Variant: "rgb-histogram", Set: "rgb-histogram", BestMatch: "a.png", LatencyMs: 4})
	c.TrackBuild(BuildEvent{Type: EventBuildImage, Set: "s", ImageID: "a.png"})
	c.TrackBuild(BuildEvent{Type: EventBuildDone, Set: "s", Stored: 1})
	c.Close()

	q := queries.published()
	require.Len(t, q, 1)
	assert.Equal(t, "rgb-histogram", q[0].Key)
	assert.Equal(t, string(EventQuery), q[0].Type)
	assert.Len(t, builds.published(), 2)

	stats := agg.Stats()
	assert.Equal(t, int64(1), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.ImagesIndexed)
	assert.Equal(t, int64(1), stats.BuildsCompleted)
	require.Len(t, stats.TopMatches, 1)
	assert.Equal(t, "a.png", stats.TopMatches[0].Name)
}

func TestCollectorBreakerOpensOnFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	pub := &fakePublisher{err: errors.New("broker down")}
	c := NewCollector(Options{
		Query:   pub,
		Metrics: metrics.New(reg),
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	})
	c.Start(context.Background())
	for i := 0; i < 5; i++ {
		c.TrackQuery(QueryEvent{Variant: "patch9x9"})
	}
	c.Close()

	assert.Equal(t, resilience.StateOpen, c.breaker.GetState())

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `cbir_analytics_events_total{result="dropped",type="query"} 5`)
	assert.True(t, strings.Contains(body, `cbir_circuit_breaker_state{name="kafka-analytics"} 1`), body)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.TrackQuery(QueryEvent{})
	c.TrackBuild(BuildEvent{})
	c.Close()
}

func TestCollectorWithoutPublishersOnlyAggregates(t *testing.T) {
	agg := NewAggregator()
	c := NewCollector(Options{Aggregator: agg})
	c.Start(context.Background())
	c.TrackQuery(QueryEvent{Variant: "chromaticity", CacheHit: true})
	c.TrackQuery(QueryEvent{Variant: "chromaticity", Error: "boom"})
	c.Close()

	stats := agg.Stats()
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.FailedQueries)
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestAggregatorPercentilesAndTopVariants(t *testing.T) {
	agg := NewAggregator()
	for i := 1; i <= 100; i++ {
		variant := "rgb-histogram"
		if i%4 == 0 {
			variant = "patch9x9"
		}
		agg.RecordQuery(QueryEvent{Variant: variant, LatencyMs: int64(i)})
	}
	stats := agg.Stats()
	assert.Equal(t, int64(51), stats.P50LatencyMs)
	assert.Equal(t, int64(96), stats.P95LatencyMs)
	assert.InDelta(t, 50.5, stats.AvgLatencyMs, 1e-9)
	require.Len(t, stats.TopVariants, 2)
	assert.Equal(t, VariantCount{Name: "rgb-histogram", Count: 75}, stats.TopVariants[0])
}

func TestStatsHandler(t *testing.T) {
	agg := NewAggregator()
	agg.RecordBuild(BuildEvent{Type: EventBuildImage, Error: "decode failed"})

	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.ImagesSkipped)
}

func TestStatsHandlerTop(t *testing.T) {
	agg := NewAggregator()
	for _, m := range []string{"a.png", "b.png", "b.png", "c.png", "c.png", "c.png"} {
		agg.RecordQuery(QueryEvent{Type: EventQuery, Variant: "chromaticity", BestMatch: m, Returned: 1})
	}
	h := NewHandler(agg)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?top=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats.TopMatches, 2)
	assert.Equal(t, "c.png", stats.TopMatches[0].Name)
	assert.Equal(t, int64(3), stats.TopMatches[0].Count)

	for _, bad := range []string{"0", "11", "x"} {
		rec = httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?top="+bad, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec = httptest.NewRecorder()
	NewHandler(nil).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
