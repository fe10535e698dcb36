//go:build integration

// Package integration exercises the components that talk to external
// services against real PostgreSQL, Redis and Kafka instances. Each test
// skips when its service is unreachable.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/kafka"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/redis"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "cbir_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "cbir"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func vec(values ...float64) feature.Vector { return feature.Vector(values) }

func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.NewPostgres(ctx, testPostgresConfig())
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	defer st.Close()
	require.NoError(t, st.Ping(ctx))

	set := "it-" + uuid.NewString()
	require.NoError(t, st.Append(ctx, set, store.Record{ID: "b.png", Vector: vec(0.5, 0.5)}, true))
	require.NoError(t, st.Append(ctx, set, store.Record{ID: "a.png", Vector: vec(1, 0)}, false))

	err = st.Append(ctx, set, store.Record{ID: "a.png", Vector: vec(0, 1)}, false)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateRecord)

	recs, err := st.Load(ctx, set)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b.png", recs[0].ID)
	assert.Equal(t, vec(1, 0), recs[1].Vector)

	sets, err := st.Sets(ctx)
	require.NoError(t, err)
	assert.Contains(t, sets, set)

	require.NoError(t, st.Append(ctx, set, store.Record{ID: "c.png", Vector: vec(0, 1)}, true))
	recs, err = st.Load(ctx, set)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c.png", recs[0].ID)

	_, err = st.Load(ctx, "it-missing-"+uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrSetNotFound)
}

func TestRedisQueryCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pkgredis.NewClient(ctx, config.RedisConfig{
		Addr:     envOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		DB:       envOrDefaultInt("TEST_REDIS_DB", 15),
		PoolSize: 4,
	})
	if err != nil {
		t.Skipf("skipping: redis unavailable: %v", err)
	}
	defer client.Close()

	c := cache.New(client, time.Minute, nil)
	_, err = c.Invalidate(ctx)
	require.NoError(t, err)

	key := cache.Key{Variant: "rgb-histogram", Set: "it", K: 2, Target: vec(0.25, 0.75)}
	calls := 0
	compute := func() (*executor.Result, error) {
		calls++
		return &executor.Result{
			Variant:    "rgb-histogram",
			Set:        "it",
			K:          2,
			Candidates: 2,
			Matches:    []matcher.Match{{ID: "x.png", Score: 0.1}, {ID: "y.png", Score: 0.4, Index: 1}},
		}, nil
	}

	first, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.Matches, second.Matches)
	assert.Equal(t, 1, calls)

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, hit = c.Get(ctx, key)
	assert.False(t, hit)
}

func TestKafkaAnalytics(t *testing.T) {
	cfg := config.KafkaConfig{
		Enabled: true,
		Brokers: []string{envOrDefault("TEST_KAFKA_BROKER", "localhost:9092")},
		Topics:  config.KafkaTopics{QueryEvents: "cbir-it-queries", BuildEvents: "cbir-it-builds"},
	}
	producer := kafka.NewProducer(cfg, cfg.Topics.QueryEvents)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	probe := kafka.Event{Key: "probe", Type: "probe", Value: map[string]string{"probe": "ok"}}
	if err := producer.Publish(ctx, probe); err != nil {
		t.Skipf("skipping: kafka unavailable: %v", err)
	}

	agg := analytics.NewAggregator()
	collector := analytics.NewCollector(analytics.Options{Query: producer, Aggregator: agg, PublishTimeout: 5 * time.Second})
	collector.Start(context.Background())
	for i := 0; i < 5; i++ {
		collector.TrackQuery(analytics.QueryEvent{Variant: "rgb-histogram", Set: "it", K: 3, Returned: 3, LatencyMs: int64(i)})
	}
	collector.Close()

	stats := agg.Stats()
	assert.Equal(t, int64(5), stats.TotalQueries)
}
