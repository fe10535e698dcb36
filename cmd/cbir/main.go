// Command cbir builds feature databases from image directories and ranks
// stored images by visual similarity to a target image.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/redis"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the global flags and the configuration they resolve to.
type app struct {
	cfgFile      string
	storeBackend string
	storePath    string
	logLevel     string
	cfg          *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cbir",
		Short: "Content-based image retrieval",
		Long: `cbir extracts colour, texture and spatial feature vectors from images,
stores them as named sets and ranks a set against a target image.

Build a database once per variant, then query it:

  cbir build ./images --variant rgb-histogram
  cbir query ./target.jpg --variant rgb-histogram --k 5`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.storeBackend, "store-backend", "", "store backend: csv, segment, bolt, badger, sqlite or postgres")
	root.PersistentFlags().StringVar(&a.storePath, "store-path", "", "store directory or file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		a.buildCmd(),
		a.queryCmd(),
		a.serveCmd(),
		a.filterCmd(),
		a.variantsCmd(),
	)
	return root
}

// load resolves the configuration: file, then environment, then flags.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.storeBackend != "" {
		cfg.Store.Backend = a.storeBackend
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	a.cfg = cfg
	return nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", a.cfg.Store.Backend, err)
	}
	return st, nil
}

// redisClient connects when Redis is enabled. A connection failure only
// disables caching.
func (a *app) redisClient(ctx context.Context) *pkgredis.Client {
	if !a.cfg.Redis.Enabled {
		return nil
	}
	client, err := pkgredis.NewClient(ctx, a.cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
		return nil
	}
	return client
}

func (a *app) queryCache(client *pkgredis.Client, m *metrics.Metrics) *cache.QueryCache {
	if client == nil {
		return nil
	}
	return cache.New(client, a.cfg.Redis.CacheTTL, m)
}

// collector starts the analytics collector, publishing to Kafka when it is
// enabled. The returned stop flushes pending events.
func (a *app) collector(ctx context.Context, agg *analytics.Aggregator, m *metrics.Metrics) (*analytics.Collector, func()) {
	opts := analytics.Options{Aggregator: agg, Metrics: m}
	var producers []*kafka.Producer
	if a.cfg.Kafka.Enabled {
		q := kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.QueryEvents)
		b := kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.BuildEvents)
		opts.Query, opts.Build = q, b
		producers = append(producers, q, b)
	}
	c := analytics.NewCollector(opts)
	c.Start(ctx)
	return c, func() {
		c.Close()
		for _, p := range producers {
			if err := p.Close(); err != nil {
				slog.Warn("closing kafka producer", "topic", p.Topic(), "error", err)
			}
		}
	}
}
