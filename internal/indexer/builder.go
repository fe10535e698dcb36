// Package indexer builds feature databases: it walks a directory of images,
// extracts one vector per image with the chosen variant and appends it to a
// named set in the store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imageio"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/metrics"
)

// Hooks are the optional observers of a build.
type Hooks struct {
	Backend   string
	Metrics   *metrics.Metrics
	Collector *analytics.Collector
}

type Builder struct {
	store  store.Store
	cfg    config.ExtractConfig
	hooks  Hooks
	logger *slog.Logger
}

// BuildOptions select the target set. An empty Set uses the variant name.
// Workers overrides the configured worker count when positive.
type BuildOptions struct {
	Set     string
	Append  bool
	Workers int
}

// Failure is an image that was skipped.
type Failure struct {
	Image string `json:"image"`
	Error string `json:"error"`
}

type BuildReport struct {
	Variant  string        `json:"variant"`
	Set      string        `json:"set"`
	Scanned  int           `json:"scanned"`
	Stored   int           `json:"stored"`
	Failures []Failure     `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}

func NewBuilder(st store.Store, cfg config.ExtractConfig, hooks Hooks) *Builder {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = imageio.DefaultExtensions
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Builder{
		store:  st,
		cfg:    cfg,
		hooks:  hooks,
		logger: slog.Default().With("component", "indexer"),
	}
}

type extracted struct {
	name   string
	vector feature.Vector
	err    error
	took   time.Duration
}

// Build extracts every image in dir, in lexical file-name order, and appends
// the vectors to the set. Images that fail to decode or extract are skipped
// and listed in the report; a store error aborts the build. Unless
// opts.Append is set, the first stored record replaces the set's previous
// contents. Extraction may run on several workers but records are always
// appended in directory order.
func (b *Builder) Build(ctx context.Context, dir string, v feature.Variant, opts BuildOptions) (*BuildReport, error) {
	start := time.Now()
	set := opts.Set
	if set == "" {
		set = v.Name
	}
	names, err := imageio.Scan(dir, b.cfg.Extensions)
	if err != nil {
		return nil, err
	}
	workers := b.cfg.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	report := &BuildReport{Variant: v.Name, Set: set, Scanned: len(names)}
	log := b.logger.With("variant", v.Name, "set", set)
	log.Info("build started", "dir", dir, "images", len(names), "workers", workers, "append", opts.Append)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]chan extracted, len(names))
	for i := range slots {
		slots[i] = make(chan extracted, 1)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		for i, name := range names {
			g.Go(func() error {
				slots[i] <- b.extract(gctx, dir, name, v)
				return nil
			})
		}
	}()
	defer func() {
		cancel()
		<-fed
		g.Wait()
	}()

	truncate := !opts.Append
	for i := range names {
		var res extracted
		select {
		case res = <-slots[i]:
		case <-ctx.Done():
			return report, ctx.Err()
		}
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				return report, res.err
			}
			report.Failures = append(report.Failures, Failure{Image: res.name, Error: res.err.Error()})
			b.hooks.Metrics.ObserveExtraction(v.Name, res.err, res.took)
			b.track(v, set, res, "")
			log.Warn("image skipped", "image", res.name, "error", res.err)
			continue
		}
		b.hooks.Metrics.ObserveExtraction(v.Name, nil, res.took)

		err := b.store.Append(ctx, set, store.Record{ID: res.name, Vector: res.vector}, truncate)
		if errors.Is(err, apperrors.ErrDuplicateRecord) {
			report.Failures = append(report.Failures, Failure{Image: res.name, Error: err.Error()})
			b.track(v, set, res, err.Error())
			log.Warn("image already stored, skipped", "image", res.name)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("storing %s: %w", res.name, err)
		}
		truncate = false
		report.Stored++
		b.hooks.Metrics.RecordStored(b.hooks.Backend)
		b.track(v, set, res, "")
		log.Debug("image stored", "image", res.name, "length", len(res.vector))
	}

	report.Duration = time.Since(start)
	b.hooks.Collector.TrackBuild(analytics.BuildEvent{
		Type:      analytics.EventBuildDone,
		Variant:   v.Name,
		Set:       set,
		Stored:    report.Stored,
		Skipped:   len(report.Failures),
		LatencyMs: report.Duration.Milliseconds(),
	})
	log.Info("build complete",
		"stored", report.Stored,
		"skipped", len(report.Failures),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (b *Builder) extract(ctx context.Context, dir, name string, v feature.Variant) extracted {
	if err := ctx.Err(); err != nil {
		return extracted{name: name, err: err}
	}
	start := time.Now()
	img, err := imageio.LoadLimit(filepath.Join(dir, name), b.cfg.MaxPixels)
	if err != nil {
		return extracted{name: name, err: err, took: time.Since(start)}
	}
	vec, err := feature.Extract(v, img)
	if err != nil {
		return extracted{name: name, err: fmt.Errorf("extracting %s: %w", name, err), took: time.Since(start)}
	}
	return extracted{name: name, vector: vec, took: time.Since(start)}
}

func (b *Builder) track(v feature.Variant, set string, res extracted, storeErr string) {
	event := analytics.BuildEvent{
		Type:      analytics.EventBuildImage,
		Variant:   v.Name,
		Set:       set,
		ImageID:   res.name,
		LatencyMs: res.took.Milliseconds(),
		Error:     storeErr,
	}
	if res.err != nil {
		event.Error = res.err.Error()
	}
	b.hooks.Collector.TrackBuild(event)
}
