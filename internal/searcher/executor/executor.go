// Package executor runs image queries: it extracts the target's feature
// vector, loads the stored set and ranks the set's records against it.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/tracing"
)

// RecordLoader is the part of store.Store a query needs.
type RecordLoader interface {
	Load(ctx context.Context, set string) ([]store.Record, error)
}

// Request describes one query. An empty Set uses the variant name and a
// non-positive K uses matcher.DefaultK.
type Request struct {
	Variant    feature.Variant
	Set        string
	Target     pixel.Buffer
	TargetName string
	K          int
}

type Result struct {
	Variant    string          `json:"variant"`
	Set        string          `json:"set"`
	Target     string          `json:"target,omitempty"`
	K          int             `json:"k"`
	Candidates int             `json:"candidates"`
	Matches    []matcher.Match `json:"matches"`
}

type Executor struct {
	store  RecordLoader
	logger *slog.Logger
}

func New(st RecordLoader) *Executor {
	return &Executor{
		store:  st,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Normalize fills in the request defaults.
func (r Request) Normalize() Request {
	if r.Set == "" {
		r.Set = r.Variant.Name
	}
	if r.K <= 0 {
		r.K = matcher.DefaultK
	}
	return r
}

// Execute extracts the target vector and ranks the set against it.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	req = req.Normalize()
	target, err := e.ExtractTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := e.Rank(ctx, req.Variant, req.Set, target, req.K)
	if err != nil {
		return nil, err
	}
	res.Target = req.TargetName
	return res, nil
}

// ExtractTarget computes the request's target vector.
func (e *Executor) ExtractTarget(ctx context.Context, req Request) (feature.Vector, error) {
	_, span := tracing.StartChildSpan(ctx, "extract")
	defer span.End()
	span.SetAttr("variant", req.Variant.Name)

	vec, err := feature.Extract(req.Variant, req.Target)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", req.TargetName, err)
	}
	return vec, nil
}

// Rank scores every record of set against target with the variant's metric
// and returns the k closest. Every stored vector must have the variant's
// length; a set built with another variant fails with ErrDimensionMismatch.
func (e *Executor) Rank(ctx context.Context, v feature.Variant, set string, target feature.Vector, k int) (*Result, error) {
	start := time.Now()
	if k <= 0 {
		k = matcher.DefaultK
	}
	if len(target) != v.Length {
		return nil, fmt.Errorf("%w: target has %d values, %s expects %d",
			apperrors.ErrDimensionMismatch, len(target), v.Name, v.Length)
	}

	_, loadSpan := tracing.StartChildSpan(ctx, "load")
	records, err := e.store.Load(ctx, set)
	loadSpan.SetAttr("records", len(records))
	loadSpan.End()
	if err != nil {
		return nil, fmt.Errorf("loading set %q: %w", set, err)
	}

	candidates := make([]matcher.Candidate, len(records))
	for i, rec := range records {
		if len(rec.Vector) != v.Length {
			return nil, fmt.Errorf("%w: set %q record %q has %d values, %s expects %d",
				apperrors.ErrDimensionMismatch, set, rec.ID, len(rec.Vector), v.Name, v.Length)
		}
		candidates[i] = matcher.Candidate{ID: rec.ID, Vector: rec.Vector}
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "rank")
	matches, err := matcher.RankTopK(target, candidates, v.Metric, k)
	rankSpan.SetAttr("candidates", len(candidates))
	rankSpan.End()
	if err != nil {
		return nil, fmt.Errorf("ranking set %q: %w", set, err)
	}

	e.logger.Debug("query ranked",
		"variant", v.Name,
		"set", set,
		"candidates", len(candidates),
		"results", len(matches),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Result{
		Variant:    v.Name,
		Set:        set,
		K:          k,
		Candidates: len(candidates),
		Matches:    matches,
	}, nil
}
