// Package handler serves the HTTP query API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imageio"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/tracing"
)

// QueryExecutor is implemented by *executor.Executor.
type QueryExecutor interface {
	ExtractTarget(ctx context.Context, req executor.Request) (feature.Vector, error)
	Rank(ctx context.Context, v feature.Variant, set string, target feature.Vector, k int) (*executor.Result, error)
}

// SetLister is implemented by every store backend.
type SetLister interface {
	Sets(ctx context.Context) ([]string, error)
}

// Deps are the handler's collaborators. Cache, Collector and Metrics may be
// nil.
type Deps struct {
	Executor  QueryExecutor
	Sets      SetLister
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Metrics   *metrics.Metrics
	Tracing   bool
}

type Handler struct {
	deps      Deps
	cfg       config.QueryConfig
	maxUpload int64
	logger    *slog.Logger
}

func New(deps Deps, cfg config.QueryConfig, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Handler{
		deps:      deps,
		cfg:       cfg,
		maxUpload: maxUpload,
		logger:    slog.Default().With("component", "query-handler"),
	}
}

// Query ranks the stored set against an uploaded image. The image travels
// in the multipart field "image"; variant, set and k are query parameters.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	params := r.URL.Query()
	name := params.Get("variant")
	if name == "" {
		name = h.cfg.DefaultVariant
	}
	variant, err := feature.Lookup(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	k := h.cfg.DefaultK
	if raw := params.Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "k must be a positive integer"))
			return
		}
		if h.cfg.MaxK > 0 && parsed > h.cfg.MaxK {
			parsed = h.cfg.MaxK
		}
		k = parsed
	}
	req := executor.Request{Variant: variant, Set: params.Get("set"), K: k}.Normalize()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "upload exceeds %d bytes", h.maxUpload))
			return
		}
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "multipart field 'image' is required"))
		return
	}
	defer file.Close()
	req.TargetName = header.Filename

	req.Target, _, err = imageio.Decode(file)
	if err != nil {
		h.finish(ctx, req, nil, false, start, err)
		h.writeError(w, err)
		return
	}
	if h.deps.Tracing {
		var span *tracing.Span
		ctx, span = tracing.StartSpan(ctx, "query", logger.RequestIDFromContext(ctx))
		span.SetAttr("variant", variant.Name)
		defer func() {
			span.End()
			span.Log(log)
		}()
	}

	target, err := h.deps.Executor.ExtractTarget(ctx, req)
	if err != nil {
		h.finish(ctx, req, nil, false, start, err)
		h.writeError(w, err)
		return
	}

	compute := func() (*executor.Result, error) {
		return h.deps.Executor.Rank(ctx, req.Variant, req.Set, target, req.K)
	}
	var result *executor.Result
	cacheHit := false
	if h.deps.Cache != nil {
		key := cache.Key{Variant: variant.Name, Set: req.Set, K: req.K, Target: target}
		result, cacheHit, err = h.deps.Cache.GetOrCompute(ctx, key, compute)
	} else {
		result, err = compute()
	}
	if err != nil {
		log.Error("query failed", "variant", variant.Name, "set", req.Set, "error", err)
		h.finish(ctx, req, nil, false, start, err)
		h.writeError(w, err)
		return
	}

	response := *result
	response.Target = req.TargetName
	h.finish(ctx, req, &response, cacheHit, start, nil)
	log.Info("query completed",
		"variant", variant.Name,
		"set", req.Set,
		"candidates", response.Candidates,
		"returned", len(response.Matches),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, response)
}

// finish records metrics and the analytics event for a query.
func (h *Handler) finish(ctx context.Context, req executor.Request, result *executor.Result, cacheHit bool, start time.Time, err error) {
	elapsed := time.Since(start)
	cacheStatus := "miss"
	switch {
	case h.deps.Cache == nil:
		cacheStatus = "disabled"
	case cacheHit:
		cacheStatus = "hit"
	}
	event := analytics.QueryEvent{
		Variant:   req.Variant.Name,
		Set:       req.Set,
		Target:    req.TargetName,
		K:         req.K,
		LatencyMs: elapsed.Milliseconds(),
		CacheHit:  cacheHit,
		RequestID: logger.RequestIDFromContext(ctx),
	}
	candidates := 0
	if result != nil {
		candidates = result.Candidates
		event.Candidates = result.Candidates
		event.Returned = len(result.Matches)
		if len(result.Matches) > 0 {
			event.BestMatch = result.Matches[0].ID
			event.BestScore = result.Matches[0].Score
		}
	}
	if err != nil {
		event.Error = err.Error()
	}
	h.deps.Metrics.ObserveQuery(req.Variant.Name, cacheStatus, err, candidates, elapsed)
	h.deps.Collector.TrackQuery(event)
}

type variantInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Length      int    `json:"length"`
	Metric      string `json:"metric"`
	MinRows     int    `json:"min_rows,omitempty"`
	MinCols     int    `json:"min_cols,omitempty"`
}

// Variants lists the registered feature variants.
func (h *Handler) Variants(w http.ResponseWriter, r *http.Request) {
	all := feature.All()
	out := make([]variantInfo, len(all))
	for i, v := range all {
		out[i] = variantInfo{
			Name:        v.Name,
			Description: v.Description,
			Length:      v.Length,
			Metric:      v.Metric.String(),
			MinRows:     v.MinRows,
			MinCols:     v.MinCols,
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"variants": out})
}

// Sets lists the stored feature sets.
func (h *Handler) Sets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.deps.Sets.Sets(r.Context())
	if err != nil {
		h.logger.Error("listing sets failed", "error", err)
		h.writeError(w, err)
		return
	}
	if sets == nil {
		sets = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sets": sets})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.deps.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrServiceUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	deleted, err := h.deps.Cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to its HTTP status. Internal errors are not echoed to
// the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
