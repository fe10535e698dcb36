package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const maxTop = 10

// Handler serves the aggregator's statistics.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats writes the aggregated query and build statistics. The optional
// "top" parameter (1-10) trims the top variants and top matches lists.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.aggregator == nil {
		h.write(w, http.StatusServiceUnavailable, map[string]string{"error": "analytics disabled"})
		return
	}
	top := maxTop
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTop {
			h.write(w, http.StatusBadRequest, map[string]string{"error": "top must be between 1 and 10"})
			return
		}
		top = n
	}

	stats := h.aggregator.Stats()
	if len(stats.TopVariants) > top {
		stats.TopVariants = stats.TopVariants[:top]
	}
	if len(stats.TopMatches) > top {
		stats.TopMatches = stats.TopMatches[:top]
	}
	h.write(w, http.StatusOK, stats)
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
