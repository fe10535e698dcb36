package matcher

import (
	"container/heap"
	"fmt"
)

// DefaultK is the result size used when a caller asks for k <= 0.
const DefaultK = 10

// Candidate is one stored image and its feature vector.
type Candidate struct {
	ID     string
	Vector []float64
}

// Match is a ranked candidate. Index is the candidate's position in the
// slice passed to RankTopK.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Index int     `json:"index"`
}

// RankTopK scores every candidate against target and returns the k closest,
// ascending by score. Equal scores keep candidate order. Neither target nor
// candidates is modified.
func RankTopK(target []float64, candidates []Candidate, metric Metric, k int) ([]Match, error) {
	if k <= 0 {
		k = DefaultK
	}
	h := &matchHeap{}
	heap.Init(h)
	for i, c := range candidates {
		score, err := metric.Distance(target, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("scoring %q: %w", c.ID, err)
		}
		m := Match{ID: c.ID, Score: score, Index: i}
		if h.Len() < k {
			heap.Push(h, m)
			continue
		}
		if worse((*h)[0], m) {
			(*h)[0] = m
			heap.Fix(h, 0)
		}
	}
	result := make([]Match, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Match)
	}
	return result, nil
}

// worse reports whether a ranks after b.
func worse(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Index > b.Index
}

// matchHeap keeps the worst retained match at the root.
type matchHeap []Match

func (h matchHeap) Len() int { return len(h) }

func (h matchHeap) Less(i, j int) bool { return worse(h[i], h[j]) }

func (h matchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *matchHeap) Push(x interface{}) {
	*h = append(*h, x.(Match))
}

func (h *matchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
