// Package matcher scores feature vectors against each other and ranks
// candidates by ascending distance.
package matcher

import (
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

// Kind selects the distance function a Metric applies.
type Kind int

const (
	SSD Kind = iota
	Intersection
	WeightedSplit
)

func (k Kind) String() string {
	switch k {
	case SSD:
		return "ssd"
	case Intersection:
		return "intersection"
	case WeightedSplit:
		return "weighted-split"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Metric is a distance function together with the parameters it needs.
// Split, WeightA and WeightB are only read by WeightedSplit.
type Metric struct {
	Kind    Kind
	Split   int
	WeightA float64
	WeightB float64
}

func (m Metric) Distance(a, b []float64) (float64, error) {
	switch m.Kind {
	case SSD:
		return SumSquaredDifference(a, b)
	case Intersection:
		return HistogramIntersection(a, b)
	case WeightedSplit:
		return WeightedSplitIntersection(a, b, m.Split, m.WeightA, m.WeightB)
	default:
		return 0, fmt.Errorf("%w: unknown metric %s", apperrors.ErrInvalidInput, m.Kind)
	}
}

func (m Metric) String() string {
	if m.Kind == WeightedSplit {
		return fmt.Sprintf("%s(%d, %.2g, %.2g)", m.Kind, m.Split, m.WeightA, m.WeightB)
	}
	return m.Kind.String()
}

// SumSquaredDifference returns Σ (a[i]-b[i])².
func SumSquaredDifference(a, b []float64) (float64, error) {
	if err := sameLength(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum, nil
}

// HistogramIntersection returns 1 - Σ min(a[i], b[i]). For two normalized
// histograms the result lies in [0, 1] and is 0 for identical inputs.
func HistogramIntersection(a, b []float64) (float64, error) {
	if err := sameLength(a, b); err != nil {
		return 0, err
	}
	return 1 - intersect(a, b), nil
}

// WeightedSplitIntersection scores the two parts of a concatenated
// histogram separately: positions [0, split) weigh wa and [split, n) weigh
// wb. It returns wa*(1-Σmin over A) + wb*(1-Σmin over B).
func WeightedSplitIntersection(a, b []float64, split int, wa, wb float64) (float64, error) {
	if err := sameLength(a, b); err != nil {
		return 0, err
	}
	if split < 0 || split > len(a) {
		return 0, fmt.Errorf("%w: split %d outside vector of length %d", apperrors.ErrDimensionMismatch, split, len(a))
	}
	first := 1 - intersect(a[:split], b[:split])
	second := 1 - intersect(a[split:], b[split:])
	return wa*first + wb*second, nil
}

func intersect(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Min(a[i], b[i])
	}
	return sum
}

func sameLength(a, b []float64) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: vectors of length %d and %d", apperrors.ErrDimensionMismatch, len(a), len(b))
	}
	return nil
}
