package matching

import (
	"math"
	"sort"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

// Source is anything that can hand out a consistent copy of a house's criteria.
type Source interface {
	Snapshot() map[domain.Category][]domain.Criterion
}

type Engine struct {
	weights Weights
}

func NewEngine(w Weights) *Engine {
	if w == nil {
		w = DefaultWeights()
	}
	return &Engine{weights: w}
}

// ComputeMatchingRatios returns a 0..1 ratio for every category.
// An empty category has ratio 0.
func (e *Engine) ComputeMatchingRatios(src Source) map[domain.Category]float64 {
	return ratios(src.Snapshot())
}

// ComputeRank combines category ratios into a 0..100 score with 0.1 precision.
// Only categories holding criteria take part; no criteria at all yields 0.
func (e *Engine) ComputeRank(src Source) float64 {
	return e.rank(src.Snapshot())
}

// Score computes ratios, rank and one reason per non-empty category.
func (e *Engine) Score(src Source) domain.ScoreResult {
	snap := src.Snapshot()
	r := ratios(snap)

	var reasons []domain.ScoreReason
	for _, c := range domain.Categories() {
		if len(snap[c]) == 0 {
			continue
		}
		reasons = append(reasons, domain.ScoreReason{
			Category: c,
			Message:  reasonMessage(string(c), r[c]),
			Ratio:    r[c],
		})
	}
	sort.SliceStable(reasons, func(i, j int) bool { return reasons[i].Ratio > reasons[j].Ratio })

	return domain.ScoreResult{Ratios: r, Rank: e.rank(snap), Reasons: reasons}
}

// Ranked pairs a name with a rank for list ordering. Key is opaque to sorting.
type Ranked struct {
	Key  string
	Name string
	Rank float64
}

// SortByRank orders by rank descending, ties by name.
func SortByRank(items []Ranked) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Rank != items[j].Rank {
			return items[i].Rank > items[j].Rank
		}
		return items[i].Name < items[j].Name
	})
}

func (e *Engine) rank(snap map[domain.Category][]domain.Criterion) float64 {
	r := ratios(snap)
	var sumW, sum float64
	for _, c := range domain.Categories() {
		if len(snap[c]) == 0 {
			continue
		}
		w := e.weights[c]
		if w <= 0 {
			continue
		}
		sumW += w
		sum += w * r[c]
	}
	if sumW <= 0 {
		return 0
	}
	score := math.Round(sum/sumW*1000) / 10
	return clamp(score, 0, 100)
}

func ratios(snap map[domain.Category][]domain.Criterion) map[domain.Category]float64 {
	out := make(map[domain.Category]float64, len(snap))
	for _, c := range domain.Categories() {
		list := snap[c]
		if len(list) == 0 {
			out[c] = 0
			continue
		}
		var sum float64
		for _, cr := range list {
			sum += normalize(cr)
		}
		out[c] = sum / float64(len(list))
	}
	return out
}

// normalize maps a criterion value to 0..1 in the direction "more is better".
func normalize(c domain.Criterion) float64 {
	switch c.Type {
	case domain.TypeTernary:
		return clamp01((c.Value + 1) / 2)
	default:
		return clamp01(c.Value)
	}
}

func reasonMessage(label string, v float64) string {
	switch {
	case v >= 0.8:
		return label + ": strong match"
	case v >= 0.6:
		return label + ": good"
	case v >= 0.4:
		return label + ": mixed"
	default:
		return label + ": weak"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
