package matching

import (
	"math"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

// buildSnap spreads values over the categories; odd positions are ternary.
func buildSnap(cats []int, values []int) snap {
	s := snap{}
	all := domain.Categories()
	for i := 0; i < len(cats) && i < len(values); i++ {
		c := domain.Criterion{ID: int64(i + 1), Type: domain.TypeBinary, Value: float64(values[i] & 1)}
		if i%2 == 1 {
			c.Type = domain.TypeTernary
			c.Value = float64(values[i]%3 - 1)
		}
		cat := all[cats[i]%len(all)]
		s[cat] = append(s[cat], c)
	}
	return s
}

func TestRatiosProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	e := NewEngine(nil)

	properties.Property("ratios are idempotent", prop.ForAll(
		func(cats, values []int) bool {
			s := buildSnap(cats, values)
			return reflect.DeepEqual(e.ComputeMatchingRatios(s), e.ComputeMatchingRatios(s)) &&
				e.ComputeRank(s) == e.ComputeRank(s)
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.Property("ratios stay within 0..1 and never NaN", prop.ForAll(
		func(cats, values []int) bool {
			for _, v := range e.ComputeMatchingRatios(buildSnap(cats, values)) {
				if math.IsNaN(v) || v < 0 || v > 1 {
					return false
				}
			}
			r := e.ComputeRank(buildSnap(cats, values))
			return r >= 0 && r <= 100
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
