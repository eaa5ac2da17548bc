package matching

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

// Weights defines coefficients for each category when ratios are combined into a rank.
type Weights map[domain.Category]float64

// DefaultWeights gives every category the same weight.
func DefaultWeights() Weights {
	w := make(Weights)
	for _, c := range domain.Categories() {
		w[c] = 1.0
	}
	return w
}

// LoadWeightsFromFile loads weights from JSON file, falling back to defaults on file read errors.
// Categories missing from the file keep their default weight.
func LoadWeightsFromFile(path string) (Weights, error) {
	w := DefaultWeights()
	b, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("read weights file: %w", err)
	}
	var loaded map[domain.Category]float64
	if err := json.Unmarshal(b, &loaded); err != nil {
		return w, fmt.Errorf("unmarshal weights: %w", err)
	}
	for c, v := range loaded {
		if !c.Valid() {
			return DefaultWeights(), fmt.Errorf("weights: %w: %q", domain.ErrUnknownCategory, c)
		}
		if v < 0 {
			return DefaultWeights(), fmt.Errorf("weights: negative weight for %s", c)
		}
		w[c] = v
	}
	return w, nil
}
