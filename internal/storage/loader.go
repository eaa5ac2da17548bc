package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

// LoadTemplateFromFile reads the default dream house criteria from a JSON file.
func LoadTemplateFromFile(path string) ([]domain.Criterion, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}

	var items []domain.Criterion
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	seen := make(map[int64]struct{}, len(items))
	for i, c := range items {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("template item %d: %w", i, err)
		}
		if c.ID <= 0 || c.ID >= domain.FirstUserCriterionID {
			return nil, fmt.Errorf("template item %d: %w: %d", i, domain.ErrReservedID, c.ID)
		}
		if _, ok := seen[c.ID]; ok {
			return nil, fmt.Errorf("template item %d: %w: %d", i, domain.ErrDuplicateID, c.ID)
		}
		seen[c.ID] = struct{}{}
		items[i].IsDream = true
	}
	return items, nil
}
