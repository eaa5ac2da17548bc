package house

import (
	"fmt"
	"sync"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

// Template is the dream house: the baseline criteria every house carries.
type Template struct {
	mu    sync.RWMutex
	lists map[domain.Category][]domain.Criterion
}

func NewTemplate() *Template {
	t := &Template{lists: make(map[domain.Category][]domain.Criterion)}
	for _, c := range domain.Categories() {
		t.lists[c] = nil
	}
	return t
}

// Add appends a criterion to the template. Ids are unique across categories.
func (t *Template) Add(c domain.Criterion) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID <= 0 || c.ID >= domain.FirstUserCriterionID {
		return fmt.Errorf("%w: %d", domain.ErrReservedID, c.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, list := range t.lists {
		for _, existing := range list {
			if existing.ID == c.ID {
				return fmt.Errorf("%w: %d", domain.ErrDuplicateID, c.ID)
			}
		}
	}
	c.IsDream = true
	t.lists[c.Category] = append(t.lists[c.Category], c)
	return nil
}

// Remove drops a criterion from the template. Houses lose it on their next sync.
func (t *Template) Remove(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for cat, list := range t.lists {
		for i, c := range list {
			if c.ID == id {
				t.lists[cat] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Replace swaps the whole template, e.g. after fetching it from the service.
func (t *Template) Replace(list []domain.Criterion) error {
	next := NewTemplate()
	for _, c := range list {
		if err := next.Add(c); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.lists = next.lists
	t.mu.Unlock()
	return nil
}

// Criteria returns a copy of the template grouped by category.
func (t *Template) Criteria() map[domain.Category][]domain.Criterion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[domain.Category][]domain.Criterion, len(t.lists))
	for cat, list := range t.lists {
		cp := make([]domain.Criterion, len(list))
		copy(cp, list)
		out[cat] = cp
	}
	return out
}

// SyncCriteriaWithDreamHouse inserts every template criterion the house lacks
// (by id) as a dream criterion, and drops dream criteria the template no
// longer has. It reports whether anything changed. Running it twice in a row
// changes nothing the second time.
func (h *House) SyncCriteriaWithDreamHouse(t *Template) bool {
	tmpl := t.Criteria()
	want := make(map[int64]struct{})
	for _, list := range tmpl {
		for _, c := range list {
			want[c.ID] = struct{}{}
		}
	}

	changed := false
	h.Criteria.Apply(func(lists map[domain.Category][]domain.Criterion) bool {
		have := make(map[int64]struct{})
		for cat, list := range lists {
			kept := list[:0:0]
			for _, c := range list {
				if _, ok := want[c.ID]; c.IsDream && !ok {
					changed = true
					continue
				}
				kept = append(kept, c)
				have[c.ID] = struct{}{}
			}
			lists[cat] = kept
		}
		for _, cat := range domain.Categories() {
			for _, c := range tmpl[cat] {
				if _, ok := have[c.ID]; ok {
					continue
				}
				c.IsDream = true
				c.Category = cat
				lists[cat] = append(lists[cat], c)
				have[c.ID] = struct{}{}
				changed = true
			}
		}
		return changed
	})
	return changed
}
