// Package criteria holds the categorized criteria of a single house.
package criteria

import (
	"fmt"
	"sync"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

// Store is the in-memory criteria of one house, grouped by category in
// insertion order. Every fixed category is always present, possibly empty.
// Failed mutations leave the store unchanged.
type Store struct {
	mu     sync.RWMutex
	lists  map[domain.Category][]domain.Criterion
	subs   map[int]func(Event)
	nextSu int
}

func NewStore() *Store {
	s := &Store{
		lists: make(map[domain.Category][]domain.Criterion),
		subs:  make(map[int]func(Event)),
	}
	for _, c := range domain.Categories() {
		s.lists[c] = nil
	}
	return s
}

// Add appends c to category.
func (s *Store) Add(category domain.Category, c domain.Criterion) error {
	c.Category = category
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, _, ok := s.findLocked(c.ID); ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", domain.ErrDuplicateID, c.ID)
	}
	s.lists[category] = append(s.lists[category], c)
	idx := len(s.lists[category]) - 1
	s.mu.Unlock()

	s.emit(Event{Kind: EventAdded, Category: category, Index: idx, Criterion: c})
	return nil
}

// Remove deletes the criterion at ref. Dream house criteria are rejected.
func (s *Store) Remove(ref domain.Ref) (domain.Criterion, error) {
	s.mu.Lock()
	list, err := s.listLocked(ref)
	if err != nil {
		s.mu.Unlock()
		return domain.Criterion{}, err
	}
	c := list[ref.Index]
	if c.IsDream {
		s.mu.Unlock()
		return domain.Criterion{}, fmt.Errorf("%w: %q", domain.ErrNotRemovable, c.Name)
	}
	s.lists[ref.Category] = append(list[:ref.Index:ref.Index], list[ref.Index+1:]...)
	s.mu.Unlock()

	s.emit(Event{Kind: EventRemoved, Category: ref.Category, Index: ref.Index, Criterion: c})
	return c, nil
}

// UpdateValue sets the value at ref after checking it against the criterion type.
func (s *Store) UpdateValue(ref domain.Ref, v float64) (domain.Criterion, error) {
	s.mu.Lock()
	list, err := s.listLocked(ref)
	if err != nil {
		s.mu.Unlock()
		return domain.Criterion{}, err
	}
	c := list[ref.Index]
	if !c.Type.Accepts(v) {
		s.mu.Unlock()
		return domain.Criterion{}, fmt.Errorf("%w: %v for %s criterion %q", domain.ErrOutOfRange, v, c.Type, c.Name)
	}
	c.Value = v
	list[ref.Index] = c
	s.mu.Unlock()

	s.emit(Event{Kind: EventValueChanged, Category: ref.Category, Index: ref.Index, Criterion: c})
	return c, nil
}

// Move reorders a criterion inside its category. The target must be an
// existing position of the same category.
func (s *Store) Move(from, to domain.Ref) error {
	if from.Category != to.Category {
		return fmt.Errorf("%w: %s to %s crosses categories", domain.ErrInvalidMove, from, to)
	}

	s.mu.Lock()
	list, err := s.listLocked(from)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if to.Index < 0 || to.Index >= len(list) {
		s.mu.Unlock()
		return fmt.Errorf("%w: target %s out of bounds", domain.ErrInvalidMove, to)
	}
	c := list[from.Index]
	rest := append(list[:from.Index:from.Index], list[from.Index+1:]...)
	moved := make([]domain.Criterion, 0, len(list))
	moved = append(moved, rest[:to.Index]...)
	moved = append(moved, c)
	moved = append(moved, rest[to.Index:]...)
	s.lists[from.Category] = moved
	s.mu.Unlock()

	s.emit(Event{Kind: EventMoved, Category: to.Category, Index: to.Index, Criterion: c})
	return nil
}

// Get returns the criterion at ref.
func (s *Store) Get(ref domain.Ref) (domain.Criterion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, err := s.listLocked(ref)
	if err != nil {
		return domain.Criterion{}, err
	}
	return list[ref.Index], nil
}

// Find looks a criterion up by id.
func (s *Store) Find(id int64) (domain.Ref, domain.Criterion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, c, ok := s.findLocked(id)
	return ref, c, ok
}

// Criteria returns a copy of one category's criteria.
func (s *Store) Criteria(category domain.Category) []domain.Criterion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[category]
	out := make([]domain.Criterion, len(list))
	copy(out, list)
	return out
}

// Snapshot returns a deep copy of every category.
func (s *Store) Snapshot() map[domain.Category][]domain.Criterion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Category][]domain.Criterion, len(s.lists))
	for cat, list := range s.lists {
		cp := make([]domain.Criterion, len(list))
		copy(cp, list)
		out[cat] = cp
	}
	return out
}

// All returns every criterion in category order.
func (s *Store) All() []domain.Criterion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Criterion
	for _, cat := range domain.Categories() {
		out = append(out, s.lists[cat]...)
	}
	return out
}

func (s *Store) IDs() map[int64]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]struct{})
	for _, list := range s.lists {
		for _, c := range list {
			out[c.ID] = struct{}{}
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.lists {
		n += len(list)
	}
	return n
}

// NextID returns an id not used by any criterion of the store.
func (s *Store) NextID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for _, list := range s.lists {
		for _, c := range list {
			if c.ID > max {
				max = c.ID
			}
		}
	}
	return max + 1
}

// Apply runs fn under the write lock and emits a single reload event.
// fn edits the lists in place; it is used by reconciliation, which touches
// many rows at once. Lists left invalid by fn are not detected.
func (s *Store) Apply(fn func(lists map[domain.Category][]domain.Criterion) bool) {
	s.mu.Lock()
	changed := fn(s.lists)
	s.mu.Unlock()
	if changed {
		s.emit(Event{Kind: EventReloaded})
	}
}

func (s *Store) listLocked(ref domain.Ref) ([]domain.Criterion, error) {
	list, ok := s.lists[ref.Category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, ref.Category)
	}
	if ref.Index < 0 || ref.Index >= len(list) {
		return nil, fmt.Errorf("%w: %s", domain.ErrIndexOutOfRange, ref)
	}
	return list, nil
}

func (s *Store) findLocked(id int64) (domain.Ref, domain.Criterion, bool) {
	for _, cat := range domain.Categories() {
		for i, c := range s.lists[cat] {
			if c.ID == id {
				return domain.Ref{Category: cat, Index: i}, c, true
			}
		}
	}
	return domain.Ref{}, domain.Criterion{}, false
}
