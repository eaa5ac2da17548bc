package criteria

import "github.com/denisok6893-rgb/open-house/internal/domain"

type EventKind string

const (
	EventAdded        EventKind = "added"
	EventRemoved      EventKind = "removed"
	EventValueChanged EventKind = "value_changed"
	EventMoved        EventKind = "moved"
	EventReloaded     EventKind = "reloaded"
)

// Event describes one store change. Category, Index and Criterion are unset
// for EventReloaded.
type Event struct {
	Kind      EventKind
	Category  domain.Category
	Index     int
	Criterion domain.Criterion
}

// Subscribe registers fn for every change of this store. Handlers run on the
// mutating goroutine after the store lock is released.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSu
	s.nextSu++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) emit(e Event) {
	s.mu.RLock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}
