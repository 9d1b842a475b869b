// Package reconcile keeps an in-memory list of server-owned entities in step
// with server-returned or server-pushed changes, without a full re-fetch.
package reconcile

import "sync"

// Entity is anything identified by a stable server id.
type Entity interface {
	EntityID() string
}

// Kind tags an Event.
type Kind int

const (
	// KindUpserted carries a created or updated entity.
	KindUpserted Kind = iota + 1
	// KindDeleted carries only the id of a removed entity.
	KindDeleted
)

func (k Kind) String() string {
	switch k {
	case KindUpserted:
		return "upserted"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a tagged change: either Upserted(entity) or Deleted(id).
type Event[T Entity] struct {
	Kind   Kind
	ID     string
	Entity T
}

// Upserted builds an upsert event for e.
func Upserted[T Entity](e T) Event[T] {
	return Event[T]{Kind: KindUpserted, ID: e.EntityID(), Entity: e}
}

// Deleted builds a delete event for id.
func Deleted[T Entity](id string) Event[T] {
	return Event[T]{Kind: KindDeleted, ID: id}
}

// MergeFunc combines an existing entry with an incoming one sharing its id.
type MergeFunc[T Entity] func(existing, incoming T) T

// Replace is the default MergeFunc: the incoming entity wins outright.
func Replace[T Entity](_, incoming T) T { return incoming }

// List is an ordered, id-unique list of entities, newest first.
// It is safe for concurrent use.
type List[T Entity] struct {
	mu    sync.RWMutex
	items []T
	merge MergeFunc[T]
}

// NewList returns an empty list using merge for in-place updates.
// A nil merge means Replace.
func NewList[T Entity](merge MergeFunc[T]) *List[T] {
	if merge == nil {
		merge = Replace[T]
	}
	return &List[T]{merge: merge}
}

// Apply folds one event into the list and reports whether it changed anything
// structurally (insert or removal). Applying the same event twice has the
// same result as applying it once.
//
// Upsert: an existing id is merged in place, keeping length and order; a new
// id is prepended. Delete: the matching id is removed; unknown ids are ignored.
func (l *List[T]) Apply(ev Event[T]) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Kind {
	case KindUpserted:
		id := ev.Entity.EntityID()
		if id == "" {
			return false
		}
		if i := l.indexOf(id); i >= 0 {
			l.items[i] = l.merge(l.items[i], ev.Entity)
			return false
		}
		l.items = append([]T{ev.Entity}, l.items...)
		return true
	case KindDeleted:
		i := l.indexOf(ev.ID)
		if i < 0 {
			return false
		}
		l.items = append(l.items[:i:i], l.items[i+1:]...)
		return true
	}
	return false
}

// Upsert is shorthand for Apply(Upserted(e)).
func (l *List[T]) Upsert(e T) bool { return l.Apply(Upserted(e)) }

// Remove is shorthand for Apply(Deleted(id)).
func (l *List[T]) Remove(id string) bool { return l.Apply(Deleted[T](id)) }

// Reset replaces the whole list with the result of a fresh fetch.
// Duplicate ids keep their first occurrence.
func (l *List[T]) Reset(items []T) {
	seen := make(map[string]bool, len(items))
	fresh := make([]T, 0, len(items))
	for _, it := range items {
		id := it.EntityID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		fresh = append(fresh, it)
	}
	l.mu.Lock()
	l.items = fresh
	l.mu.Unlock()
}

// Items returns a copy of the current entries, newest first.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Get returns the entry with the given id.
func (l *List[T]) Get(id string) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.indexOf(id); i >= 0 {
		return l.items[i], true
	}
	var zero T
	return zero, false
}

// Len returns the number of entries.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *List[T]) indexOf(id string) int {
	for i, it := range l.items {
		if it.EntityID() == id {
			return i
		}
	}
	return -1
}
