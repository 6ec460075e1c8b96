// Package observer keeps ordered sets of observers that may be added or
// removed at any time, including from inside a notification.
package observer

import (
	"reflect"
	"sync"
)

// Set is an ordered collection of observers of type T. Observers are
// notified in registration order.
type Set[T any] struct {
	mu      sync.Mutex
	entries []*entry[T]
}

type entry[T any] struct {
	obs     T
	removed bool
}

// Registration is returned by Add. Remove unregisters the observer; calling
// it more than once is harmless.
type Registration struct {
	once   sync.Once
	remove func()
}

// Remove unregisters the observer.
func (r *Registration) Remove() {
	if r == nil {
		return
	}
	r.once.Do(r.remove)
}

// Add appends o to the set. Adding an observer that is already registered
// keeps its original position.
func (s *Set[T]) Add(o T) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.find(o); e != nil {
		return s.registration(e)
	}

	e := &entry[T]{obs: o}
	s.entries = append(s.entries, e)
	return s.registration(e)
}

// Remove unregisters o by identity. It reports whether o was registered.
// Observers whose dynamic type is not comparable can only be removed
// through their Registration.
func (s *Set[T]) Remove(o T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.find(o)
	if e == nil {
		return false
	}
	s.drop(e)
	return true
}

// Notify calls fn for each observer in registration order. Observers added
// during the walk are not notified; observers removed during the walk are
// skipped if not yet reached.
func (s *Set[T]) Notify(fn func(T)) {
	s.mu.Lock()
	snapshot := make([]*entry[T], len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	for _, e := range snapshot {
		s.mu.Lock()
		removed := e.removed
		s.mu.Unlock()
		if removed {
			continue
		}
		fn(e.obs)
	}
}

// Len returns the number of registered observers.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Set[T]) registration(e *entry[T]) *Registration {
	return &Registration{remove: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.drop(e)
	}}
}

// drop removes e. Caller holds s.mu.
func (s *Set[T]) drop(e *entry[T]) {
	for i, cur := range s.entries {
		if cur == e {
			e.removed = true
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// find returns the entry holding o. Caller holds s.mu.
func (s *Set[T]) find(o T) *entry[T] {
	v := reflect.ValueOf(any(o))
	if !v.IsValid() || !v.Comparable() {
		return nil
	}
	key := any(o)
	for _, e := range s.entries {
		ev := reflect.ValueOf(any(e.obs))
		if ev.IsValid() && ev.Type() == v.Type() && any(e.obs) == key {
			return e
		}
	}
	return nil
}
