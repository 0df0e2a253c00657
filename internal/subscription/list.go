// Package subscription keeps ordered lists of registered callbacks.
package subscription

import "sync"

type entry[T any] struct {
	id    uint64
	value T
}

// List is an ordered set of subscribers. The zero value is ready to use.
type List[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[T]
}

// Add appends v and returns a function that removes it again. Calling the
// returned function more than once is harmless.
func (l *List[T]) Add(v T) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, entry[T]{id: id, value: v})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *List[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

// Snapshot returns the subscribers in the order they were added.
func (l *List[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	values := make([]T, 0, len(l.entries))
	for _, e := range l.entries {
		values = append(values, e.value)
	}
	return values
}

func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
