// Package keylock serializes work per key while letting different keys proceed in parallel.
package keylock

import (
	"github.com/gofrs/uuid/v5"
	"github.com/sasha-s/go-deadlock"
)

type entry struct {
	mu   deadlock.Mutex
	refs int
}

// Table is a set of mutexes keyed by identity. Entries are dropped once no
// goroutine holds or waits on them. The zero value is ready to use.
type Table struct {
	mu    deadlock.Mutex
	locks map[uuid.UUID]*entry
}

// Lock blocks until key is held and returns the matching unlock.
func (t *Table) Lock(key uuid.UUID) (unlock func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[uuid.UUID]*entry)
	}
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
