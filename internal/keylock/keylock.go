// Package keylock provides mutual exclusion scoped to a string key.
//
// Locks for unrelated keys never contend; entries are reference counted and
// released once the last holder unlocks so the table does not grow with the
// number of keys ever seen.
package keylock

import "sync"

// Table hands out per-key mutexes.
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New constructs an empty lock table.
func New() *Table {
	return &Table{locks: make(map[string]*entry)}
}

// Lock blocks until the key is held and returns the matching unlock func.
func (t *Table) Lock(key string) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*entry)
	}
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			t.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(t.locks, key)
			}
			t.mu.Unlock()
		})
	}
}

// Len reports how many keys currently have holders or waiters.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
