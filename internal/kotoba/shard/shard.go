// Package shard provides per-key mutexes.
//
// Locker is a fixed set of striped mutexes for short critical sections over
// in-memory state: two users hashing to the same stripe merely serialize,
// and state is still kept per user. Keyed gives every key its own mutex and
// is used where the lock is held across I/O or user code.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is used when New is given a non-positive count.
const DefaultStripes = 256

// Locker is a fixed set of mutexes selected by key hash.
type Locker struct {
	stripes []sync.Mutex
}

// New returns a Locker with n stripes.
func New(n int) *Locker {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Locker{stripes: make([]sync.Mutex, n)}
}

func (l *Locker) stripe(key string) *sync.Mutex {
	return &l.stripes[xxhash.Sum64String(key)%uint64(len(l.stripes))]
}

// Lock acquires the stripe for key and returns its unlock function.
func (l *Locker) Lock(key string) (unlock func()) {
	m := l.stripe(key)
	m.Lock()
	return m.Unlock
}

// With runs fn while holding the stripe for key.
func (l *Locker) With(key string, fn func()) {
	defer l.Lock(key)()
	fn()
}

// Stripes returns the stripe count.
func (l *Locker) Stripes() int { return len(l.stripes) }
