package shard

import "sync"

// Keyed hands out one mutex per key. Unlike Locker, two keys never share a
// mutex, so holding one key cannot stall another. A key's mutex is dropped
// once nobody holds or waits for it.
//
// The zero value is ready to use.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed returns an empty Keyed.
func NewKeyed() *Keyed { return &Keyed{} }

// Lock acquires the mutex for key and returns its unlock function. The
// unlock function must be called exactly once.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &keyedMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// With runs fn while holding the mutex for key.
func (k *Keyed) With(key string, fn func()) {
	defer k.Lock(key)()
	fn()
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
