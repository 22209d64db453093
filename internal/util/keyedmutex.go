package util

import "sync"

// KeyedMutex is a set of advisory locks addressed by string key.
// Entries are reference counted and removed once no holder or waiter remains.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty lock set.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len reports the number of keys currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
