package utils

import "sync"

// KeyedMutex hands out one mutex per key so concurrent writers to the same
// entity serialize while distinct entities proceed in parallel. Locks are
// never evicted; the key space (rooms, annotations) is small and bounded by
// the lifetime of the process.
type KeyedMutex struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	if l, ok := k.m[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	k.m[key] = l
	return l
}

// Lock locks the mutex for key.
func (k *KeyedMutex) Lock(key string) { k.get(key).Lock() }

// Unlock unlocks the mutex for key.
func (k *KeyedMutex) Unlock(key string) { k.get(key).Unlock() }
