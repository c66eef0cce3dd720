package facade

import "sync"

type entityKey struct {
	typ string
	id  int64
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// keyedLock serializes work per entity. Entries are dropped when unused.
type keyedLock struct {
	mu    sync.Mutex
	locks map[entityKey]*refLock
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[entityKey]*refLock)}
}

// Lock blocks until the entity is free and returns its unlock func.
func (k *keyedLock) Lock(typ string, id int64) func() {
	key := entityKey{typ: typ, id: id}
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return k.unlocker(key, l)
}

// TryLock locks the entity only if nobody holds or waits for it.
func (k *keyedLock) TryLock(typ string, id int64) (func(), bool) {
	key := entityKey{typ: typ, id: id}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.locks[key]; busy {
		return nil, false
	}
	l := &refLock{refs: 1}
	l.mu.Lock()
	k.locks[key] = l
	return k.unlocker(key, l), true
}

func (k *keyedLock) unlocker(key entityKey, l *refLock) func() {
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
