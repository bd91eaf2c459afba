package indexer

import "sync"

// identityLocks serializes runs per coordinates. A reset wipes every
// archive, so it takes the exclusive side of all.
type identityLocks struct {
	all sync.RWMutex

	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{keys: make(map[string]*keyLock)}
}

// lock blocks until no other run holds key and no reset is in progress.
func (l *identityLocks) lock(key string) (unlock func()) {
	l.all.RLock()

	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &keyLock{}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.keys, key)
		}
		l.mu.Unlock()
		l.all.RUnlock()
	}
}

// lockAll blocks until no run holds any key.
func (l *identityLocks) lockAll() (unlock func()) {
	l.all.Lock()
	return l.all.Unlock
}
