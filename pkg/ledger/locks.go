package ledger

import "sync"

// keyedLocker hands out one mutex per key. Entries are reference counted and
// dropped when the last holder releases, so the map only holds live keys.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*refLock)}
}

// lock acquires every key in sorted order and returns the release func.
func (l *keyedLocker) lock(keys ...string) (unlock func()) {
	keys = lockKeys(keys...)
	held := make([]*refLock, 0, len(keys))
	for _, k := range keys {
		l.mu.Lock()
		rl, ok := l.locks[k]
		if !ok {
			rl = &refLock{}
			l.locks[k] = rl
		}
		rl.refs++
		l.mu.Unlock()

		rl.Lock()
		held = append(held, rl)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, keys[i])
			}
			l.mu.Unlock()
		}
	}
}

func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
