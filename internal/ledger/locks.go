package ledger

import "sync"

// accountLocks serializes check-then-mutate sequences per user while
// letting different users proceed in parallel. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

// lock blocks until userID's lock is held and returns its release func.
func (l *accountLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	al, ok := l.locks[userID]
	if !ok {
		al = &accountLock{}
		l.locks[userID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.Lock()
	return func() {
		al.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// size reports how many users currently have a live lock entry.
func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
