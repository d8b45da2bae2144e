package engine

import "sync"

// accountLocks hands out one mutex per account id. All ledger mutations
// for an account serialize on its mutex; operations on different
// accounts proceed independently and no code path ever holds two
// account locks at once.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// get returns the mutex for an account, creating it on first use.
// Locks are never removed; the per-account footprint is one mutex.
func (l *accountLocks) get(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[accountID] = lock
	}
	return lock
}
