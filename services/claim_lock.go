// services/claim_lock.go
package services

import (
	"sync"
	"time"
)

type lockEntry struct {
	token    uint64
	acquired time.Time
}

// ClaimLocks is the per-user single-flight table for claims. An entry older
// than ttl is stale and may be taken over.
type ClaimLocks struct {
	mu   sync.Mutex
	held map[string]lockEntry
	next uint64
	ttl  time.Duration
	now  func() time.Time
}

func NewClaimLocks(ttl time.Duration, now func() time.Time) *ClaimLocks {
	if now == nil {
		now = time.Now
	}
	return &ClaimLocks{
		held: make(map[string]lockEntry),
		ttl:  ttl,
		now:  now,
	}
}

// TryAcquire takes the lock for userID without waiting. The returned release
// func only clears the entry it created.
func (l *ClaimLocks) TryAcquire(userID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, held := l.held[userID]; held && now.Sub(e.acquired) < l.ttl {
		return nil, false
	}

	l.next++
	token := l.next
	l.held[userID] = lockEntry{token: token, acquired: now}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, held := l.held[userID]; held && e.token == token {
			delete(l.held, userID)
		}
	}, true
}

// Sweep evicts stale entries and returns how many were removed.
func (l *ClaimLocks) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for userID, e := range l.held {
		if now.Sub(e.acquired) >= l.ttl {
			delete(l.held, userID)
			removed++
		}
	}
	return removed
}

func (l *ClaimLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
