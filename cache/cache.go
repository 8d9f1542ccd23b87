// cache/cache.go

// Package cache holds short-lived derived values, such as resolved claim
// benefits, grouped in scopes that can be dropped at once.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache stores values under (scope, key). Invalidating a scope drops every
// key in it.
type Cache interface {
	Get(ctx context.Context, scope, key string) ([]byte, bool, error)
	Set(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, scope string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

type entry struct {
	value   []byte
	expires time.Time
}

// Local is an in-process Cache.
type Local struct {
	mu     sync.Mutex
	scopes map[string]map[string]entry
	now    func() time.Time
}

func NewLocal() *Local {
	return &Local{
		scopes: make(map[string]map[string]entry),
		now:    time.Now,
	}
}

// NewLocalWithClock is used by tests to control expiry.
func NewLocalWithClock(now func() time.Time) *Local {
	l := NewLocal()
	l.now = now
	return l
}

func (l *Local) Get(_ context.Context, scope, key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.scopes[scope][key]
	if !ok {
		return nil, false, nil
	}
	if !l.now().Before(e.expires) {
		delete(l.scopes[scope], key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (l *Local) Set(_ context.Context, scope, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, ok := l.scopes[scope]
	if !ok {
		keys = make(map[string]entry)
		l.scopes[scope] = keys
	}
	keys[key] = entry{value: value, expires: l.now().Add(ttl)}
	return nil
}

func (l *Local) Invalidate(_ context.Context, scope string) error {
	l.mu.Lock()
	delete(l.scopes, scope)
	l.mu.Unlock()
	return nil
}

func (l *Local) InvalidatePrefix(_ context.Context, prefix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for scope := range l.scopes {
		if strings.HasPrefix(scope, prefix) {
			delete(l.scopes, scope)
		}
	}
	return nil
}

// Sweep drops expired entries and empty scopes. It returns how many entries
// were removed.
func (l *Local) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for scope, keys := range l.scopes {
		for key, e := range keys {
			if !now.Before(e.expires) {
				delete(keys, key)
				removed++
			}
		}
		if len(keys) == 0 {
			delete(l.scopes, scope)
		}
	}
	return removed
}
