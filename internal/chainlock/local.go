// Package chainlock provides per-chain writer locks for custody.Recorder.
package chainlock

import (
	"context"
	"sync"
)

// Local is an in-process keyed mutex. Waiting for a key honours ctx.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: map[string]*localEntry{}}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	en, ok := l.locks[key]
	if !ok {
		en = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = en
	}
	en.refs++
	l.mu.Unlock()

	select {
	case en.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, en)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-en.ch
			l.release(key, en)
		})
	}, nil
}

func (l *Local) release(key string, en *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	en.refs--
	if en.refs == 0 {
		delete(l.locks, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
