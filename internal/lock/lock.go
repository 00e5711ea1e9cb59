// Package lock serialises work on a single document.
package lock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Memory is a per-key in-process lock.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			m.release(key, s)
		})
	}, nil
}

func (m *Memory) release(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}
