package core

import (
	"slices"
	"sync"
)

// listeners is a subscriber set whose callbacks run outside the lock.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

func (l *listeners[T]) subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	if l.subs == nil {
		l.subs = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.subs[id] = fn
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[T]) emit(event T) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.subs[id])
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	l.subs = nil
	l.mu.Unlock()
}

