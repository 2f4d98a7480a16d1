package notebook

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
)

// Store holds the current notebook state and serializes dispatches.
type Store struct {
	mu     sync.Mutex
	state  State
	nextID int
	subs   map[int]func(State)
	logger pslog.Logger
}

// NewStore returns a store seeded with state.
func NewStore(state State, logger pslog.Logger) *Store {
	return &Store{state: state, subs: map[int]func(State){}, logger: logger}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch reduces action into the current state and notifies subscribers
// when the snapshot changed. Stale cell references are logged and ignored.
func (s *Store) Dispatch(ctx context.Context, action Action) error {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	s.mu.Lock()
	prev := s.state
	next, err := Reduce(prev, action)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrCellNotFound) {
			log.Warn("notebook cell not found", "action", Name(action), "err", err)
			return nil
		}
		log.Error("notebook dispatch failed", "action", Name(action), "err", err)
		return err
	}
	s.state = next
	fns := make([]func(State), 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	log.Trace("notebook dispatch", "action", Name(action), "cells", next.Len(), "undo", len(next.UndoStack))
	if prev.Equal(next) && len(prev.UndoStack) == len(next.UndoStack) && len(prev.RedoStack) == len(next.RedoStack) {
		return nil
	}
	for _, fn := range fns {
		fn(next)
	}
	return nil
}

// Subscribe registers fn for state changes and returns its cancel func.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
