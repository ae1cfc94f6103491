// Package memory implements an in-process store.Store. It serves as a local store and as the fake store in tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/store"
	"github.com/google/uuid"
	"sync"
)

var _ store.Store = &Store{}

type Store struct {
	root     map[string]any
	watchers map[*watcher]struct{}
	lock     sync.Mutex
}

type watcher struct {
	path string
	ch   chan store.Event
}

func New() *Store {
	return &Store{
		root:     make(map[string]any),
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.get(path)
}

func (s *Store) get(path string) (json.RawMessage, error) {
	var v any = s.root
	if path != "" {
		v = store.Lookup(s.root, store.Split(path))
	} else if len(s.root) == 0 {
		v = nil
	}
	return json.Marshal(v)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	v, err := store.Normalize(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	switch {
	case path == "":
		m, ok := v.(map[string]any)
		if v != nil && !ok {
			return fmt.Errorf("set %s: %w", path, store.ErrInvalidPath)
		}
		if m == nil {
			m = make(map[string]any)
		}
		s.root = m
	case v == nil:
		store.Delete(s.root, store.Split(path))
	default:
		store.Put(s.root, store.Split(path), v)
	}
	s.notify(path)
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *Store) Push(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := store.CleanPath(path); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}
	return id.String(), nil
}

func (s *Store) Subscribe(ctx context.Context, path string) (<-chan store.Event, error) {
	path, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	w := watcher{path: path, ch: make(chan store.Event, 1)}

	s.lock.Lock()
	s.watchers[&w] = struct{}{}
	s.send(&w)
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.watchers, &w)
		close(w.ch)
	}()
	return w.ch, nil
}

// notify sends the new value to all watchers affected by a change at path. Must be called with the lock held.
func (s *Store) notify(path string) {
	for w := range s.watchers {
		if store.Related(w.path, path) {
			s.send(w)
		}
	}
}

// send replaces any unread event of the watcher with the current value. Must be called with the lock held.
func (s *Store) send(w *watcher) {
	value, err := s.get(w.path)
	ev := store.Event{Path: w.path, Value: value, Err: err}
	select {
	case <-w.ch:
	default:
	}
	w.ch <- ev
}
