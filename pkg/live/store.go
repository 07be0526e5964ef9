// Package live exposes cached entities as observable queries. A Store binds a
// scope to the entity store's commit hooks, so every committed write re-runs
// the query and notifies observers synchronously with the commit.
package live

import (
	"context"
	"sync"

	"coursecache/pkg/store"
)

// State describes what a consumer should render.
type State string

const (
	// StateLoading holds until the first refresh resolves.
	StateLoading State = "loading"
	StateData    State = "data"
	StateEmpty   State = "empty"
	StateError   State = "error"
)

// Section is one contiguous run of items sharing a section key.
type Section[T any] struct {
	Key   string
	Items []T
}

// Query resolves a scope to ordered rows. The store's List* helpers curried
// over the entity store satisfy it.
type Query[T any] func(scope store.Scope) ([]T, error)

// Refresher triggers the network side of the use case backing this view.
type Refresher func(ctx context.Context, force bool) error

// Store is a live view over one scope. Ordering and sectioning come solely
// from the scope; the store never re-sorts.
type Store[T any] struct {
	entities   *store.EntityStore
	scope      store.Scope
	query      Query[T]
	refresh    Refresher
	sectionKey func(T) string

	mu      sync.Mutex
	loaded  bool
	items   []T
	err     error
	changes chan struct{}
	unhook  func()
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithSectionKey enables Sections; rows are grouped by consecutive equal keys.
func WithSectionKey[T any](fn func(T) string) Option[T] {
	return func(s *Store[T]) { s.sectionKey = fn }
}

// WithRefresher wires the network refresh invoked by Refresh.
func WithRefresher[T any](fn Refresher) Option[T] {
	return func(s *Store[T]) { s.refresh = fn }
}

// New builds a live store, runs the query once, and subscribes to commits.
// Callers must Close it to detach the commit hook.
func New[T any](entities *store.EntityStore, scope store.Scope, query Query[T], opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		entities: entities,
		scope:    scope,
		query:    query,
		changes:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.reload()
	s.unhook = entities.OnCommit(s.reload)
	return s
}

func (s *Store[T]) reload() {
	items, err := s.query(s.scope)
	s.mu.Lock()
	s.loaded = true
	if err == nil || len(items) > 0 {
		s.items = items
	}
	s.err = err
	s.mu.Unlock()
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// State reports loading until the first query resolves, then data, empty, or
// error. A populated view with a later failed query keeps its data: stale rows
// beat a blank screen.
func (s *Store[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.loaded:
		return StateLoading
	case s.err != nil && len(s.items) == 0:
		return StateError
	case len(s.items) == 0:
		return StateEmpty
	}
	return StateData
}

// Items returns the current query result.
func (s *Store[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.items...)
}

// Err returns the last query error, if any.
func (s *Store[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Sections groups consecutive items by section key. Without a section key the
// whole result is one unnamed section.
func (s *Store[T]) Sections() []Section[T] {
	items := s.Items()
	if len(items) == 0 {
		return nil
	}
	if s.sectionKey == nil {
		return []Section[T]{{Items: items}}
	}
	var out []Section[T]
	for _, item := range items {
		key := s.sectionKey(item)
		if n := len(out); n > 0 && out[n-1].Key == key {
			out[n-1].Items = append(out[n-1].Items, item)
			continue
		}
		out = append(out, Section[T]{Key: key, Items: []T{item}})
	}
	return out
}

// Changes signals after every committed write; notifications coalesce, so a
// reader always observes the newest state when it drains the channel.
func (s *Store[T]) Changes() <-chan struct{} { return s.changes }

// Refresh runs the wired network refresh. The local view updates through the
// commit hook, not through the return path.
func (s *Store[T]) Refresh(ctx context.Context, force bool) error {
	if s.refresh == nil {
		return nil
	}
	return s.refresh(ctx, force)
}

// Close detaches the commit hook.
func (s *Store[T]) Close() {
	if s.unhook != nil {
		s.unhook()
		s.unhook = nil
	}
}
