// Package scope provides the shared variable store for the notebook.
//
// A Store maps variable names to their last computed value and carries a
// monotonically increasing version. Every logical mutation (one Set, or one
// SetMany batch) bumps the version exactly once; the version is the only
// invalidation signal consumers should rely on.
package scope

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zurustar/flowsheet/pkg/logger"
)

// Store is the single source of truth for variable values.
// It is safe for concurrent use.
type Store struct {
	variables map[string]any
	version   uint64
	mu        sync.RWMutex

	subscribers *subscriberRegistry

	// pending holds changes in version order until they are dispatched.
	// It is appended to under mu, so the order matches the versions.
	qmu      sync.Mutex
	pending  []Change
	draining bool

	log *slog.Logger
}

// Option is a functional option for configuring the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New creates an empty store at version 0.
func New(opts ...Option) *Store {
	s := &Store{
		variables:   make(map[string]any),
		subscribers: newSubscriberRegistry(),
		log:         logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves a variable value by name.
//
// Returns:
//   - any: The variable value
//   - bool: true if the variable was found, false otherwise
func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.variables[name]
	return value, ok
}

// Set inserts or overwrites a variable and bumps the version by one.
// The increment is computed under the write lock, so concurrent callers
// never lose an increment. Writing nil is the way to "unset" a name;
// entries are never removed.
//
// Returns the version after the write.
func (s *Store) Set(name string, value any) uint64 {
	s.mu.Lock()
	s.variables[name] = value
	s.version++
	v := s.version
	s.enqueue(v)
	s.mu.Unlock()

	s.log.Debug("scope variable set", "name", name, "version", v)
	s.drain()
	return v
}

// SetMany applies a batch of writes as one logical mutation: all values are
// stored and the version is bumped once, under a single lock, so no reader
// observes a partially applied batch. An empty batch still counts as one
// mutation.
func (s *Store) SetMany(values map[string]any) uint64 {
	s.mu.Lock()
	for name, value := range values {
		s.variables[name] = value
	}
	s.version++
	v := s.version
	s.enqueue(v)
	s.mu.Unlock()

	s.log.Debug("scope batch applied", "count", len(values), "version", v)
	s.drain()
	return v
}

// Version returns the current version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns an immutable copy of the current variables together with
// the version they belong to. The map is copied; values are shared and must
// be treated as read-only by every consumer.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vars := make(map[string]any, len(s.variables))
	for k, v := range s.variables {
		vars[k] = v
	}
	return Snapshot{vars: vars, version: s.version}
}

// Keys returns all variable names in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.variables)
}

// Size returns the number of variables.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.variables)
}

// Subscribe registers fn to be called after every version bump and returns
// an id for Unsubscribe. Changes are delivered one at a time in version
// order, after the store lock has been released, so callbacks may read and
// write the store freely. With concurrent writers a callback may run on
// another writer's goroutine, and a write made inside a callback is
// delivered after that callback returns.
func (s *Store) Subscribe(fn func(Change)) string {
	return s.subscribers.add(fn)
}

// Unsubscribe removes a subscription. It returns false for unknown ids.
func (s *Store) Unsubscribe(id string) bool {
	return s.subscribers.remove(id)
}

// enqueue records the change for version. The caller holds mu.
func (s *Store) enqueue(version uint64) {
	s.qmu.Lock()
	s.pending = append(s.pending, Change{Version: version, Time: time.Now()})
	s.qmu.Unlock()
}

// drain dispatches pending changes unless another goroutine already is.
func (s *Store) drain() {
	s.qmu.Lock()
	if s.draining {
		s.qmu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		s.qmu.Unlock()
		s.subscribers.dispatch(c)
		s.qmu.Lock()
	}
	s.draining = false
	s.qmu.Unlock()
}

// Snapshot is a read-only view of the store at one version.
// The zero value is an empty snapshot at version 0.
type Snapshot struct {
	vars    map[string]any
	version uint64
}

// NewSnapshot builds a snapshot from a plain map, copying it.
// It is mainly useful for evaluating against an ad-hoc scope.
func NewSnapshot(vars map[string]any) Snapshot {
	cp := make(map[string]any, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return Snapshot{vars: cp}
}

// Get retrieves a variable from the snapshot.
func (s Snapshot) Get(name string) (any, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Version returns the store version the snapshot was taken at.
func (s Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of variables.
func (s Snapshot) Len() int {
	return len(s.vars)
}

// Keys returns the variable names in sorted order.
func (s Snapshot) Keys() []string {
	return sortedKeys(s.vars)
}

// Map returns a fresh copy of the variables.
func (s Snapshot) Map() map[string]any {
	cp := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		cp[k] = v
	}
	return cp
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
