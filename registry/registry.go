// Package registry holds the shared services of a harness run, constructing
// each one at most once no matter how many units ask for it concurrently.
package registry

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrClosed       = errors.New("registry is closed")
	ErrBindingFixed = errors.New("component already resolved, binding can no longer change")
)

// Key identifies a component by its type and a discriminator, so that e.g.
// one HTTP client per environment can coexist.
type Key struct {
	Type          reflect.Type
	Discriminator string
}

func (k Key) String() string {
	name := "<nil>"
	if k.Type != nil {
		name = k.Type.String()
	}
	if k.Discriminator == "" {
		return name
	}
	return name + "/" + k.Discriminator
}

// KeyOf returns the key under which Resolve[T] caches its component.
func KeyOf[T any](discriminator string) Key {
	return Key{Type: reflect.TypeFor[T](), Discriminator: discriminator}
}

// ConstructionError is returned when a component factory fails. The entry
// is left unconstructed and the next caller tries again.
type ConstructionError struct {
	Key Key
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("constructing component %s: %v", e.Key, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// IsConstructionError checks if the error is or wraps a ConstructionError
func IsConstructionError(err error) bool {
	var constructionErr *ConstructionError
	return err != nil && errors.As(err, &constructionErr)
}

type entry struct {
	mu          sync.Mutex
	constructed bool
	instance    any
	override    func() (any, error)
}

// Registry caches one component per Key. The registry lock only guards the
// entry map; construction happens under the entry's own lock so unrelated
// keys never wait on each other.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	order   []Key // construction order
	closed  bool
	log     log.Logger
}

// New creates an empty registry
func New(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.New()
	}
	return &Registry{
		entries: make(map[Key]*entry),
		log:     logger.New("component", "registry"),
	}
}

func (r *Registry) entry(key Key) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	return e, nil
}

// Resolve returns the component of type T for discriminator, constructing
// it with factory (or a registered override) on first use. Concurrent first
// callers block until the single construction finishes.
func Resolve[T any](r *Registry, discriminator string, factory func() (T, error)) (T, error) {
	var zero T
	key := KeyOf[T](discriminator)

	e, err := r.entry(key)
	if err != nil {
		return zero, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.constructed {
		typed, _ := e.instance.(T)
		return typed, nil
	}

	build := e.override
	if build == nil {
		if factory == nil {
			return zero, &ConstructionError{Key: key, Err: errors.New("no factory provided")}
		}
		build = func() (any, error) { return factory() }
	}

	instance, err := construct(build)
	metrics.RecordConstruction(key.String(), err)
	if err != nil {
		r.log.Warn("Component construction failed", "key", key, "err", err)
		return zero, &ConstructionError{Key: key, Err: err}
	}

	if err := r.markConstructed(key); err != nil {
		// Closed while we were constructing; nobody will tear this down.
		if closeErr := closeInstance(instance); closeErr != nil {
			r.log.Warn("Failed to close component built during shutdown", "key", key, "err", closeErr)
		}
		return zero, err
	}
	e.instance = instance
	e.constructed = true
	r.log.Debug("Constructed component", "key", key)
	typed, _ := instance.(T)
	return typed, nil
}

func construct(build func() (any, error)) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return build()
}

func (r *Registry) markConstructed(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.order = append(r.order, key)
	return nil
}

// Override binds an alternate factory for T and discriminator. It must be
// called before the component is first resolved.
func Override[T any](r *Registry, discriminator string, factory func() (T, error)) error {
	if factory == nil {
		return errors.New("override factory is nil")
	}
	e, err := r.entry(KeyOf[T](discriminator))
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.constructed {
		return ErrBindingFixed
	}
	e.override = func() (any, error) { return factory() }
	return nil
}

// Keys returns the keys of constructed components in construction order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, len(r.order))
	copy(keys, r.order)
	return keys
}

// Close tears the registry down. Components implementing io.Closer are
// closed in reverse construction order; later resolutions fail with
// ErrClosed. Closing twice is a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	order := r.order
	entries := r.entries
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		e := entries[order[i]]
		e.mu.Lock()
		instance := e.instance
		e.instance = nil
		e.mu.Unlock()

		if err := closeInstance(instance); err != nil {
			r.log.Warn("Failed to close component", "key", order[i], "err", err)
			errs = append(errs, fmt.Errorf("closing %s: %w", order[i], err))
		}
	}
	r.log.Debug("Registry closed", "components", len(order))
	return errors.Join(errs...)
}

func closeInstance(instance any) error {
	if c, ok := instance.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
