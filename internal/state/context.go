package state

import (
	"errors"
	"log/slog"
	"sort"
)

// Option configures a Context or Events.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger that records rejected writes.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Context is the schema-validated key/value state shared by the tasks of a
// run. Values are replaced on write, never mutated in place, so a value read
// by one task stays consistent while another task writes the key.
// It is safe for concurrent use.
type Context struct {
	s *store
}

// NewContext creates an empty Context restricted to the keys of s.
func NewContext(s Schema, opts ...Option) *Context {
	o := applyOptions(opts)
	return &Context{s: newStore("context", s, o.logger)}
}

// Get returns the current value of key.
func (c *Context) Get(key string) (any, bool) {
	e, ok := c.s.get(key)
	return e.value, ok
}

// Set validates value and stores it. A rejected write is logged, leaves the
// previous value in place and is reported as a *schema.TaskflowError.
func (c *Context) Set(key string, value any) error {
	_, err := c.s.put(key, value)
	return err
}

// Update stores fn(previous). previous is nil when key was never set. If
// another writer changes key while fn runs, fn is called again with the
// newer value, so fn must not have side effects.
func (c *Context) Update(key string, fn func(prev any) any) error {
	_, err := c.s.swap(key, func(e entry, _ bool) (any, error) {
		return e.value, nil
	}, fn)
	return err
}

// Merge calls Set for every key of partial. Valid keys are stored even when
// others are rejected; the rejections are joined in key order.
func (c *Context) Merge(partial map[string]any) error {
	keys := make([]string, 0, len(partial))
	for k := range partial {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := c.Set(k, partial[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetAll returns a shallow snapshot of every set key.
func (c *Context) GetAll() map[string]any {
	return c.s.snapshot()
}

// Declared reports whether key is part of the schema.
func (c *Context) Declared(key string) bool {
	_, ok := c.s.schema[key]
	return ok
}

// Getter is satisfied by Context and Events.
type Getter interface {
	Get(key string) (any, bool)
}

// Value returns the value stored under key as T.
func Value[T any](g Getter, key string) (T, bool) {
	v, ok := g.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
