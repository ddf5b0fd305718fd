package state

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// Validator guards the values written under one key. Validate returns the
// value to store, which may be a parsed form of the input.
type Validator interface {
	Validate(value any) (any, error)
	Default() (any, error)
}

// Schema maps every permitted key to its validator. A nil validator
// accepts any value for a declared key.
type Schema map[string]Validator

// ValidatorFunc adapts a function to Validator. It has no default.
type ValidatorFunc func(value any) (any, error)

func (f ValidatorFunc) Validate(value any) (any, error) { return f(value) }

func (f ValidatorFunc) Default() (any, error) {
	return nil, schema.NewError(schema.ErrCodeValidation, "validator has no default")
}

// TypeOf returns a Validator accepting values of Go type T. The default is T's zero value.
func TypeOf[T any]() Validator {
	return typed[T]{}
}

type typed[T any] struct{}

func (typed[T]) Validate(value any) (any, error) {
	if _, ok := value.(T); !ok {
		var zero T
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "expected %T, got %T", zero, value)
	}
	return value, nil
}

func (typed[T]) Default() (any, error) {
	var zero T
	return zero, nil
}

// entry is one key's current value plus a version bumped on every write.
type entry struct {
	value   any
	version uint64
}

// store is the validated, versioned key/value map shared by Context and
// Events. Writes that fail validation leave the map untouched.
type store struct {
	kind   string
	schema Schema
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]entry
}

func newStore(kind string, s Schema, logger *slog.Logger) *store {
	if logger == nil {
		logger = slog.Default()
	}
	return &store{
		kind:   kind,
		schema: s,
		logger: logger,
		values: make(map[string]entry),
	}
}

func (s *store) validate(key string, value any) (any, error) {
	v, declared := s.schema[key]
	if !declared {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "%s key %q is not declared in the schema", s.kind, key)
	}
	if v == nil {
		return value, nil
	}
	parsed, err := v.Validate(value)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s key %q rejected: %s", s.kind, key, err.Error()).WithCause(err)
	}
	return parsed, nil
}

func (s *store) reject(key string, err error) error {
	s.logger.Error(s.kind+" write rejected", slog.String("key", key), slog.String("error", err.Error()))
	return err
}

func (s *store) get(key string) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.values[key]
	return e, ok
}

// put validates and stores value, returning the stored form.
func (s *store) put(key string, value any) (any, error) {
	parsed, err := s.validate(key, value)
	if err != nil {
		return nil, s.reject(key, err)
	}
	s.mu.Lock()
	s.values[key] = entry{value: parsed, version: s.values[key].version + 1}
	s.mu.Unlock()
	return parsed, nil
}

// swap stores the updater's result only if key was not written since the
// updater read it; otherwise it reruns the updater on the fresh value.
func (s *store) swap(key string, initial func(entry, bool) (any, error), fn func(any) any) (any, error) {
	if _, declared := s.schema[key]; !declared {
		return nil, s.reject(key, schema.NewErrorf(schema.ErrCodeNotFound, "%s key %q is not declared in the schema", s.kind, key))
	}
	for {
		cur, ok := s.get(key)
		prev, err := initial(cur, ok)
		if err != nil {
			return nil, s.reject(key, err)
		}

		parsed, err := s.validate(key, fn(prev))
		if err != nil {
			return nil, s.reject(key, err)
		}

		s.mu.Lock()
		if s.values[key].version != cur.version {
			s.mu.Unlock()
			continue
		}
		s.values[key] = entry{value: parsed, version: cur.version + 1}
		s.mu.Unlock()
		return parsed, nil
	}
}

func (s *store) snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, e := range s.values {
		out[k] = e.value
	}
	return out
}

func (s *store) String() string {
	return fmt.Sprintf("%s(%d keys)", s.kind, len(s.schema))
}
