package actions

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// Registry maps action names, as written in a task's "action" field, to
// their implementations. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds actions. Either all of them are added or, when one is nil,
// unnamed or already taken, none are.
func (r *Registry) Register(acts ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]Action, len(acts))
	for _, a := range acts {
		if a == nil {
			return schema.NewError(schema.ErrCodeValidation, "action is nil")
		}
		name := a.Name()
		if name == "" {
			return schema.NewError(schema.ErrCodeValidation, "action name is empty")
		}
		if _, taken := r.actions[name]; taken {
			return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
		}
		if _, taken := batch[name]; taken {
			return schema.NewErrorf(schema.ErrCodeConflict, "action %q registered twice", name)
		}
		batch[name] = a
	}
	maps.Copy(r.actions, batch)
	return nil
}

// Get returns the named action. The error lists the registered names.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable,
			"action %q not registered (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Names returns the registered action names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.actions))
}

// List describes every registered action, ordered by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]ActionInfo, 0, len(r.actions))
	for _, name := range slices.Sorted(maps.Keys(r.actions)) {
		infos = append(infos, ActionInfo{Name: name, Description: r.actions[name].Schema().Description})
	}
	return infos
}
