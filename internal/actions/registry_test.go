package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/internal/expressions"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// stubAction is a minimal Action for registry tests.
type stubAction struct {
	name string
	desc string
}

func (s *stubAction) Name() string                    { return s.name }
func (s *stubAction) Schema() ActionSchema            { return ActionSchema{Description: s.desc} }
func (s *stubAction) Validate(_ map[string]any) error { return nil }
func (s *stubAction) Execute(_ context.Context, _ ActionInput) (any, error) {
	return map[string]any{"ok": true}, nil
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var tfErr *schema.TaskflowError
	require.True(t, errors.As(err, &tfErr), "expected TaskflowError, got %T", err)
	assert.Equal(t, code, tfErr.Code)
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "search.web", desc: "web search"}))
	assert.Equal(t, []string{"search.web"}, reg.Names())
	assert.True(t, reg.Has("search.web"))
	assert.False(t, reg.Has("search.news"))
}

func TestRegistry_RegisterRejects(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "dup"}))

	requireCode(t, reg.Register(&stubAction{name: "dup"}), schema.ErrCodeConflict)
	requireCode(t, reg.Register(nil), schema.ErrCodeValidation)
	requireCode(t, reg.Register(&stubAction{name: ""}), schema.ErrCodeValidation)
}

func TestRegistry_RegisterBatchIsAtomic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "taken"}))

	err := reg.Register(&stubAction{name: "fresh"}, &stubAction{name: "taken"})
	requireCode(t, err, schema.ErrCodeConflict)
	assert.False(t, reg.Has("fresh"), "a failed batch registers nothing")

	err = reg.Register(&stubAction{name: "twin"}, &stubAction{name: "twin"})
	requireCode(t, err, schema.ErrCodeConflict)
	assert.Equal(t, []string{"taken"}, reg.Names())
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "fetch"}))

	got, err := reg.Get("fetch")
	require.NoError(t, err)
	assert.Equal(t, "fetch", got.Name())

	_, err = reg.Get("missing")
	requireCode(t, err, schema.ErrCodeActionUnavailable)
	assert.Contains(t, err.Error(), "known: fetch")
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.List())

	require.NoError(t, reg.Register(&stubAction{name: "z.action", desc: "last"}))
	require.NoError(t, reg.Register(&stubAction{name: "a.action", desc: "first"}))
	require.NoError(t, reg.Register(&stubAction{name: "m.action", desc: "middle"}))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, ActionInfo{Name: "a.action", Description: "first"}, infos[0])
	assert.Equal(t, "m.action", infos[1].Name)
	assert.Equal(t, "z.action", infos[2].Name)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = reg.Register(&stubAction{name: fmt.Sprintf("concurrent.%d", i)})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = reg.Get("concurrent.0")
			_ = reg.List()
		}()
	}
	wg.Wait()
	assert.Len(t, reg.Names(), n)
}

func TestNewBuiltinRegistry(t *testing.T) {
	set, err := expressions.NewSet()
	require.NoError(t, err)
	reg, err := NewBuiltinRegistry(set, HTTPConfig{})
	require.NoError(t, err)

	for _, name := range []string{
		"expr.eval", "jq", "context.set", "event.emit",
		"wait", "fail", "log", "http.request", "http.get", "http.post",
	} {
		assert.True(t, reg.Has(name), name)
	}
	assert.Len(t, reg.Names(), 10)

	requireCode(t, RegisterBuiltins(reg, set, HTTPConfig{}), schema.ErrCodeConflict)
}
