package state

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/internal/validation"
)

type recorder struct {
	mu     sync.Mutex
	name   string
	order  *[]string
	values []any
}

func (r *recorder) Notify(_ string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, value)
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
}

func statusEvents() *Events {
	return NewEvents(Schema{
		"status": validation.MustKeySchema("status", `{"type": "string", "enum": ["PENDING", "DONE", "ERROR"]}`),
		"step": validation.MustKeySchema("step", `{
			"type": "object",
			"properties": {
				"status": {"type": "string", "default": "PENDING"},
				"queries": {"type": "array", "default": []}
			}
		}`),
		"answer": validation.MustKeySchema("answer", `{"type": "object", "required": ["text"]}`),
	}, WithLogger(slog.New(slog.DiscardHandler)))
}

func TestEvents_EmitReplay(t *testing.T) {
	e := statusEvents()
	r := &recorder{}
	e.On("status", r)

	require.NoError(t, e.Emit("status", "DONE"))

	v, ok := e.GetState("status")
	require.True(t, ok)
	assert.Equal(t, "DONE", v)
	assert.Equal(t, []any{"DONE"}, r.values)
}

func TestEvents_RejectedEmit(t *testing.T) {
	e := statusEvents()
	r := &recorder{}
	e.On("status", r)
	require.NoError(t, e.Emit("status", "PENDING"))

	assert.Error(t, e.Emit("status", "EXPLODED"))

	v, _ := e.Get("status")
	assert.Equal(t, "PENDING", v)
	assert.Equal(t, []any{"PENDING"}, r.values, "listeners never see invalid values")
}

func TestEvents_ListenerOrderAndWildcard(t *testing.T) {
	e := statusEvents()
	var order []string
	e.OnAll(&recorder{name: "all", order: &order})
	e.On("status", &recorder{name: "first", order: &order})
	e.On("status", &recorder{name: "second", order: &order})

	require.NoError(t, e.Emit("status", "DONE"))
	assert.Equal(t, []string{"first", "second", "all"}, order)
}

func TestEvents_DuplicateRegistration(t *testing.T) {
	e := statusEvents()
	r := &recorder{}
	e.On("status", r)
	e.On("status", r)
	assert.Equal(t, 1, e.ListenerCount("status"))

	require.NoError(t, e.Emit("status", "DONE"))
	assert.Len(t, r.values, 1)

	all := &recorder{}
	e.OnAll(all)
	e.OnAll(all)
	require.NoError(t, e.Emit("status", "ERROR"))
	assert.Len(t, all.values, 1)
}

func TestEvents_FuncListenersAreDistinct(t *testing.T) {
	e := statusEvents()
	calls := 0
	fn := ListenerFunc(func(string, any) { calls++ })
	cancelA := e.On("status", fn)
	e.On("status", fn)
	assert.Equal(t, 2, e.ListenerCount("status"))

	cancelA()
	cancelA()
	assert.Equal(t, 1, e.ListenerCount("status"))

	require.NoError(t, e.Emit("status", "DONE"))
	assert.Equal(t, 1, calls)
}

func TestEvents_Off(t *testing.T) {
	e := statusEvents()
	r := &recorder{}
	e.On("status", r)
	e.Off("status", r)
	e.Off("status", ListenerFunc(func(string, any) {}))

	require.NoError(t, e.Emit("status", "DONE"))
	assert.Empty(t, r.values)

	all := &recorder{}
	cancel := e.OnAll(all)
	cancel()
	require.NoError(t, e.Emit("status", "DONE"))
	assert.Empty(t, all.values)
}

func TestEvents_UpdateFromDefault(t *testing.T) {
	e := statusEvents()
	r := &recorder{}
	e.On("step", r)

	require.NoError(t, e.Update("step", func(cur any) any {
		m := cur.(map[string]any)
		next := map[string]any{"status": "DONE", "queries": m["queries"]}
		return next
	}))

	v, _ := e.Get("step")
	assert.Equal(t, map[string]any{"status": "DONE", "queries": []any{}}, v)
	assert.Len(t, r.values, 1)

	require.NoError(t, e.Update("step", func(cur any) any {
		m := cur.(map[string]any)
		return map[string]any{"status": m["status"], "queries": []any{"q1"}}
	}))
	v, _ = e.Get("step")
	assert.Equal(t, []any{"q1"}, v.(map[string]any)["queries"])
}

func TestEvents_UpdateWithoutDefault(t *testing.T) {
	e := statusEvents()
	r := &recorder{}
	e.On("answer", r)

	called := false
	err := e.Update("answer", func(any) any {
		called = true
		return map[string]any{"text": "x"}
	})
	assert.Error(t, err)
	assert.False(t, called)
	assert.Empty(t, r.values)
	_, ok := e.Get("answer")
	assert.False(t, ok)
}

func TestEvents_GetAllState(t *testing.T) {
	e := statusEvents()
	require.NoError(t, e.Emit("status", "DONE"))
	require.NoError(t, e.Emit("answer", map[string]any{"text": "42"}))
	assert.Len(t, e.GetAllState(), 2)
}

func TestEvents_ListenerCanEmit(t *testing.T) {
	e := statusEvents()
	e.On("answer", ListenerFunc(func(string, any) {
		_ = e.Emit("status", "DONE")
	}))
	require.NoError(t, e.Emit("answer", map[string]any{"text": "ok"}))
	v, _ := e.Get("status")
	assert.Equal(t, "DONE", v)
}
