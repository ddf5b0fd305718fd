package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/pkg/schema"
)

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.NotNil(t, v.workflowSchema)
}

// --- ValidateDefinition ---

func minimalDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Start: "a",
		Tasks: []schema.TaskSpec{{Name: "a", Action: "noop"}},
	}
}

func TestValidateDefinition_Minimal(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateDefinition(minimalDef()))
}

func TestValidateDefinition_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	err = v.ValidateDefinition(nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestValidateDefinition_MissingStart(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := minimalDef()
	def.Start = ""
	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_NoTasks(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := minimalDef()
	def.Tasks = nil
	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_BadDuration(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := minimalDef()
	def.Tasks[0].Timeout = "soon"
	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_BadBackoff(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := minimalDef()
	def.Tasks[0].Retry = &schema.RetryPolicy{Max: 2, Backoff: "fibonacci"}
	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_BadStrategy(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := minimalDef()
	def.Tasks[0].OnError = &schema.ErrorHandler{Strategy: "retry_forever"}
	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_NegativeConfig(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := minimalDef()
	def.Config = map[string]any{"maxIterations": -1}
	assert.Error(t, v.ValidateDefinition(def))

	def.Config = map[string]any{"maxIterations": 3, "model": "gpt-4o-mini"}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_FullRoute(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Start: "plan",
		Tasks: []schema.TaskSpec{
			{Name: "plan", Action: "noop", Route: &schema.RouteSpec{Many: []schema.RouteTarget{{Task: "a", Data: 1}, {Task: "b"}}}},
			{Name: "a", Action: "noop", Timeout: "250ms", Route: &schema.RouteSpec{When: []schema.RouteCase{{If: "result > 0", To: "b"}}, Default: "end"}},
			{Name: "b", Action: "noop", Retry: &schema.RetryPolicy{Max: 2, Backoff: "exponential", Delay: "10ms", MaxDelay: "1s"}},
		},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

// --- Key schemas ---

func TestKeySchema_Validate(t *testing.T) {
	ks := MustKeySchema("count", `{"type": "number"}`)
	assert.Equal(t, "count", ks.Key())

	v, err := ks.Validate(3)
	require.NoError(t, err)
	assert.Equal(t, 3, v, "value is returned unchanged")

	_, err = ks.Validate("three")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestKeySchema_ValidateStruct(t *testing.T) {
	type source struct {
		Title string `json:"title"`
		Link  string `json:"link"`
	}
	ks := MustKeySchema("sources", `{
		"type": "array",
		"items": {"type": "object", "required": ["title", "link"]}
	}`)

	_, err := ks.Validate([]source{{Title: "Go", Link: "https://go.dev"}})
	assert.NoError(t, err)

	_, err = ks.Validate([]map[string]any{{"title": "no link"}})
	require.Error(t, err)

	var tfErr *schema.TaskflowError
	require.ErrorAs(t, err, &tfErr)
	assert.Equal(t, "sources", tfErr.Details["key"])
	assert.NotEmpty(t, tfErr.Details["violations"])
}

func TestKeySchema_Unserializable(t *testing.T) {
	ks := MustKeySchema("any", `{}`)
	_, err := ks.Validate(make(chan int))
	assert.Error(t, err)
}

func TestKeySchema_DefaultExplicit(t *testing.T) {
	ks := MustKeySchema("status", `{"type": "string", "default": "PENDING"}`)
	d, err := ks.Default()
	require.NoError(t, err)
	assert.Equal(t, "PENDING", d)
}

func TestKeySchema_DefaultFromProperties(t *testing.T) {
	ks := MustKeySchema("step", `{
		"type": "object",
		"properties": {
			"status": {"type": "string", "default": "PENDING"},
			"count": {"type": "number", "default": 0}
		}
	}`)
	d, err := ks.Default()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "PENDING", "count": float64(0)}, d)
}

func TestKeySchema_NoValidDefault(t *testing.T) {
	ks := MustKeySchema("answer", `{"type": "object", "required": ["text"]}`)
	_, err := ks.Default()
	assert.Error(t, err)

	ks = MustKeySchema("count", `{"type": "number"}`)
	_, err = ks.Default()
	assert.Error(t, err, "empty object is not a number")
}

func TestCompileKeySchema_Invalid(t *testing.T) {
	_, err := CompileKeySchema("bad", []byte(`{"type": 12}`))
	assert.Error(t, err)

	_, err = CompileKeySchema("bad", []byte(`not json`))
	assert.Error(t, err)

	assert.Panics(t, func() { MustKeySchema("bad", `{`) })
}

func TestCompileKeySchema_EscapesKey(t *testing.T) {
	ks, err := CompileKeySchema("a key/with?chars", []byte(`{"type": "string"}`))
	require.NoError(t, err)
	_, err = ks.Validate("ok")
	assert.NoError(t, err)
}

func TestJSONSchemaValidator_KeySchemaCache(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	doc := map[string]any{"type": "number"}
	a, err := v.KeySchema("count", doc)
	require.NoError(t, err)
	b, err := v.KeySchema("count", map[string]any{"type": "number"})
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := v.KeySchema("count", map[string]any{"type": "string"})
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestJSONSchemaValidator_KeySchemas(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	all, err := v.KeySchemas(map[string]any{
		"count":  map[string]any{"type": "number"},
		"status": map[string]any{"type": "string"},
	})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = v.KeySchemas(map[string]any{"bad": map[string]any{"type": 7}})
	assert.Error(t, err)
}

func TestJSONSchemaValidator_ConcurrentKeySchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ks, err := v.KeySchema("count", map[string]any{"type": "number"})
			assert.NoError(t, err)
			_, err = ks.Validate(1.5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
