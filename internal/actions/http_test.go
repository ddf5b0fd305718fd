package actions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/pkg/schema"
)

func httpAction(name string) Action {
	for _, a := range HTTPActions(HTTPConfig{}) {
		if a.Name() == name {
			return a
		}
	}
	panic("no http action " + name)
}

func execHTTP(t *testing.T, action Action, params map[string]any) (map[string]any, error) {
	t.Helper()
	out, err := action.Execute(context.Background(), ActionInput{Params: params})
	if err != nil {
		return nil, err
	}
	result, ok := out.(map[string]any)
	require.True(t, ok, "result should be a map, got %T", out)
	return result, nil
}

func TestHTTPRequest_GETJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "go generics", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Custom", "test-value")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []string{"a", "b"}})
	}))
	defer srv.Close()

	result, err := execHTTP(t, httpAction("http.request"), map[string]any{
		"url":   srv.URL,
		"query": map[string]any{"q": "go generics"},
	})
	require.NoError(t, err)

	assert.Equal(t, 200, result["status_code"])
	assert.Contains(t, result["content_type"], "application/json")
	assert.Equal(t, map[string]any{"results": []any{"a", "b"}}, result["body"])
	assert.Equal(t, "test-value", result["headers"].(map[string]any)["X-Custom"])
}

func TestHTTPRequest_Bodies(t *testing.T) {
	tests := []struct {
		name        string
		encoding    string
		body        any
		contentType string
		want        string
	}{
		{"json", "json", map[string]any{"topic": "go"}, "application/json", `{"topic":"go"}`},
		{"form", "form", map[string]any{"topic": "go"}, "application/x-www-form-urlencoded", "topic=go"},
		{"text", "text", "plain words", "text/plain", "plain words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotType, gotBody string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotType = r.Header.Get("Content-Type")
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
			}))
			defer srv.Close()

			_, err := execHTTP(t, httpAction("http.post"), map[string]any{
				"url": srv.URL, "body": tt.body, "body_encoding": tt.encoding,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.contentType, gotType)
			assert.Equal(t, tt.want, gotBody)
		})
	}
}

func TestHTTPRequest_Auth(t *testing.T) {
	tests := []struct {
		name  string
		auth  map[string]any
		check func(t *testing.T, r *http.Request)
	}{
		{"bearer", map[string]any{"type": "bearer", "token": "tok"}, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		}},
		{"basic", map[string]any{"type": "basic", "username": "u", "password": "p"}, func(t *testing.T, r *http.Request) {
			u, p, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "u", u)
			assert.Equal(t, "p", p)
		}},
		{"api_key", map[string]any{"type": "api_key", "header_name": "X-Api-Key", "header_value": "k"}, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.check(t, r)
			}))
			defer srv.Close()

			_, err := execHTTP(t, httpAction("http.get"), map[string]any{
				"url":     srv.URL,
				"auth":    tt.auth,
				"headers": map[string]any{"X-Run": "r1"},
			})
			require.NoError(t, err)
		})
	}
}

func TestHTTPGet_FixedMethod(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpAction("http.get"), map[string]any{"url": srv.URL, "method": "DELETE"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, method)
}

func TestHTTPRequest_ErrorStatus(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpAction("http.get"), map[string]any{"url": srv.URL})
	requireCode(t, err, schema.ErrCodeNonRetryable)

	status = http.StatusServiceUnavailable
	_, err = execHTTP(t, httpAction("http.get"), map[string]any{"url": srv.URL})
	requireCode(t, err, schema.ErrCodeExecution)

	result, err := execHTTP(t, httpAction("http.get"), map[string]any{"url": srv.URL, "fail_on_error_status": false})
	require.NoError(t, err)
	assert.Equal(t, 503, result["status_code"])
	assert.Equal(t, "nope", result["body"])
}

func TestHTTPRequest_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := execHTTP(t, httpAction("http.get"), map[string]any{"url": srv.URL, "timeout": "50ms"})
	requireCode(t, err, schema.ErrCodeTimeout)
}

func TestHTTPRequest_ResponseSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	a := NewHTTPAction(HTTPConfig{MaxResponseBody: 4, DefaultTimeout: time.Second})
	result, err := execHTTP(t, a, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "0123", result["body"])
}

func TestHTTPRequest_Validate(t *testing.T) {
	a := httpAction("http.request")
	requireCode(t, a.Validate(map[string]any{}), schema.ErrCodeValidation)
	requireCode(t, a.Validate(map[string]any{"url": "ftp://example.com"}), schema.ErrCodeValidation)
	requireCode(t, a.Validate(map[string]any{"url": "https://example.com", "timeout": "soon"}), schema.ErrCodeValidation)
	assert.NoError(t, a.Validate(map[string]any{"url": "${{ context.endpoint }}"}))
	assert.NoError(t, a.Validate(map[string]any{"url": "https://example.com", "timeout": 1500}))
}
