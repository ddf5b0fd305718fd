package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// HTTPConfig configures the HTTP actions.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Client defaults to a client built from http.DefaultTransport.
	Client *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultHTTPTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{Transport: http.DefaultTransport}
	}
	return c
}

const httpInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string"},
    "query": {"type": "object"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "body_encoding": {"type": "string", "enum": ["json", "form", "text"], "default": "json"},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["bearer", "basic", "api_key"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "header_name": {"type": "string"},
        "header_value": {"type": "string"}
      }
    },
    "timeout": {"type": ["string", "number"]},
    "fail_on_error_status": {"type": "boolean", "default": true}
  },
  "required": ["url"]
}`

const httpOutputSchema = `{
  "type": "object",
  "properties": {
    "status_code": {"type": "integer"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "content_type": {"type": "string"},
    "duration_ms": {"type": "integer"}
  }
}`

// HTTPActions returns http.request plus the http.get and http.post shorthands.
func HTTPActions(cfg HTTPConfig) []Action {
	cfg = cfg.withDefaults()
	return []Action{
		&HTTPAction{name: "http.request", config: cfg},
		&HTTPAction{name: "http.get", method: http.MethodGet, config: cfg},
		&HTTPAction{name: "http.post", method: http.MethodPost, config: cfg},
	}
}

// HTTPAction performs one HTTP call. A fixed method overrides the
// "method" param.
type HTTPAction struct {
	name   string
	method string
	config HTTPConfig
}

// NewHTTPAction creates the generic http.request action.
func NewHTTPAction(cfg HTTPConfig) *HTTPAction {
	return &HTTPAction{name: "http.request", config: cfg.withDefaults()}
}

func (a *HTTPAction) Name() string { return a.name }

func (a *HTTPAction) Schema() ActionSchema {
	desc := "Perform an HTTP request; JSON responses are decoded"
	if a.method != "" {
		desc = fmt.Sprintf("Perform an HTTP %s request; JSON responses are decoded", a.method)
	}
	return ActionSchema{
		Description:  desc,
		InputSchema:  json.RawMessage(httpInputSchema),
		OutputSchema: json.RawMessage(httpOutputSchema),
	}
}

func (a *HTTPAction) Validate(params map[string]any) error {
	if err := requireString(a.name, params, "url"); err != nil {
		return err
	}
	rawURL := params["url"].(string)
	if pending(rawURL) {
		return nil
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid url %q", a.name, rawURL)
	}
	if _, err := durationParam(params, "timeout", 0); err != nil {
		return err
	}
	return nil
}

func (a *HTTPAction) Execute(ctx context.Context, input ActionInput) (any, error) {
	params := input.Params
	if params == nil {
		params = map[string]any{}
	}
	if err := a.Validate(params); err != nil {
		return nil, err
	}

	method := a.method
	if method == "" {
		method = strings.ToUpper(stringParam(params, "method", http.MethodGet))
	}
	timeout, _ := durationParam(params, "timeout", a.config.DefaultTimeout)

	req, err := a.newRequest(ctx, method, params)
	if err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(reqCtx)

	start := time.Now()
	resp, err := a.config.Client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "%s: timed out after %s", a.name, timeout).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: request failed: %v", a.name, err).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: read response body", a.name).WithCause(err)
	}

	contentType := resp.Header.Get("Content-Type")
	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	result := map[string]any{
		"status_code":  resp.StatusCode,
		"headers":      headers,
		"body":         decodeBody(body, contentType),
		"content_type": contentType,
		"duration_ms":  time.Since(start).Milliseconds(),
	}

	if resp.StatusCode >= 400 && boolParam(params, "fail_on_error_status", true) {
		// 4xx will not improve on retry; 5xx may.
		code := schema.ErrCodeNonRetryable
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = schema.ErrCodeExecution
		}
		return nil, schema.NewErrorf(code, "%s: %s returned %d", a.name, req.URL.Redacted(), resp.StatusCode).
			WithDetails(result)
	}
	return result, nil
}

func (a *HTTPAction) newRequest(ctx context.Context, method string, params map[string]any) (*http.Request, error) {
	u, err := url.Parse(params["url"].(string))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid url", a.name).WithCause(err)
	}
	if query, ok := mapParam(params, "query"); ok {
		q := u.Query()
		for k, v := range query {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	var contentType string
	if raw, ok := params["body"]; ok && raw != nil {
		switch stringParam(params, "body_encoding", "json") {
		case "form":
			form, ok := raw.(map[string]any)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: form body must be an object", a.name)
			}
			vals := url.Values{}
			for k, v := range form {
				vals.Set(k, fmt.Sprint(v))
			}
			body, contentType = strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded"
		case "text":
			body, contentType = strings.NewReader(fmt.Sprint(raw)), "text/plain"
		default:
			b, err := json.Marshal(raw)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: body is not JSON-serializable", a.name).WithCause(err)
			}
			body, contentType = strings.NewReader(string(b)), "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: build request", a.name).WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hdrs, ok := mapParam(params, "headers"); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	if auth, ok := mapParam(params, "auth"); ok {
		switch stringParam(auth, "type", "") {
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
		case "basic":
			req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
		case "api_key":
			if name := stringParam(auth, "header_name", ""); name != "" {
				req.Header.Set(name, stringParam(auth, "header_value", ""))
			}
		}
	}
	return req, nil
}

func decodeBody(b []byte, contentType string) any {
	if len(b) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			return v
		}
	}
	return string(b)
}
