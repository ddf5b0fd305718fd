package research

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// DefaultOpenAIModel is used when no model name is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// ChatClient is the subset of *openai.Client the model adapter calls.
type ChatClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIModel implements Model with chat completions.
type OpenAIModel struct {
	client      ChatClient
	model       string
	temperature float32
	maxTokens   int
}

// OpenAIOption configures an OpenAIModel.
type OpenAIOption func(*OpenAIModel)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) OpenAIOption { return func(m *OpenAIModel) { m.temperature = t } }

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) OpenAIOption { return func(m *OpenAIModel) { m.maxTokens = n } }

// NewOpenAIClient creates a client for apiKey. baseURL overrides the API
// endpoint, e.g. for compatible gateways.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// NewOpenAIModel creates a Model over client using the named model.
func NewOpenAIModel(client ChatClient, model string, opts ...OpenAIOption) *OpenAIModel {
	if model == "" {
		model = DefaultOpenAIModel
	}
	m := &OpenAIModel{client: client, model: model, temperature: 0.2}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *OpenAIModel) Generate(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	})
	if err != nil {
		return "", classifyOpenAIError(req.Stage, err)
	}
	if len(resp.Choices) == 0 {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "%s: model returned no choices", req.Stage)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classifyOpenAIError marks client errors other than rate limiting as
// non-retryable.
func classifyOpenAIError(stage string, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	code := schema.ErrCodeExecution
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		code = schema.ErrCodeNonRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		code = schema.ErrCodeTimeout
	}
	return schema.NewErrorf(code, "%s: chat completion failed", stage).
		WithCause(err).
		WithDetails(map[string]any{"status": status})
}
