package adapter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "kgrag/backend/pkg/errors"
	"kgrag/backend/pkg/logger"
)

// LLMAdapter talks to any OpenAI-compatible chat endpoint (Groq, LiteLLM, vLLM...).
type LLMAdapter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxAttempts int
	logger      *zap.Logger
}

// Option customizes an LLMAdapter.
type Option func(*LLMAdapter)

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(t float64) Option {
	return func(a *LLMAdapter) { a.temperature = float32(t) }
}

// WithMaxAttempts enables retrying transient failures. The default of 1 sends
// each request exactly once.
func WithMaxAttempts(n int) Option {
	return func(a *LLMAdapter) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// NewLLMAdapter creates a new LLM adapter. baseURL is the server root; "/v1"
// is appended.
func NewLLMAdapter(baseURL, apiKey, modelID string, opts ...Option) *LLMAdapter {
	// Local proxies accept any key
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"

	a := &LLMAdapter{
		client:      openai.NewClientWithConfig(config),
		model:       modelID,
		maxAttempts: 1,
		logger:      logger.Named("llm"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetModel returns the model this adapter sends requests to.
func (a *LLMAdapter) GetModel() string {
	return a.model
}

// Tool represents a function that can be called by the LLM
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition defines a function that can be called. Parameters is any
// JSON-marshalable schema (a map or a *jsonschema.Schema).
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// Response represents the LLM's response
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolCall represents a function call from the LLM
type ToolCall struct {
	ID           string
	Name         string
	RawArguments string
}

// Complete sends a system + user prompt and returns the trimmed text answer.
func (a *LLMAdapter) Complete(ctx context.Context, systemPrompt, userMsg string) (string, error) {
	resp, err := a.Generate(ctx, systemPrompt, userMsg, nil, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Generate sends a request to the LLM and returns the response. When
// forceTool is set the model is required to call that tool.
func (a *LLMAdapter) Generate(ctx context.Context, systemPrompt, userMsg string, tools []Tool, forceTool string) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMsg,
	})

	openaiTools := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		openaiTools = append(openaiTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}

	currentModel := a.GetModel()

	// go-openai omits a zero temperature and the provider default applies.
	temperature := a.temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	req := openai.ChatCompletionRequest{
		Model:       currentModel,
		Messages:    messages,
		Temperature: temperature,
	}
	if len(openaiTools) > 0 {
		req.Tools = openaiTools
	}
	if forceTool != "" {
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: forceTool},
		}
	}

	var resp openai.ChatCompletionResponse
	var err error
	attempt := 0
	for attempt < a.maxAttempts {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil, apperrors.NewContextCancelled("llm generate", ctx.Err())
			case <-time.After(backoff):
			}
		}
		attempt++

		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.String("model", currentModel),
		)
		if ctx.Err() != nil {
			return nil, apperrors.NewContextCancelled("llm generate", ctx.Err())
		}
		if !isTransient(err) {
			break
		}
	}

	if err != nil {
		return nil, apperrors.NewLLMRequestFailed(currentModel, attempt, isTransient(err), err)
	}

	if len(resp.Choices) == 0 {
		return nil, apperrors.ErrLLMNoResponse
	}

	choice := resp.Choices[0]
	response := &Response{
		Content:   choice.Message.Content,
		ToolCalls: make([]ToolCall, 0, len(choice.Message.ToolCalls)),
	}
	for _, tc := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:           tc.ID,
			Name:         tc.Function.Name,
			RawArguments: tc.Function.Arguments,
		})
	}

	a.logger.Debug("LLM response generated",
		zap.String("model", currentModel),
		zap.Int("tool_calls", len(response.ToolCalls)),
		zap.Bool("has_content", response.Content != ""),
	)

	return response, nil
}

// Extract asks the model for output matching the JSON schema of out and
// decodes it into out. The schema is offered as a single forced tool call.
func (a *LLMAdapter) Extract(ctx context.Context, systemPrompt, userMsg, name, description string, out any) error {
	tool := Tool{
		Type: string(openai.ToolTypeFunction),
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  GenerateSchema(out),
		},
	}

	resp, err := a.Generate(ctx, systemPrompt, userMsg, []Tool{tool}, name)
	if err != nil {
		return err
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != name {
			continue
		}
		if err := UnmarshalFlexible(tc.RawArguments, out); err != nil {
			return apperrors.NewLLMInvalidOutput(name, err)
		}
		return nil
	}

	// Some providers ignore tool_choice and answer with plain JSON
	if strings.TrimSpace(resp.Content) != "" {
		if err := UnmarshalFlexible(stripCodeFence(resp.Content), out); err == nil {
			return nil
		}
	}
	return apperrors.NewLLMInvalidOutput(name, fmt.Errorf("model did not call %s", name))
}

func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// Network-level failures carry no status code
	return true
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
