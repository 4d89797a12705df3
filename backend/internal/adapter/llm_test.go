package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "kgrag/backend/pkg/errors"
)

type entities struct {
	Names []string `json:"names" jsonschema:"description=Person or organization names"`
}

// fakeOpenAI serves canned chat completions and records the last request body.
func fakeOpenAI(t *testing.T, status int, message map[string]any, lastReq *map[string]any, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if lastReq != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			*lastReq = body
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "rejected", "type": "invalid_request_error"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       message,
				"finish_reason": "stop",
			}},
		})
	}))
}

func TestLLMAdapter_Complete(t *testing.T) {
	var req map[string]any
	srv := fakeOpenAI(t, http.StatusOK, map[string]any{"role": "assistant", "content": "  She was queen.  "}, &req, nil)
	defer srv.Close()

	a := NewLLMAdapter(srv.URL, "key", "test-model")
	out, err := a.Complete(context.Background(), "", "Who was Elizabeth I?")
	require.NoError(t, err)
	assert.Equal(t, "She was queen.", out)

	msgs, ok := req["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1, "empty system prompt is not sent")
	assert.Equal(t, "test-model", req["model"])
}

func TestLLMAdapter_SendsTemperature(t *testing.T) {
	tests := []struct {
		name        string
		temperature float64
	}{
		{name: "zero is sent explicitly", temperature: 0},
		{name: "non-zero", temperature: 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req map[string]any
			srv := fakeOpenAI(t, http.StatusOK, map[string]any{"role": "assistant", "content": "hi"}, &req, nil)
			defer srv.Close()

			a := NewLLMAdapter(srv.URL, "key", "test-model", WithTemperature(tt.temperature))
			_, err := a.Complete(context.Background(), "", "hi")
			require.NoError(t, err)

			require.Contains(t, req, "temperature")
			assert.InDelta(t, tt.temperature, req["temperature"], 1e-6)
		})
	}
}

func TestLLMAdapter_Extract_ToolCall(t *testing.T) {
	var req map[string]any
	srv := fakeOpenAI(t, http.StatusOK, map[string]any{
		"role": "assistant",
		"tool_calls": []any{map[string]any{
			"id":   "call_1",
			"type": "function",
			"function": map[string]any{
				"name":      "entities",
				"arguments": `{"names": ["Elizabeth I", "Mary, Queen of Scots",]}`,
			},
		}},
	}, &req, nil)
	defer srv.Close()

	a := NewLLMAdapter(srv.URL, "key", "test-model")
	var got entities
	err := a.Extract(context.Background(), "sys", "user", "entities", "Extract names", &got)
	require.NoError(t, err)
	assert.Equal(t, []string{"Elizabeth I", "Mary, Queen of Scots"}, got.Names)

	choice, ok := req["tool_choice"].(map[string]any)
	require.True(t, ok, "tool choice must force the schema tool")
	fn := choice["function"].(map[string]any)
	assert.Equal(t, "entities", fn["name"])
}

func TestLLMAdapter_Extract_ContentFallback(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusOK, map[string]any{
		"role":    "assistant",
		"content": "```json\n{\"names\": [\"Robert Dudley\"]}\n```",
	}, nil, nil)
	defer srv.Close()

	a := NewLLMAdapter(srv.URL, "key", "test-model")
	var got entities
	require.NoError(t, a.Extract(context.Background(), "", "q", "entities", "", &got))
	assert.Equal(t, []string{"Robert Dudley"}, got.Names)
}

func TestLLMAdapter_Extract_NoOutput(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusOK, map[string]any{"role": "assistant", "content": ""}, nil, nil)
	defer srv.Close()

	a := NewLLMAdapter(srv.URL, "key", "test-model")
	var got entities
	err := a.Extract(context.Background(), "", "q", "entities", "", &got)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeLLM))
}

func TestLLMAdapter_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := fakeOpenAI(t, http.StatusUnauthorized, nil, nil, &calls)
	defer srv.Close()

	a := NewLLMAdapter(srv.URL, "bad", "test-model", WithMaxAttempts(3))
	_, err := a.Complete(context.Background(), "", "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestGenerateSchema_Entities(t *testing.T) {
	schema := GenerateSchema(&entities{})
	raw, err := json.Marshal(schema)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "object", decoded["type"])
	props := decoded["properties"].(map[string]any)
	assert.Contains(t, props, "names")
	assert.NotContains(t, decoded, "$schema")
}

func TestUnmarshalFlexible(t *testing.T) {
	var got entities
	require.NoError(t, UnmarshalFlexible(`"{\"names\":[\"Cecil\"]}"`, &got))
	assert.Equal(t, []string{"Cecil"}, got.Names)

	assert.Error(t, UnmarshalFlexible("   ", &got))
}

// TestLLMAdapter_Live requires a reachable OpenAI-compatible endpoint.
func TestLLMAdapter_Live(t *testing.T) {
	baseURL := os.Getenv("LLM_BASE_URL")
	if testing.Short() || baseURL == "" {
		t.Skip("Skipping integration test")
	}

	a := NewLLMAdapter(baseURL, os.Getenv("LLM_API_KEY"), os.Getenv("MODEL_ID"))
	out, err := a.Complete(context.Background(), "You are a helpful assistant.", "Say hello in one sentence.")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out == "" {
		t.Error("Expected non-empty content in response")
	}
}
