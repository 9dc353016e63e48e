package sentiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRouterCompleter_Complete(t *testing.T) {
	var received chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"score\": 64}"}}]}`))
	}))
	defer server.Close()

	c := NewOpenRouterCompleter(OpenRouterConfig{
		BaseURL:     server.URL,
		APIKey:      "test-key",
		Model:       "openai/gpt-4o-mini",
		Temperature: 0.2,
	})

	reply, err := c.Complete(context.Background(), "system prompt", "post text")
	require.NoError(t, err)
	assert.Equal(t, `{"score": 64}`, reply)

	assert.Equal(t, "openai/gpt-4o-mini", received.Model)
	assert.Equal(t, 0.2, received.Temperature)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "system prompt"}, received.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "post text"}, received.Messages[1])
}

func TestOpenRouterCompleter_Errors(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		expectedStatus int
		expectedErr    error
	}{
		{name: "Rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, expectedStatus: 429},
		{name: "Server error", status: http.StatusBadGateway, body: "bad gateway", expectedStatus: 502},
		{name: "Unauthorized", status: http.StatusUnauthorized, body: `{"error":"no key"}`, expectedStatus: 401},
		{name: "No choices", status: http.StatusOK, body: `{"choices":[]}`, expectedErr: ErrMalformedReply},
		{name: "Garbage body", status: http.StatusOK, body: `<html>`, expectedErr: ErrMalformedReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewOpenRouterCompleter(OpenRouterConfig{BaseURL: server.URL, APIKey: "k", Model: "m"})
			_, err := c.Complete(context.Background(), "s", "u")
			require.Error(t, err)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.expectedStatus, statusErr.StatusCode)
		})
	}
}

func TestAnthropicCompleter_Complete(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "{\"score\": 30, \"reasoning\": \"selling pressure\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 12}
		}`))
	}))
	defer server.Close()

	c := NewAnthropicCompleter(AnthropicConfig{
		BaseURL: server.URL + "/",
		APIKey:  "test-key",
		Model:   "claude-3-5-haiku-latest",
	})

	reply, err := c.Complete(context.Background(), "system prompt", "post text")
	require.NoError(t, err)
	assert.Equal(t, `{"score": 30, "reasoning": "selling pressure"}`, reply)

	assert.Equal(t, "claude-3-5-haiku-latest", received["model"])
	assert.EqualValues(t, 256, received["max_tokens"])
}

func TestAnthropicCompleter_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	c := NewAnthropicCompleter(AnthropicConfig{BaseURL: server.URL + "/", APIKey: "bad", Model: "m"})
	_, err := c.Complete(context.Background(), "s", "u")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}
