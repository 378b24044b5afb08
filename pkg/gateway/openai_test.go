package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAI_Complete(t *testing.T) {
	var got map[string]any
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": `{"score": 7}`}},
			},
		})
	}))
	defer server.Close()

	g := gateway.NewOpenAI(server.URL+"/v1/", "sk-test", "gpt-4o-mini", 0)
	assert.Equal(t, "openai", g.Name())
	assert.Equal(t, "gpt-4o-mini", g.Model())

	reply, err := g.Complete(context.Background(), gateway.ChatRequest{
		System:      "You are a CFO.",
		User:        "Analyze this.",
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 7}`, reply)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "You are a CFO.", messages[0].(map[string]any)["content"])
	assert.Equal(t, "Analyze this.", messages[1].(map[string]any)["content"])
}

func TestOpenAI_Complete_RequestModelOverrides(t *testing.T) {
	var model string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		model, _ = body["model"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer server.Close()

	g := gateway.NewOpenAI(server.URL, "", "default-model", 0)
	_, err := g.Complete(context.Background(), gateway.ChatRequest{Model: "other-model", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "other-model", model)
}

func TestOpenAI_Complete_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"rate limited", http.StatusTooManyRequests, gateway.ErrRateLimited},
		{"quota", http.StatusPaymentRequired, gateway.ErrQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := gateway.NewOpenAI(server.URL, "", "m", 0).Complete(context.Background(), gateway.ChatRequest{User: "hi"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))
		})
	}
}

func TestOpenAI_Complete_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := gateway.NewOpenAI(server.URL, "", "m", 0).Complete(context.Background(), gateway.ChatRequest{User: "hi"})
	require.Error(t, err)

	var statusErr *gateway.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "upstream exploded")
	assert.False(t, errors.Is(err, gateway.ErrRateLimited))
}

func TestOpenAI_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	_, err := gateway.NewOpenAI(server.URL, "", "m", 0).Complete(context.Background(), gateway.ChatRequest{User: "hi"})
	assert.ErrorContains(t, err, "no choices")
}

func TestOpenAI_Complete_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := gateway.NewOpenAI(server.URL, "", "m", 0).Complete(context.Background(), gateway.ChatRequest{User: "hi"})
	assert.ErrorContains(t, err, "decode chat response")
}
