package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroqClient_CompleteSendsImagePart(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"[\"hey\"]"}}]}`))
	}))
	defer srv.Close()

	c := NewGroqClientWithOptions("key", srv.URL, 0)
	out, err := c.Complete(context.Background(), CompletionRequest{
		Model:       DefaultVisionModel,
		Prompt:      "hello",
		ImageURL:    "https://img.example/a.png",
		Temperature: 0.7,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, `["hey"]`, out)

	assert.Equal(t, DefaultVisionModel, body["model"])
	assert.Equal(t, false, body["stream"])
	msgs := body["messages"].([]interface{})
	content := msgs[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0].(map[string]interface{})["type"])
	img := content[1].(map[string]interface{})
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "https://img.example/a.png", img["image_url"].(map[string]interface{})["url"])
}

func TestGroqClient_TextOnlyUsesStringContent(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewGroqClientWithOptions("key", srv.URL, 0)
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hello"})
	require.NoError(t, err)

	assert.Equal(t, DefaultGroqModel, body["model"])
	msg := body["messages"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "hello", msg["content"])
}

func TestGroqClient_APIErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c := NewGroqClientWithOptions("key", srv.URL, 0)
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hello"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.Equal(t, 1, calls)
}
