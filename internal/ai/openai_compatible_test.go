package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"document-portal/internal/apperr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) (*OpenAICompatibleClient, *observer.ObservedLogs) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	client := NewOpenAICompatibleClient(Config{
		BaseURL:        srv.URL + "/v1/",
		APIKey:         "sk-test",
		Model:          "chat-model",
		EmbeddingModel: "embed-model",
		MaxRetries:     retries,
	}, WithLogger(zap.New(core)), WithRetryInterval(time.Millisecond))
	return client, logs
}

func TestCompleteSendsModelAndMessages(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string        `json:"model"`
			Messages []ChatMessage `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chat-model", body.Model)
		assert.Len(t, body.Messages, 2)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Paris"}}]}`))
	}, 0)

	answer, err := client.Complete(context.Background(), []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "Capital of France?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", answer)
}

func TestCompleteRetriesTransientFailuresAndLogs(t *testing.T) {
	var calls atomic.Int32
	client, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`overloaded`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}, 2)

	answer, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, logs.FilterMessage("retrying external call").Len())
}

func TestCompleteRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 1)

	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExternalService)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, 3)

	_, err := client.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, apperr.ErrExternalService)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedBatchKeepsInputOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`))
	}, 0)

	vectors, err := client.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}, 0)

	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, apperr.ErrExternalService)
}

func TestEmbedRejectsBlankInput(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, 0)

	_, err := client.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCompleteWithoutChoicesIsEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}, 0)

	answer, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, answer)
}
