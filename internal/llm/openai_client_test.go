package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "deskmate/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOpenAIClient(Config{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)
	return client
}

func TestNewOpenAIClientRejectsIncompleteConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Model: "m", BaseURL: "u"},
		{APIKey: "k", BaseURL: "u"},
		{APIKey: "k", Model: "m"},
	} {
		_, err := NewOpenAIClient(cfg)
		require.Error(t, err)
		assert.Equal(t, agenterrors.KindConfig, agenterrors.KindOf(err))
	}
}

func TestCompleteParsesContentAndCachedUsage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "你好"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 7, "total_tokens": 107,
				"prompt_tokens_details": {"cached_tokens": 40}}
		}`)
	})

	var reported Usage
	client.SetUsageCallback(func(u Usage, model string) {
		reported = u
		assert.Equal(t, "test-model", model)
	})

	resp, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "你好", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 40, resp.Usage.CachedTokens)
	assert.Equal(t, 100, reported.PromptTokens)
}

func TestCompleteUpstreamErrorKind(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	})

	_, err := client.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, agenterrors.KindUpstream, agenterrors.KindOf(err))
}

func TestStreamCompleteAssemblesDeltas(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"第一\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"段\"},\"finish_reason\":\"stop\"}],")
		fmt.Fprint(w, "\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":3,\"prompt_cache_hit_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	resp, err := client.StreamComplete(context.Background(), Request{}, StreamCallbacks{
		OnContentDelta: func(d ContentDelta) {
			if !d.Final {
				deltas = append(deltas, d.Delta)
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"第一", "段"}, deltas)
	assert.Equal(t, "第一段", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 5, resp.Usage.CachedTokens)
}

func TestStreamCompleteSkipsUndecodableChunks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	resp, err := client.StreamComplete(context.Background(), Request{}, StreamCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestMockClientStreamsRunes(t *testing.T) {
	mock := NewMockClient("你好世界")
	mock.ChunkSize = 1

	var deltas []string
	_, err := mock.StreamComplete(context.Background(), Request{}, StreamCallbacks{
		OnContentDelta: func(d ContentDelta) {
			if !d.Final {
				deltas = append(deltas, d.Delta)
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"你", "好", "世", "界"}, deltas)
}
