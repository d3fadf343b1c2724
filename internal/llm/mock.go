package llm

import (
	"context"
	"sync"
)

// MockClient is a deterministic, scripted Client for tests. Responses are
// either served from a FIFO queue or computed per request by Handler.
// Streaming replays the response ChunkSize runes at a time so tests can
// exercise partial-JSON handling.
type MockClient struct {
	mu        sync.Mutex
	queue     []string
	Handler   func(req Request) string
	ChunkSize int
	ModelName string
	UsagePer  Usage // reported on every call
	Requests  []Request

	usageCallback UsageCallback
}

// NewMockClient returns a mock that replays the given responses in order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{queue: responses, ChunkSize: 1, ModelName: "mock-model"}
}

// SetUsageCallback mirrors the real client's usage reporting hook.
func (m *MockClient) SetUsageCallback(callback UsageCallback) {
	m.usageCallback = callback
}

func (m *MockClient) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

func (m *MockClient) next(req Request) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Handler != nil {
		return m.Handler(req)
	}
	if len(m.queue) == 0 {
		return ""
	}
	resp := m.queue[0]
	m.queue = m.queue[1:]
	return resp
}

func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := m.next(req)
	resp := &Response{Content: content, StopReason: "stop", Usage: m.UsagePer}
	if m.usageCallback != nil {
		m.usageCallback(resp.Usage, m.Model())
	}
	return resp, nil
}

func (m *MockClient) StreamComplete(ctx context.Context, req Request, callbacks StreamCallbacks) (*Response, error) {
	content := m.next(req)
	size := m.ChunkSize
	if size <= 0 {
		size = 1
	}
	// Chunk by runes: real providers never split a UTF-8 sequence across
	// deltas.
	runes := []rune(content)
	for i := 0; i < len(runes); i += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		if callbacks.OnContentDelta != nil {
			callbacks.OnContentDelta(ContentDelta{Delta: string(runes[i:end])})
		}
	}
	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ContentDelta{Final: true})
	}
	resp := &Response{Content: content, StopReason: "stop", Usage: m.UsagePer}
	if m.usageCallback != nil {
		m.usageCallback(resp.Usage, m.Model())
	}
	return resp, nil
}
