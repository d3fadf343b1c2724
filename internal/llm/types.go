package llm

import "context"

// Message is one entry of an ordered chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage tracks token consumption reported by the provider. CachedTokens is
// the prompt-cache hit count from prompt_tokens_details when present.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CachedTokens     int `json:"cached_tokens"`
}

// Request contains the parameters for one completion call.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response is the aggregated completion result.
type Response struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

// ContentDelta is one streamed content fragment. Final marks the end of the
// stream; its Delta is always empty.
type ContentDelta struct {
	Delta string
	Final bool
}

// StreamCallbacks receives incremental output during StreamComplete.
type StreamCallbacks struct {
	OnContentDelta func(ContentDelta)
}

// UsageCallback observes token usage per completed call.
type UsageCallback func(usage Usage, model string)

// Client is the single place the real LLM endpoint is contacted. Everything
// else in the agent depends on this contract, which keeps a deterministic
// mock possible in tests.
type Client interface {
	// Complete sends messages and returns the full assistant content.
	Complete(ctx context.Context, req Request) (*Response, error)

	// StreamComplete yields content deltas as they arrive and returns the
	// aggregated response once the stream ends.
	StreamComplete(ctx context.Context, req Request, callbacks StreamCallbacks) (*Response, error)

	// SetUsageCallback registers an observer invoked after every completed
	// call with the usage the provider reported.
	SetUsageCallback(callback UsageCallback)

	// Model returns the configured model identifier.
	Model() string
}

// Config holds the provider connection settings.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    int // seconds, 0 means default
	Headers    map[string]string
	MaxRetries int
}
