package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	agenterrors "deskmate/internal/errors"
	"deskmate/internal/logging"
)

// OpenAI-compatible chat completions client.
type openaiClient struct {
	model         string
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	logger        logging.Logger
	headers       map[string]string
	usageCallback UsageCallback
}

// NewOpenAIClient constructs a client that speaks the OpenAI-compatible
// chat completions API. It fails fast when api key, model or base url is
// missing so every later call site can assume a usable endpoint.
func NewOpenAIClient(config Config) (Client, error) {
	if config.APIKey == "" || config.Model == "" || config.BaseURL == "" {
		return nil, agenterrors.Newf(agenterrors.KindConfig,
			"llm config incomplete: api_key/model/base_url are required")
	}

	timeout := 120 * time.Second
	if config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}

	return &openaiClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(strings.TrimSpace(config.BaseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger("llm.openai"),
		headers:    config.Headers,
	}, nil
}

// SetUsageCallback registers an observer invoked after every completed call.
func (c *openaiClient) SetUsageCallback(callback UsageCallback) {
	c.usageCallback = callback
}

func (c *openaiClient) Model() string {
	return c.model
}

func (c *openaiClient) endpoint() string {
	if strings.HasSuffix(c.baseURL, "/chat/completions") {
		return c.baseURL
	}
	return c.baseURL + "/chat/completions"
}

func (c *openaiClient) doPost(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, agenterrors.New(agenterrors.KindTransport, err, "")
	}
	return resp, nil
}

// wireUsage matches the provider usage object, including the optional
// prompt cache detail block.
type wireUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	PromptCacheHitTokens int `json:"prompt_cache_hit_tokens"`
}

func (u *wireUsage) toUsage() Usage {
	usage := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.PromptTokensDetails != nil {
		usage.CachedTokens = u.PromptTokensDetails.CachedTokens
	} else if u.PromptCacheHitTokens > 0 {
		usage.CachedTokens = u.PromptCacheHitTokens
	}
	return usage
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": req.Messages,
		"stream":   false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("POST %s model=%s messages=%d", c.endpoint(), c.model, len(req.Messages))

	resp, err := c.doPost(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, agenterrors.New(agenterrors.KindTransport, err, "")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("upstream status %d: %s", resp.StatusCode, truncateForLog(respBody))
		return nil, agenterrors.Newf(agenterrors.KindUpstream,
			"llm upstream returned %d: %s", resp.StatusCode, truncateForLog(respBody))
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage wireUsage `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, agenterrors.New(agenterrors.KindUpstream, err, "llm response was not valid JSON")
	}
	if len(oaiResp.Choices) == 0 {
		return nil, agenterrors.Newf(agenterrors.KindUpstream, "llm returned no choices")
	}

	result := &Response{
		Content:    oaiResp.Choices[0].Message.Content,
		StopReason: oaiResp.Choices[0].FinishReason,
		Usage:      oaiResp.Usage.toUsage(),
	}
	if c.usageCallback != nil {
		c.usageCallback(result.Usage, c.model)
	}
	c.logger.Debug("complete done: stop=%s content=%d chars usage=%d+%d",
		result.StopReason, len(result.Content), result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}

func (c *openaiClient) StreamComplete(ctx context.Context, req Request, callbacks StreamCallbacks) (*Response, error) {
	body, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": req.Messages,
		"stream":   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("POST %s model=%s messages=%d (stream)", c.endpoint(), c.model, len(req.Messages))

	resp, err := c.doPost(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Warn("upstream status %d: %s", resp.StatusCode, truncateForLog(respBody))
		return nil, agenterrors.Newf(agenterrors.KindUpstream,
			"llm upstream returned %d: %s", resp.StatusCode, truncateForLog(respBody))
	}

	type streamChunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Usage *wireUsage `json:"usage"`
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	usage := Usage{}
	finishReason := ""

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, agenterrors.New(agenterrors.KindCancelled, ctx.Err(), "")
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Debug("skip undecodable stream chunk: %v", err)
			continue
		}
		// Usage may arrive on any chunk, typically the last one.
		if chunk.Usage != nil {
			usage = chunk.Usage.toUsage()
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
		if text := choice.Delta.Content; text != "" {
			contentBuilder.WriteString(text)
			if callbacks.OnContentDelta != nil {
				callbacks.OnContentDelta(ContentDelta{Delta: text})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, agenterrors.New(agenterrors.KindTransport, err, "")
	}

	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ContentDelta{Final: true})
	}

	result := &Response{
		Content:    contentBuilder.String(),
		StopReason: finishReason,
		Usage:      usage,
	}
	if c.usageCallback != nil {
		c.usageCallback(result.Usage, c.model)
	}
	c.logger.Debug("stream done: stop=%s content=%d chars usage=%d+%d",
		result.StopReason, len(result.Content), result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}

func truncateForLog(body []byte) string {
	const max = 300
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
