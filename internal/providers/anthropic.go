package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicDefaultModel   = "claude-opus-4-6"
	anthropicAPIBase        = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
	anthropicProbeMaxTokens = 1
)

// AnthropicEngine speaks the Anthropic Messages API directly over net/http,
// grounded on the request-building and SSE-scanning idiom of
// vanducng-goclaw's AnthropicProvider.
type AnthropicEngine struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func NewAnthropicEngine(apiKey, apiBase, model string, logger *slog.Logger) *AnthropicEngine {
	if apiBase == "" {
		apiBase = anthropicAPIBase
	}
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicEngine{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
}

func (e *AnthropicEngine) Name() string { return "anthropic" }

func (e *AnthropicEngine) FormatMessages(prompt string, history []Message) []Message {
	return formatMessages(history, prompt)
}

func (e *AnthropicEngine) Generate(ctx context.Context, prompt string, history []Message) string {
	msgs := e.FormatMessages(prompt, history)
	resp, err := retryDo(ctx, func() (anthropicResponse, error) {
		return e.call(ctx, msgs, false)
	})
	if err != nil {
		return errString("anthropic", err)
	}
	return resp.text()
}

func (e *AnthropicEngine) Stream(ctx context.Context, prompt string, history []Message, onChunk func(string)) {
	msgs := e.FormatMessages(prompt, history)
	body := e.buildBody(msgs, true)

	respBody, err := retryDo(ctx, func() (io.ReadCloser, error) {
		return e.doRequest(ctx, body)
	})
	if err != nil {
		onChunk(errString("anthropic", err))
		return
	}
	defer respBody.Close()

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch event {
		case "content_block_delta":
			var ev struct {
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				onChunk(ev.Delta.Text)
			}
		case "error":
			var ev struct {
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				onChunk(fmt.Sprintf("[Error] anthropic: %s: %s", ev.Error.Type, ev.Error.Message))
				return
			}
		}
	}
}

// IsAvailable issues a 1-token probe call; a rate-limit response still
// counts as available since it proves the credential is valid.
func (e *AnthropicEngine) IsAvailable(ctx context.Context) bool {
	if e.apiKey == "" {
		return false
	}
	body := map[string]interface{}{
		"model":      e.model,
		"max_tokens": anthropicProbeMaxTokens,
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
	}
	respBody, err := e.doRequest(ctx, body)
	if err == nil {
		respBody.Close()
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests {
		return true
	}
	e.logger.Debug("anthropic availability probe failed", "error", err)
	return false
}

func (e *AnthropicEngine) call(ctx context.Context, msgs []Message, stream bool) (anthropicResponse, error) {
	body := e.buildBody(msgs, stream)
	respBody, err := e.doRequest(ctx, body)
	if err != nil {
		return anthropicResponse{}, err
	}
	defer respBody.Close()

	var resp anthropicResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return anthropicResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (e *AnthropicEngine) buildBody(msgs []Message, stream bool) map[string]interface{} {
	var systemText strings.Builder
	var wire []map[string]string
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if systemText.Len() > 0 {
				systemText.WriteString("\n")
			}
			systemText.WriteString(m.Content)
			continue
		}
		wire = append(wire, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	body := map[string]interface{}{
		"model":      e.model,
		"max_tokens": 4096,
		"messages":   wire,
		"stream":     stream,
	}
	if systemText.Len() > 0 {
		body["system"] = systemText.String()
	}
	return body
}

func (e *AnthropicEngine) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", e.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (r anthropicResponse) text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
