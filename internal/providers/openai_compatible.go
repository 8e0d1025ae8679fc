package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// openAICompatibleEngine implements Engine against any REST API that speaks
// the OpenAI chat/completions wire format: OpenAI itself, Groq, OpenRouter,
// and Mistral (whose native API is OpenAI-shaped). One struct serves all
// four per SPEC_FULL §4.7, grounded on vanducng-goclaw's OpenAIProvider,
// which the teacher already reused across "OpenAI, Groq, OpenRouter,
// DeepSeek, VLLM, etc."
type openAICompatibleEngine struct {
	name         string
	apiKey       string
	apiBase      string
	modelsPath   string
	model        string
	client       *http.Client
	logger       *slog.Logger
	extraHeaders map[string]string
}

func newOpenAICompatibleEngine(name, apiKey, apiBase, model string, extraHeaders map[string]string, logger *slog.Logger) *openAICompatibleEngine {
	apiBase = strings.TrimRight(apiBase, "/")
	return &openAICompatibleEngine{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		modelsPath:   "/models",
		model:        model,
		client:       &http.Client{Timeout: 120 * time.Second},
		logger:       logger,
		extraHeaders: extraHeaders,
	}
}

func (e *openAICompatibleEngine) Name() string { return e.name }

func (e *openAICompatibleEngine) FormatMessages(prompt string, history []Message) []Message {
	return formatMessages(history, prompt)
}

func (e *openAICompatibleEngine) Generate(ctx context.Context, prompt string, history []Message) string {
	msgs := e.FormatMessages(prompt, history)
	body := e.buildBody(msgs, false)

	resp, err := retryDo(ctx, func() (openAIChatResponse, error) {
		respBody, err := e.doRequest(ctx, "/chat/completions", body)
		if err != nil {
			return openAIChatResponse{}, err
		}
		defer respBody.Close()
		var out openAIChatResponse
		if err := json.NewDecoder(respBody).Decode(&out); err != nil {
			return openAIChatResponse{}, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return errString(e.name, err)
	}
	return resp.text()
}

func (e *openAICompatibleEngine) Stream(ctx context.Context, prompt string, history []Message, onChunk func(string)) {
	msgs := e.FormatMessages(prompt, history)
	body := e.buildBody(msgs, true)

	respBody, err := retryDo(ctx, func() (io.ReadCloser, error) {
		return e.doRequest(ctx, "/chat/completions", body)
	})
	if err != nil {
		onChunk(errString(e.name, err))
		return
	}
	defer respBody.Close()

	scanner := bufio.NewScanner(respBody)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk openAIStreamChunk
		if json.Unmarshal([]byte(data), &chunk) != nil || len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			onChunk(delta)
		}
	}
}

func (e *openAICompatibleEngine) IsAvailable(ctx context.Context) bool {
	if e.apiKey == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBase+e.modelsPath, nil)
	if err != nil {
		return false
	}
	e.applyHeaders(req)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("availability probe failed", "engine", e.name, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *openAICompatibleEngine) buildBody(msgs []Message, stream bool) map[string]interface{} {
	wire := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	return map[string]interface{}{
		"model":    e.model,
		"messages": wire,
		"stream":   stream,
	}
}

func (e *openAICompatibleEngine) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimPrefix(e.apiKey, "Bearer "))
	for k, v := range e.extraHeaders {
		req.Header.Set(k, v)
	}
}

func (e *openAICompatibleEngine) doRequest(ctx context.Context, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	e.applyHeaders(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", e.name, string(respBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (r openAIChatResponse) text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}
