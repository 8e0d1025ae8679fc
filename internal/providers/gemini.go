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

const (
	geminiDefaultBase  = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-3.1-pro"
)

// GeminiEngine speaks Gemini's generateContent/streamGenerateContent REST
// API. Roles map user->user, assistant->model; system messages are hoisted
// to system_instruction per SPEC_FULL §4.7.
type GeminiEngine struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func NewGeminiEngine(apiKey, apiBase, model string, logger *slog.Logger) *GeminiEngine {
	if apiBase == "" {
		apiBase = geminiDefaultBase
	}
	if model == "" {
		model = geminiDefaultModel
	}
	return &GeminiEngine{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
}

func (e *GeminiEngine) Name() string { return "gemini" }

func (e *GeminiEngine) FormatMessages(prompt string, history []Message) []Message {
	return formatMessages(history, prompt)
}

func (e *GeminiEngine) Generate(ctx context.Context, prompt string, history []Message) string {
	msgs := e.FormatMessages(prompt, history)
	body := e.buildBody(msgs)

	resp, err := retryDo(ctx, func() (geminiResponse, error) {
		respBody, err := e.doRequest(ctx, "generateContent", body)
		if err != nil {
			return geminiResponse{}, err
		}
		defer respBody.Close()
		var out geminiResponse
		if err := json.NewDecoder(respBody).Decode(&out); err != nil {
			return geminiResponse{}, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return errString("gemini", err)
	}
	return resp.text()
}

func (e *GeminiEngine) Stream(ctx context.Context, prompt string, history []Message, onChunk func(string)) {
	msgs := e.FormatMessages(prompt, history)
	body := e.buildBody(msgs)

	respBody, err := retryDo(ctx, func() (io.ReadCloser, error) {
		return e.doRequest(ctx, "streamGenerateContent?alt=sse", body)
	})
	if err != nil {
		onChunk(errString("gemini", err))
		return
	}
	defer respBody.Close()

	scanner := bufio.NewScanner(respBody)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk geminiResponse
		if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk) != nil {
			continue
		}
		if text := chunk.text(); text != "" {
			onChunk(text)
		}
	}
}

func (e *GeminiEngine) IsAvailable(ctx context.Context) bool {
	if e.apiKey == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/models?key=%s", e.baseURL, e.apiKey), nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("gemini availability probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *GeminiEngine) buildBody(msgs []Message) map[string]interface{} {
	var contents []map[string]interface{}
	var systemText strings.Builder

	for _, m := range msgs {
		if m.Role == RoleSystem {
			if systemText.Len() > 0 {
				systemText.WriteString("\n")
			}
			systemText.WriteString(m.Content)
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": []map[string]string{{"text": m.Content}},
		})
	}

	body := map[string]interface{}{"contents": contents}
	if systemText.Len() > 0 {
		body["system_instruction"] = map[string]interface{}{
			"parts": []map[string]string{{"text": systemText.String()}},
		}
	}
	return body
}

func (e *GeminiEngine) doRequest(ctx context.Context, action string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", e.baseURL, e.model, action)
	sep := "&"
	if !strings.Contains(action, "?") {
		sep = "?"
	}
	url += sep + "key=" + e.apiKey

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("gemini: %s", string(respBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r geminiResponse) text() string {
	var sb strings.Builder
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
