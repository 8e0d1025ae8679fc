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

const localDefaultBase = "http://localhost:11434"

// LocalEngine talks to an Ollama-like local HTTP backend: /api/chat for
// generation (JSON-lines streaming, not SSE) and /api/tags for the
// availability probe. No auth is required.
type LocalEngine struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func NewLocalEngine(apiBase, model string, logger *slog.Logger) *LocalEngine {
	if apiBase == "" {
		apiBase = localDefaultBase
	}
	return &LocalEngine{
		baseURL: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  &http.Client{Timeout: 180 * time.Second},
		logger:  logger,
	}
}

func (e *LocalEngine) Name() string { return "local" }

func (e *LocalEngine) FormatMessages(prompt string, history []Message) []Message {
	return formatMessages(history, prompt)
}

func (e *LocalEngine) Generate(ctx context.Context, prompt string, history []Message) string {
	msgs := e.FormatMessages(prompt, history)
	var sb strings.Builder
	var failed string
	e.chat(ctx, msgs, false, func(chunk string, isError bool) {
		if isError {
			failed = chunk
			return
		}
		sb.WriteString(chunk)
	})
	if failed != "" {
		return failed
	}
	return sb.String()
}

func (e *LocalEngine) Stream(ctx context.Context, prompt string, history []Message, onChunk func(string)) {
	msgs := e.FormatMessages(prompt, history)
	e.chat(ctx, msgs, true, func(chunk string, isError bool) {
		onChunk(chunk)
	})
}

func (e *LocalEngine) chat(ctx context.Context, msgs []Message, stream bool, emit func(chunk string, isError bool)) {
	wire := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	body := map[string]interface{}{
		"model":    e.model,
		"messages": wire,
		"stream":   stream,
	}
	data, err := json.Marshal(body)
	if err != nil {
		emit(errString("local", err), true)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		emit(errString("local", err), true)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		emit(errString("local", fmt.Errorf("request failed: %w", err)), true)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		emit(errString("local", fmt.Errorf("status %d: %s", resp.StatusCode, respBody)), true)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk localChatChunk
		if json.Unmarshal(line, &chunk) != nil {
			continue
		}
		if chunk.Message.Content != "" {
			emit(chunk.Message.Content, false)
		}
		if chunk.Done {
			return
		}
	}
}

func (e *LocalEngine) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("local engine unreachable", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type localChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}
