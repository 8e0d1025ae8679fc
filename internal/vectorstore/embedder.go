package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/orionmind/internal/config"
)

const defaultEmbeddingModel = "text-embedding-3-small"
const defaultLocalEmbeddingModel = "nomic-embed-text"

// embedder resolves text to a vector. Embedder order per SPEC_FULL §4.3:
// the hosted embedding model wins when an OpenAI-like credential is
// present, otherwise embedding falls back to the local HTTP backend.
type embedder struct {
	client *http.Client
	logger *slog.Logger

	openAIKey  string
	openAIBase string
	model      string

	localBase  string
	localModel string
}

func newEmbedder(cfg *config.Config, logger *slog.Logger) *embedder {
	model := cfg.Memory.EmbeddingModel
	if model == "" {
		model = defaultEmbeddingModel
	}
	localModel := cfg.Providers.Local.Model
	if localModel == "" {
		localModel = defaultLocalEmbeddingModel
	}
	openAIBase := cfg.Providers.OpenAI.APIBase
	if openAIBase == "" {
		openAIBase = "https://api.openai.com/v1"
	}
	localBase := cfg.Providers.Local.BaseURL
	if localBase == "" {
		localBase = "http://localhost:11434"
	}

	return &embedder{
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		openAIKey:  cfg.Providers.OpenAI.APIKey,
		openAIBase: strings.TrimRight(openAIBase, "/"),
		model:      model,
		localBase:  strings.TrimRight(localBase, "/"),
		localModel: localModel,
	}
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.openAIKey != "" {
		vec, err := e.embedOpenAI(ctx, text)
		if err == nil {
			return vec, nil
		}
		e.logger.Warn("hosted embedding failed, falling back to local", "error", err)
	}
	return e.embedLocal(ctx, text)
}

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *embedder) embedOpenAI(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.openAIBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.openAIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai embeddings: status %d", resp.StatusCode)
	}

	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return parsed.Data[0].Embedding, nil
}

type localEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *embedder) embedLocal(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localEmbeddingRequest{Model: e.localModel, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.localBase+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local embeddings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local embeddings: status %d", resp.StatusCode)
	}

	var parsed localEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode local embeddings response: %w", err)
	}
	return parsed.Embedding, nil
}
