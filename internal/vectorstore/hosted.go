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
)

// hostedStore is the REST-backed Vector Store variant: a hosted pgvector (or
// compatible) service reachable at a base URL with a bearer key, matching
// SPEC_FULL §4.3's generic "hosted URL + key pair" contract.
type hostedStore struct {
	baseURL  string
	key      string
	client   *http.Client
	embedder *embedder
	logger   *slog.Logger
}

func newHostedStore(baseURL, key string, emb *embedder, logger *slog.Logger) *hostedStore {
	return &hostedStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		key:      key,
		client:   &http.Client{Timeout: 30 * time.Second},
		embedder: emb,
		logger:   logger,
	}
}

func (s *hostedStore) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

func (s *hostedStore) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("hosted vector store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hosted vector store: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type hostedUpsertRequest struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

func (s *hostedStore) Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]any) error {
	merged := normalizeMetadata(metadata)
	merged["text"] = text
	return s.do(ctx, http.MethodPut, "/vectors", hostedUpsertRequest{ID: id, Vector: vec, Metadata: merged}, nil)
}

type hostedSearchRequest struct {
	Vector []float32      `json:"vector"`
	TopK   int            `json:"top_k"`
	Filter map[string]any `json:"filter,omitempty"`
}

type hostedSearchResponse struct {
	Results []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Distance *float64       `json:"distance,omitempty"`
		Metadata map[string]any `json:"metadata"`
	} `json:"results"`
}

// Search posts a similarity query. The hosted contract may return either a
// [0,1] cosine score or a raw distance; a distance is converted via
// score = 1 / (1 + distance) so both backends expose the same [0,1] scale.
func (s *hostedStore) Search(ctx context.Context, vec []float32, topK int, filter map[string]any) ([]Entry, error) {
	var resp hostedSearchResponse
	if err := s.do(ctx, http.MethodPost, "/vectors/search", hostedSearchRequest{Vector: vec, TopK: topK, Filter: filter}, &resp); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(resp.Results))
	for _, r := range resp.Results {
		score := r.Score
		if r.Distance != nil {
			score = 1 / (1 + *r.Distance)
		}
		out = append(out, Entry{ID: r.ID, Score: score, Metadata: r.Metadata})
	}
	return out, nil
}

type hostedDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (s *hostedStore) Delete(ctx context.Context, ids []string) error {
	return s.do(ctx, http.MethodPost, "/vectors/delete", hostedDeleteRequest{IDs: ids}, nil)
}

type hostedStatsResponse struct {
	TotalVectors int            `json:"total_vectors"`
	Extra        map[string]any `json:"extra,omitempty"`
}

func (s *hostedStore) Stats(ctx context.Context) (Stats, error) {
	var resp hostedStatsResponse
	if err := s.do(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return Stats{}, err
	}
	return Stats{Backend: "hosted", TotalVectors: resp.TotalVectors, Extra: resp.Extra}, nil
}

func (s *hostedStore) Close() error {
	return nil
}
