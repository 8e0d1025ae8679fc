// Package vectorstore implements the Vector Store (C5): an abstract
// embed/upsert/search/delete/stats backend with a hosted REST variant and an
// embedded local variant, selected at init from config.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/nextlevelbuilder/orionmind/internal/config"
)

// Entry is one search result: a vector's id, its cosine-similarity score in
// [0,1] (1 = identical), and its stored metadata.
type Entry struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Stats is informational backend status.
type Stats struct {
	Backend      string
	TotalVectors int
	Extra        map[string]any
}

// Store is the Vector Store's full surface. Upsert is idempotent: the same
// id replaces the prior entry, and always sets metadata["text"] = text
// regardless of what the caller passed in metadata. Delete ignores unknown
// ids.
type Store interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]any) error
	Search(ctx context.Context, vec []float32, topK int, filter map[string]any) ([]Entry, error)
	Delete(ctx context.Context, ids []string) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// New selects the hosted backend when both HostedURL and HostedKey are
// configured; otherwise it opens the embedded local backend under
// EmbeddedPath.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	mem := cfg.Memory
	emb := newEmbedder(cfg, logger)

	if mem.VectorBackend.HostedURL != "" && mem.VectorBackend.HostedKey != "" {
		logger.Info("vector store backend selected", "backend", "hosted")
		return newHostedStore(mem.VectorBackend.HostedURL, mem.VectorBackend.HostedKey, emb, logger), nil
	}

	path := mem.VectorBackend.EmbeddedPath
	if path == "" {
		path = "./chroma_data"
	}
	logger.Info("vector store backend selected", "backend", "embedded", "path", path)
	s, err := newEmbeddedStore(path, emb, logger)
	if err != nil {
		return nil, fmt.Errorf("open embedded vector store: %w", err)
	}
	return s, nil
}

// cosineSimilarity returns the cosine similarity of a and b in [-1,1];
// orthogonal or zero-length vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// matchesFilter reports whether metadata satisfies every key/value pair of
// an equality filter. A nil or empty filter always matches.
func matchesFilter(metadata map[string]any, filter map[string]any) bool {
	for k, v := range filter {
		mv, ok := metadata[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", mv) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}
