// Package rag implements the RAG Ingest pipeline (C7): chunking, embedding,
// and retrieval of documents for injection into LLM prompts, grounded on
// the chunking/deterministic-id design of original_source/core/rag.py.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/orionmind/internal/vectorstore"
)

// maxChunksPerDoc bounds delete_document's deterministic id construction.
// Over-generating ids is safe since the Vector Store ignores unknown ids.
const maxChunksPerDoc = 500

// Result is one entry of a query/build_context lookup.
type Result struct {
	Text     string
	Score    float64
	Metadata map[string]any
}

// Pipeline implements the ingest/query surface over a Vector Store.
type Pipeline struct {
	vec    vectorstore.Store
	logger *slog.Logger
}

func New(vec vectorstore.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{vec: vec, logger: logger}
}

// Ingest splits text into chunks and upserts each with a deterministic id
// {parentID}_chunk_{i}. Empty or whitespace-only text performs no writes
// and returns "".
func (p *Pipeline) Ingest(ctx context.Context, text, source, userID string, metadata map[string]any) (string, error) {
	if strings.TrimSpace(text) == "" {
		p.logger.Warn("empty text provided to ingest, skipping")
		return "", nil
	}

	chunks := splitText(text)
	if len(chunks) == 0 {
		p.logger.Warn("no chunks produced from text")
		return "", nil
	}

	parentID := uuid.NewString()
	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	meta["source"] = source
	meta["user_id"] = userID
	meta["parent_doc_id"] = parentID
	meta["total_chunks"] = len(chunks)

	for i, chunk := range chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", parentID, i)
		chunkMeta := map[string]any{}
		for k, v := range meta {
			chunkMeta[k] = v
		}
		chunkMeta["chunk_index"] = i

		vec, err := p.vec.Embed(ctx, chunk)
		if err != nil {
			return "", fmt.Errorf("embed chunk %d: %w", i, err)
		}
		if err := p.vec.Upsert(ctx, chunkID, vec, chunk, chunkMeta); err != nil {
			return "", fmt.Errorf("upsert chunk %d: %w", i, err)
		}
		p.logger.Debug("ingested chunk", "index", i, "total", len(chunks), "chunk_id", chunkID)
	}

	p.logger.Info("ingested document", "parent_id", parentID, "chunks", len(chunks), "source", source)
	return parentID, nil
}

// IngestFile loads path, dispatches by extension, and ingests its content.
// Returns a single parent id for the file, or none when its content is empty
// or whitespace-only.
func (p *Pipeline) IngestFile(ctx context.Context, path, userID string) ([]string, error) {
	expanded := path
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		p.logger.Error("file not found", "path", absPath, "error", err)
		return nil, fmt.Errorf("read file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	switch ext {
	case ".pdf", ".docx":
		// No PDF/DOCX extraction library is wired; treat the raw bytes as
		// best-effort text rather than fabricating a document parser.
		p.logger.Warn("no structured extractor for file type, ingesting raw bytes as text", "ext", ext)
	case ".txt", ".md":
	default:
		p.logger.Warn("unsupported file type, treating as plain text", "ext", ext)
	}

	parentID, err := p.Ingest(ctx, string(data), absPath, userID, map[string]any{
		"file_path": absPath,
		"file_type": ext,
	})
	if err != nil {
		return nil, err
	}
	if parentID == "" {
		return nil, nil
	}
	return []string{parentID}, nil
}

// Query embeds question and searches the Vector Store filtered to userID.
func (p *Pipeline) Query(ctx context.Context, question, userID string, topK int) ([]Result, error) {
	vec, err := p.vec.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	entries, err := p.vec.Search(ctx, vec, topK, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]Result, 0, len(entries))
	for _, e := range entries {
		text, _ := e.Metadata["text"].(string)
		meta := map[string]any{}
		for k, v := range e.Metadata {
			if k != "text" {
				meta[k] = v
			}
		}
		out = append(out, Result{Text: text, Score: e.Score, Metadata: meta})
	}
	return out, nil
}

// BuildContext queries with top_k=5 and formats the results for injection
// into an LLM prompt, returning "" when nothing is found.
func (p *Pipeline) BuildContext(ctx context.Context, question, userID string) (string, error) {
	results, err := p.Query(ctx, question, userID, 5)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(results))
	for i, r := range results {
		source := "unknown"
		if s, ok := r.Metadata["source"].(string); ok && s != "" {
			source = s
		}
		label := source
		if idx, ok := r.Metadata["chunk_index"]; ok {
			label = fmt.Sprintf("%s (chunk %v)", source, idx)
		}
		parts = append(parts, fmt.Sprintf("[%d] Source: %s (relevance: %.2f)\n%s", i+1, label, r.Score, r.Text))
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}

// DeleteDocument builds the deterministic chunk id list for parentID and
// issues a single batch delete; the Vector Store ignores unknown ids, so
// over-generating up to maxChunksPerDoc ids is safe regardless of the
// document's actual chunk count.
func (p *Pipeline) DeleteDocument(ctx context.Context, parentID string) error {
	if parentID == "" {
		p.logger.Warn("delete_document called with empty parent id, skipping")
		return nil
	}

	ids := make([]string, maxChunksPerDoc)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s_chunk_%d", parentID, i)
	}

	if err := p.vec.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete document %s: %w", parentID, err)
	}
	p.logger.Info("deleted document", "parent_id", parentID, "attempted_ids", len(ids))
	return nil
}
