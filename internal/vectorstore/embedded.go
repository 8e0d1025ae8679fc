package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// embeddedStore is the zero-config local Vector Store variant: vectors and
// metadata persisted to a single SQLite file under EmbeddedPath, with
// search done client-side (cosine similarity and filter match scanned in
// Go rather than pushed to the database).
type embeddedStore struct {
	db       *sql.DB
	embedder *embedder
	logger   *slog.Logger
}

func newEmbeddedStore(dir string, emb *embedder, logger *slog.Logger) (*embeddedStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create vector store directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "vectors.db"))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create vectors table: %w", err)
	}

	return &embeddedStore{db: db, embedder: emb, logger: logger}, nil
}

func (s *embeddedStore) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

func (s *embeddedStore) Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]any) error {
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	merged := normalizeMetadata(metadata)
	merged["text"] = text
	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vectors (id, embedding, metadata) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata`,
		id, string(vecJSON), string(metaJSON),
	)
	return err
}

func (s *embeddedStore) Search(ctx context.Context, vec []float32, topK int, filter map[string]any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding, metadata FROM vectors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Entry
	for rows.Next() {
		var id, embJSON, metaJSON string
		if err := rows.Scan(&id, &embJSON, &metaJSON); err != nil {
			return nil, err
		}
		var storedVec []float32
		if err := json.Unmarshal([]byte(embJSON), &storedVec); err != nil {
			continue
		}
		meta := map[string]any{}
		_ = json.Unmarshal([]byte(metaJSON), &meta)

		if !matchesFilter(meta, filter) {
			continue
		}
		score := cosineSimilarity(vec, storedVec)
		if score < 0 {
			score = 0
		}
		candidates = append(candidates, Entry{ID: id, Score: score, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func (s *embeddedStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *embeddedStore) Stats(ctx context.Context) (Stats, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&count); err != nil {
		return Stats{}, err
	}
	return Stats{Backend: "embedded", TotalVectors: count}, nil
}

func (s *embeddedStore) Close() error {
	return s.db.Close()
}

// normalizeMetadata serializes nested values to strings, leaving scalars
// untouched. It does not set metadata["text"]; each Upsert does that itself
// after normalizing.
func normalizeMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch v.(type) {
		case string, bool, int, int64, float32, float64, nil:
			out[k] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				out[k] = fmt.Sprintf("%v", v)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
