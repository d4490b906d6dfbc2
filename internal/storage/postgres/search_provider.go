// Package postgres implements the semantic search provider on PostgreSQL
// with the pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// Ensure *SemanticIndex implements storage.SemanticSearchProvider at compile time.
var _ storage.SemanticSearchProvider = (*SemanticIndex)(nil)

// Schema creates the semantic index table. The embedding column requires the
// pgvector extension; cosine distance queries are accelerated by an ivfflat
// index once the table is non-empty.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_index (
    memory_id       TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    embedding       vector(768),
    salience        DOUBLE PRECISION NOT NULL DEFAULT 0,
    captured_at     TIMESTAMPTZ NOT NULL,
    retrieval_count INTEGER NOT NULL DEFAULT 0,
    people          TEXT[],
    topics          TEXT[],
    commitments     JSONB
);

CREATE INDEX IF NOT EXISTS idx_memory_index_user ON memory_index(user_id);
CREATE INDEX IF NOT EXISTS idx_memory_index_vec_cosine
    ON memory_index USING ivfflat (embedding vector_cosine_ops);
`

// SemanticIndex serves similarity-ordered retrieval candidates from a
// pgvector-backed index. It is a read model: rows are written by the external
// ingestion pipeline alongside the SQLite salience signals.
type SemanticIndex struct {
	db *sql.DB
}

// NewSemanticIndex opens the index over an existing PostgreSQL connection.
func NewSemanticIndex(db *sql.DB) (*SemanticIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres: database connection is required")
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("postgres: failed to create semantic index schema: %w", err)
	}
	return &SemanticIndex{db: db}, nil
}

// Open connects to PostgreSQL by DSN and prepares the index.
func Open(dsn string) (*SemanticIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open connection: %w", err)
	}
	idx, err := NewSemanticIndex(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Search returns up to limit candidates for the query embedding, most similar
// first. Similarity is 1 - cosine distance, clamped to [0, 1].
func (s *SemanticIndex) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]types.SearchCandidate, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	vec := pgvector.NewVector(embedding)

	const querySQL = `
		SELECT memory_id,
		       1 - (embedding <=> $1::vector) AS similarity,
		       salience, captured_at, retrieval_count,
		       people, topics, commitments
		FROM memory_index
		WHERE user_id = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, querySQL, vec, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: semantic search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []types.SearchCandidate
	for rows.Next() {
		var (
			c           types.SearchCandidate
			people      pq.StringArray
			topics      pq.StringArray
			commitments sql.NullString
		)
		err := rows.Scan(&c.MemoryID, &c.Similarity, &c.Salience, &c.CapturedAt,
			&c.RetrievalCount, &people, &topics, &commitments)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan candidate row: %w", err)
		}

		if c.Similarity < 0 {
			c.Similarity = 0
		}
		if c.Similarity > 1 {
			c.Similarity = 1
		}

		c.People = []string(people)
		c.Topics = []string(topics)
		if commitments.Valid && commitments.String != "" {
			if err := json.Unmarshal([]byte(commitments.String), &c.Commitments); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal commitments: %w", err)
			}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}

	return candidates, nil
}

// IndexMemory upserts a memory's row in the semantic index. Used by the
// ingestion pipeline when a salience score is persisted.
func (s *SemanticIndex) IndexMemory(ctx context.Context, signals *types.MemorySignals, embedding []float32) error {
	if signals == nil || signals.MemoryID == "" {
		return storage.ErrInvalidInput
	}

	var commitments any
	if len(signals.Commitments) > 0 {
		data, err := json.Marshal(signals.Commitments)
		if err != nil {
			return fmt.Errorf("postgres: marshal commitments: %w", err)
		}
		commitments = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_index
			(memory_id, user_id, embedding, salience, captured_at,
			 retrieval_count, people, topics, commitments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (memory_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			salience = EXCLUDED.salience,
			retrieval_count = EXCLUDED.retrieval_count,
			people = EXCLUDED.people,
			topics = EXCLUDED.topics,
			commitments = EXCLUDED.commitments`,
		signals.MemoryID, signals.UserID, pgvector.NewVector(embedding),
		signals.BaseSalience, signals.CapturedAt, signals.RetrievalCount,
		pq.Array(signals.People), pq.Array(signals.Topics), commitments)
	if err != nil {
		return fmt.Errorf("postgres: failed to index memory: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SemanticIndex) Close() error {
	return s.db.Close()
}
