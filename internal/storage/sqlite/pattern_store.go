package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// PatternStore implements storage.PatternStore on SQLite.
type PatternStore struct {
	db *sql.DB
}

// NewPatternStore creates a pattern store over an opened database.
func NewPatternStore(store *Store) *PatternStore {
	return &PatternStore{db: store.DB()}
}

// marshalList serialises a string slice as JSON, using the empty string for
// nil/empty slices so the column stays NULL-friendly.
func marshalList(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Upsert creates or updates a pattern by its (userID, signature) key.
func (s *PatternStore) Upsert(ctx context.Context, pattern *types.LearnedPattern) error {
	if pattern == nil {
		return storage.ErrInvalidInput
	}
	if pattern.UserID == "" || pattern.Signature == "" {
		return fmt.Errorf("%w: user ID and signature are required", storage.ErrInvalidInput)
	}

	people, err := marshalList(pattern.People)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal pattern people: %w", err)
	}
	topics, err := marshalList(pattern.Topics)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal pattern topics: %w", err)
	}
	memories, err := marshalList(pattern.Memories)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal pattern memories: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO learned_patterns
			(id, user_id, signature, occurrences, first_seen, last_seen,
			 confidence, is_formed, reward_signal, people, topics, memories)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, signature) DO UPDATE SET
			occurrences = excluded.occurrences,
			last_seen = excluded.last_seen,
			confidence = excluded.confidence,
			is_formed = excluded.is_formed,
			reward_signal = excluded.reward_signal,
			people = excluded.people,
			topics = excluded.topics,
			memories = excluded.memories`,
		pattern.ID, pattern.UserID, pattern.Signature, pattern.Occurrences,
		pattern.FirstSeen, pattern.LastSeen, pattern.Confidence,
		pattern.IsFormed, pattern.RewardSignal, people, topics, memories)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert pattern: %w", err)
	}
	return nil
}

// GetBySignature returns the pattern for a signature, or ErrNotFound.
func (s *PatternStore) GetBySignature(ctx context.Context, userID, signature string) (*types.LearnedPattern, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, signature, occurrences, first_seen, last_seen,
		       confidence, is_formed, reward_signal, people, topics, memories
		FROM learned_patterns
		WHERE user_id = ? AND signature = ?`,
		userID, signature)

	pattern, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read pattern: %w", err)
	}
	return pattern, nil
}

// ListByUser returns all patterns for a user, most recently seen first.
func (s *PatternStore) ListByUser(ctx context.Context, userID string) ([]types.LearnedPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, signature, occurrences, first_seen, last_seen,
		       confidence, is_formed, reward_signal, people, topics, memories
		FROM learned_patterns
		WHERE user_id = ?
		ORDER BY last_seen DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []types.LearnedPattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan pattern: %w", err)
		}
		patterns = append(patterns, *pattern)
	}
	return patterns, rows.Err()
}

// Count returns the number of patterns stored for a user.
func (s *PatternStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM learned_patterns WHERE user_id = ?", userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count patterns: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*types.LearnedPattern, error) {
	var (
		pattern                 types.LearnedPattern
		people, topics, memRaw  sql.NullString
	)
	err := row.Scan(
		&pattern.ID, &pattern.UserID, &pattern.Signature, &pattern.Occurrences,
		&pattern.FirstSeen, &pattern.LastSeen, &pattern.Confidence,
		&pattern.IsFormed, &pattern.RewardSignal, &people, &topics, &memRaw)
	if err != nil {
		return nil, err
	}

	if pattern.People, err = unmarshalList(people); err != nil {
		return nil, err
	}
	if pattern.Topics, err = unmarshalList(topics); err != nil {
		return nil, err
	}
	if pattern.Memories, err = unmarshalList(memRaw); err != nil {
		return nil, err
	}
	return &pattern, nil
}
