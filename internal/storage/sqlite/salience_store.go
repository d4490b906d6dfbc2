package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// SalienceStore implements storage.SalienceStore on SQLite. The base score
// is only rewritten through ApplyRetrievalBoost, which also records the
// retrieval count so the boost curve's diminishing returns hold across
// process restarts.
type SalienceStore struct {
	db *sql.DB
}

// NewSalienceStore creates a salience store over an opened database.
func NewSalienceStore(store *Store) *SalienceStore {
	return &SalienceStore{db: store.DB()}
}

// PutSignals stores or replaces a memory's salience signals.
func (s *SalienceStore) PutSignals(ctx context.Context, signals *types.MemorySignals) error {
	if signals == nil {
		return storage.ErrInvalidInput
	}
	if signals.MemoryID == "" || signals.UserID == "" {
		return fmt.Errorf("%w: memory and user IDs are required", storage.ErrInvalidInput)
	}

	people, err := marshalList(signals.People)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal people: %w", err)
	}
	topics, err := marshalList(signals.Topics)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal topics: %w", err)
	}

	commitments := ""
	if len(signals.Commitments) > 0 {
		data, err := json.Marshal(signals.Commitments)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal commitments: %w", err)
		}
		commitments = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_salience
			(memory_id, user_id, base_salience, captured_at, retrieval_count,
			 people, topics, commitments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			base_salience = excluded.base_salience,
			people = excluded.people,
			topics = excluded.topics,
			commitments = excluded.commitments`,
		signals.MemoryID, signals.UserID, signals.BaseSalience,
		signals.CapturedAt, signals.RetrievalCount, people, topics, commitments)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store salience signals: %w", err)
	}
	return nil
}

// GetSignals returns a memory's salience signals, or ErrNotFound.
func (s *SalienceStore) GetSignals(ctx context.Context, memoryID string) (*types.MemorySignals, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT memory_id, user_id, base_salience, captured_at, retrieval_count,
		       people, topics, commitments
		FROM memory_salience WHERE memory_id = ?`,
		memoryID)

	signals, err := scanSignals(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read salience signals: %w", err)
	}
	return signals, nil
}

// ListByUser returns all salience signals for a user.
func (s *SalienceStore) ListByUser(ctx context.Context, userID string) ([]types.MemorySignals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, user_id, base_salience, captured_at, retrieval_count,
		       people, topics, commitments
		FROM memory_salience WHERE user_id = ?
		ORDER BY captured_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list salience signals: %w", err)
	}
	defer rows.Close()

	var result []types.MemorySignals
	for rows.Next() {
		signals, err := scanSignals(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan salience signals: %w", err)
		}
		result = append(result, *signals)
	}
	return result, rows.Err()
}

// ApplyRetrievalBoost atomically increments the retrieval count and rewrites
// the base salience to the boosted value.
func (s *SalienceStore) ApplyRetrievalBoost(ctx context.Context, memoryID string, boosted float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_salience
		SET base_salience = ?, retrieval_count = retrieval_count + 1
		WHERE memory_id = ?`,
		boosted, memoryID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to apply retrieval boost: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LogRetrieval appends a retrieval event for telemetry.
func (s *SalienceStore) LogRetrieval(ctx context.Context, userID, memoryID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retrieval_log (user_id, memory_id, retrieved_at)
		VALUES (?, ?, ?)`,
		userID, memoryID, at)
	if err != nil {
		return fmt.Errorf("sqlite: failed to log retrieval: %w", err)
	}
	return nil
}

func scanSignals(row rowScanner) (*types.MemorySignals, error) {
	var (
		signals                     types.MemorySignals
		people, topics, commitments sql.NullString
	)
	err := row.Scan(
		&signals.MemoryID, &signals.UserID, &signals.BaseSalience,
		&signals.CapturedAt, &signals.RetrievalCount,
		&people, &topics, &commitments)
	if err != nil {
		return nil, err
	}

	if signals.People, err = unmarshalList(people); err != nil {
		return nil, err
	}
	if signals.Topics, err = unmarshalList(topics); err != nil {
		return nil, err
	}
	if commitments.Valid && commitments.String != "" {
		if err := json.Unmarshal([]byte(commitments.String), &signals.Commitments); err != nil {
			return nil, err
		}
	}
	return &signals, nil
}
