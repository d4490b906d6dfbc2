package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// WeightsStore implements storage.WeightsStore on SQLite.
type WeightsStore struct {
	db *sql.DB
}

// NewWeightsStore creates a weights store over an opened database.
func NewWeightsStore(store *Store) *WeightsStore {
	return &WeightsStore{db: store.DB()}
}

// Get returns the user's learned weight vector. The bool is false when the
// user has no stored weights.
func (s *WeightsStore) Get(ctx context.Context, userID string) (types.SalienceWeights, bool, error) {
	var w types.SalienceWeights
	err := s.db.QueryRowContext(ctx, `
		SELECT emotional, novelty, relevance, social, consequential
		FROM salience_weights WHERE user_id = ?`,
		userID,
	).Scan(&w.Emotional, &w.Novelty, &w.Relevance, &w.Social, &w.Consequential)
	if err == sql.ErrNoRows {
		return types.SalienceWeights{}, false, nil
	}
	if err != nil {
		return types.SalienceWeights{}, false, fmt.Errorf("sqlite: failed to read weights: %w", err)
	}
	return w, true, nil
}

// Put stores the user's weight vector. The vector is normalized on write so
// stored weights always sum to 1.0.
func (s *WeightsStore) Put(ctx context.Context, userID string, weights types.SalienceWeights) error {
	if userID == "" {
		return fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	w := weights.Normalize()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO salience_weights
			(user_id, emotional, novelty, relevance, social, consequential, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			emotional = excluded.emotional,
			novelty = excluded.novelty,
			relevance = excluded.relevance,
			social = excluded.social,
			consequential = excluded.consequential,
			updated_at = excluded.updated_at`,
		userID, w.Emotional, w.Novelty, w.Relevance, w.Social, w.Consequential, time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: failed to store weights: %w", err)
	}
	return nil
}
