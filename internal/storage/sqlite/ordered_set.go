package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/focalhq/focal/internal/storage"
)

// OrderedSetStore implements storage.OrderedSetStore on SQLite. Sets expire
// as a whole: an expired set reads as empty and is lazily deleted on the next
// operation that touches its key.
type OrderedSetStore struct {
	db *sql.DB
}

// NewOrderedSetStore creates an ordered-set store over an opened database.
func NewOrderedSetStore(store *Store) *OrderedSetStore {
	return &OrderedSetStore{db: store.DB()}
}

// reapIfExpired deletes the set's members and expiry row when its TTL has
// lapsed, so subsequent reads see an empty set.
func (s *OrderedSetStore) reapIfExpired(ctx context.Context, key string) error {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT expires_at FROM ordered_set_expiry WHERE set_key = ?", key,
	).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if time.Now().Before(expiresAt) {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM ordered_set_members WHERE set_key = ?", key); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"DELETE FROM ordered_set_expiry WHERE set_key = ?", key)
	return err
}

// Add inserts or repositions a member with the given score.
func (s *OrderedSetStore) Add(ctx context.Context, key string, score float64, member string) error {
	if key == "" || member == "" {
		return fmt.Errorf("%w: key and member are required", storage.ErrInvalidInput)
	}
	if err := s.reapIfExpired(ctx, key); err != nil {
		return fmt.Errorf("sqlite: ordered set reap failed: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ordered_set_members (set_key, member, score, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(set_key, member) DO UPDATE SET
			score = excluded.score,
			updated_at = excluded.updated_at`,
		key, member, score, time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: failed to add ordered set member: %w", err)
	}
	return nil
}

// Remove removes a member. Absent members are not an error.
func (s *OrderedSetStore) Remove(ctx context.Context, key, member string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM ordered_set_members WHERE set_key = ? AND member = ?",
		key, member)
	if err != nil {
		return fmt.Errorf("sqlite: failed to remove ordered set member: %w", err)
	}
	return nil
}

// RemoveRangeByScore removes members with min <= score <= max.
func (s *OrderedSetStore) RemoveRangeByScore(ctx context.Context, key string, min, max float64) (int, error) {
	if err := s.reapIfExpired(ctx, key); err != nil {
		return 0, fmt.Errorf("sqlite: ordered set reap failed: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM ordered_set_members WHERE set_key = ? AND score >= ? AND score <= ?",
		key, min, max)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to remove score range: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// RangeDescending returns members ordered by score descending from rank start
// to rank stop inclusive. stop < 0 means "to the end".
func (s *OrderedSetStore) RangeDescending(ctx context.Context, key string, start, stop int) ([]string, error) {
	scored, err := s.RangeDescendingWithScores(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	members := make([]string, len(scored))
	for i, sm := range scored {
		members[i] = sm.Member
	}
	return members, nil
}

// RangeDescendingWithScores is RangeDescending with scores attached.
func (s *OrderedSetStore) RangeDescendingWithScores(ctx context.Context, key string, start, stop int) ([]storage.ScoredMember, error) {
	if err := s.reapIfExpired(ctx, key); err != nil {
		return nil, fmt.Errorf("sqlite: ordered set reap failed: %w", err)
	}
	if start < 0 {
		start = 0
	}

	limit := -1 // SQLite: negative LIMIT means unbounded
	if stop >= 0 {
		if stop < start {
			return []storage.ScoredMember{}, nil
		}
		limit = stop - start + 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT member, score, updated_at FROM ordered_set_members
		WHERE set_key = ?
		ORDER BY score DESC, member ASC
		LIMIT ? OFFSET ?`,
		key, limit, start)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to range ordered set: %w", err)
	}
	defer rows.Close()

	var result []storage.ScoredMember
	for rows.Next() {
		var sm storage.ScoredMember
		if err := rows.Scan(&sm.Member, &sm.Score, &sm.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, sm)
	}
	return result, rows.Err()
}

// Cardinality returns the number of members in the set.
func (s *OrderedSetStore) Cardinality(ctx context.Context, key string) (int, error) {
	if err := s.reapIfExpired(ctx, key); err != nil {
		return 0, fmt.Errorf("sqlite: ordered set reap failed: %w", err)
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ordered_set_members WHERE set_key = ?", key,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count ordered set: %w", err)
	}
	return n, nil
}

// Score returns a member's score; the bool is false when absent.
func (s *OrderedSetStore) Score(ctx context.Context, key, member string) (float64, bool, error) {
	if err := s.reapIfExpired(ctx, key); err != nil {
		return 0, false, fmt.Errorf("sqlite: ordered set reap failed: %w", err)
	}

	var score float64
	err := s.db.QueryRowContext(ctx,
		"SELECT score FROM ordered_set_members WHERE set_key = ? AND member = ?",
		key, member,
	).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: failed to read member score: %w", err)
	}
	return score, true, nil
}

// CountInRange counts members with min <= score <= max.
func (s *OrderedSetStore) CountInRange(ctx context.Context, key string, min, max float64) (int, error) {
	if err := s.reapIfExpired(ctx, key); err != nil {
		return 0, fmt.Errorf("sqlite: ordered set reap failed: %w", err)
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ordered_set_members WHERE set_key = ? AND score >= ? AND score <= ?",
		key, min, max,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count score range: %w", err)
	}
	return n, nil
}

// Expire sets the whole set's TTL from now.
func (s *OrderedSetStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ordered_set_expiry (set_key, expires_at)
		VALUES (?, ?)
		ON CONFLICT(set_key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("sqlite: failed to set expiry: %w", err)
	}
	return nil
}

// Delete removes the set and its expiry.
func (s *OrderedSetStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM ordered_set_members WHERE set_key = ?", key); err != nil {
		return fmt.Errorf("sqlite: failed to delete ordered set: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM ordered_set_expiry WHERE set_key = ?", key); err != nil {
		return fmt.Errorf("sqlite: failed to delete set expiry: %w", err)
	}
	return nil
}

// Keys lists all live (non-expired) set keys.
func (s *OrderedSetStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.set_key FROM ordered_set_members m
		LEFT JOIN ordered_set_expiry e ON e.set_key = m.set_key
		WHERE e.expires_at IS NULL OR e.expires_at > ?
		ORDER BY m.set_key`,
		time.Now())
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list set keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// PurgeExpired removes all sets whose TTL has lapsed.
func (s *OrderedSetStore) PurgeExpired(ctx context.Context) (int, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM ordered_set_members WHERE set_key IN (
			SELECT set_key FROM ordered_set_expiry WHERE expires_at <= ?
		)`, now)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge expired sets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM ordered_set_expiry WHERE expires_at <= ?", now); err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge expiry rows: %w", err)
	}
	return int(n), nil
}
