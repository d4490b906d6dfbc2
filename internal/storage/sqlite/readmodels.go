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

// RelationshipStore implements the relationship read model on SQLite.
// Snapshots are written by external maintenance and only read by the ranker.
type RelationshipStore struct {
	db *sql.DB
}

// NewRelationshipStore creates a relationship store over an opened database.
func NewRelationshipStore(store *Store) *RelationshipStore {
	return &RelationshipStore{db: store.DB()}
}

// GetSnapshot returns the snapshot for a person, or ErrNotFound.
func (s *RelationshipStore) GetSnapshot(ctx context.Context, userID, person string) (*types.RelationshipSnapshot, error) {
	var (
		snap   types.RelationshipSnapshot
		events sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, person, pattern, last_interaction, upcoming_events
		FROM relationship_snapshots
		WHERE user_id = ? AND person = ?`,
		userID, person,
	).Scan(&snap.UserID, &snap.Person, &snap.Pattern, &snap.LastInteraction, &events)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read relationship snapshot: %w", err)
	}

	if events.Valid && events.String != "" {
		if err := json.Unmarshal([]byte(events.String), &snap.UpcomingEvents); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal upcoming events: %w", err)
		}
	}
	return &snap, nil
}

// ListSnapshots returns all snapshots for a user.
func (s *RelationshipStore) ListSnapshots(ctx context.Context, userID string) ([]types.RelationshipSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, person, pattern, last_interaction, upcoming_events
		FROM relationship_snapshots
		WHERE user_id = ?
		ORDER BY last_interaction DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list relationship snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []types.RelationshipSnapshot
	for rows.Next() {
		var (
			snap   types.RelationshipSnapshot
			events sql.NullString
		)
		if err := rows.Scan(&snap.UserID, &snap.Person, &snap.Pattern, &snap.LastInteraction, &events); err != nil {
			return nil, err
		}
		if events.Valid && events.String != "" {
			if err := json.Unmarshal([]byte(events.String), &snap.UpcomingEvents); err != nil {
				return nil, fmt.Errorf("sqlite: failed to unmarshal upcoming events: %w", err)
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// PutSnapshot stores a snapshot keyed by (userID, person).
func (s *RelationshipStore) PutSnapshot(ctx context.Context, snapshot *types.RelationshipSnapshot) error {
	if snapshot == nil {
		return storage.ErrInvalidInput
	}
	if snapshot.UserID == "" || snapshot.Person == "" {
		return fmt.Errorf("%w: user ID and person are required", storage.ErrInvalidInput)
	}

	events := ""
	if len(snapshot.UpcomingEvents) > 0 {
		data, err := json.Marshal(snapshot.UpcomingEvents)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal upcoming events: %w", err)
		}
		events = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationship_snapshots
			(user_id, person, pattern, last_interaction, upcoming_events)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, person) DO UPDATE SET
			pattern = excluded.pattern,
			last_interaction = excluded.last_interaction,
			upcoming_events = excluded.upcoming_events`,
		snapshot.UserID, snapshot.Person, snapshot.Pattern,
		snapshot.LastInteraction, events)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store relationship snapshot: %w", err)
	}
	return nil
}

// TimelineStore implements the commitment read model on SQLite.
type TimelineStore struct {
	db *sql.DB
}

// NewTimelineStore creates a timeline store over an opened database.
func NewTimelineStore(store *Store) *TimelineStore {
	return &TimelineStore{db: store.DB()}
}

// OpenCommitments returns commitments due between now and now+within,
// soonest first.
func (s *TimelineStore) OpenCommitments(ctx context.Context, userID string, within time.Duration) ([]storage.TimelineCommitment, error) {
	now := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, memory_id, description, due_date
		FROM timeline_commitments
		WHERE user_id = ? AND due_date > ? AND due_date <= ?
		ORDER BY due_date ASC`,
		userID, now, now.Add(within))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list open commitments: %w", err)
	}
	defer rows.Close()

	var commitments []storage.TimelineCommitment
	for rows.Next() {
		var c storage.TimelineCommitment
		if err := rows.Scan(&c.UserID, &c.MemoryID, &c.Description, &c.DueDate); err != nil {
			return nil, err
		}
		commitments = append(commitments, c)
	}
	return commitments, rows.Err()
}

// PutCommitment stores a commitment keyed by (memoryID, description).
func (s *TimelineStore) PutCommitment(ctx context.Context, c *storage.TimelineCommitment) error {
	if c == nil {
		return storage.ErrInvalidInput
	}
	if c.UserID == "" || c.MemoryID == "" || c.Description == "" {
		return fmt.Errorf("%w: user ID, memory ID, and description are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timeline_commitments (user_id, memory_id, description, due_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id, description) DO UPDATE SET
			due_date = excluded.due_date`,
		c.UserID, c.MemoryID, c.Description, c.DueDate)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store commitment: %w", err)
	}
	return nil
}
