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

// ContextStore implements storage.ContextStore on SQLite. Frames and the
// unified-context cache are stored as JSON payloads with explicit expiry
// columns so expiry can be enforced in the query rather than in Go.
type ContextStore struct {
	db *sql.DB
}

// NewContextStore creates a context store over an opened database.
func NewContextStore(store *Store) *ContextStore {
	return &ContextStore{db: store.DB()}
}

// SetDeviceFrame upserts a device's frame keyed by (userID, deviceID).
func (s *ContextStore) SetDeviceFrame(ctx context.Context, frame *types.DeviceContextFrame) error {
	if frame == nil {
		return storage.ErrInvalidInput
	}
	if frame.UserID == "" || frame.DeviceID == "" {
		return fmt.Errorf("%w: user and device IDs are required", storage.ErrInvalidInput)
	}
	if frame.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: frame expiry is required", storage.ErrInvalidInput)
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal device frame: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_frames (user_id, device_id, payload, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, device_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		frame.UserID, frame.DeviceID, string(payload), time.Now(), frame.ExpiresAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store device frame: %w", err)
	}
	return nil
}

// GetDeviceFrames returns all non-expired frames for a user.
func (s *ContextStore) GetDeviceFrames(ctx context.Context, userID string) ([]types.DeviceContextFrame, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM device_frames
		WHERE user_id = ? AND expires_at > ?
		ORDER BY updated_at DESC`,
		userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list device frames: %w", err)
	}
	defer rows.Close()

	var frames []types.DeviceContextFrame
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var frame types.DeviceContextFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal device frame: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}

// SetUnifiedContext caches the unified projection with the given TTL.
func (s *ContextStore) SetUnifiedContext(ctx context.Context, userID string, uc *types.UnifiedUserContext, ttl time.Duration) error {
	if uc == nil || userID == "" {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(uc)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal unified context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unified_context (user_id, payload, computed_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			payload = excluded.payload,
			computed_at = excluded.computed_at,
			expires_at = excluded.expires_at`,
		userID, string(payload), uc.ComputedAt, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("sqlite: failed to cache unified context: %w", err)
	}
	return nil
}

// GetUnifiedContext returns the cached projection, or ErrNotFound when the
// cache is absent or expired.
func (s *ContextStore) GetUnifiedContext(ctx context.Context, userID string) (*types.UnifiedUserContext, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM unified_context
		WHERE user_id = ? AND expires_at > ?`,
		userID, time.Now(),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read unified context: %w", err)
	}

	var uc types.UnifiedUserContext
	if err := json.Unmarshal([]byte(payload), &uc); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal unified context: %w", err)
	}
	return &uc, nil
}

// PurgeExpired removes expired frames and cached projections.
func (s *ContextStore) PurgeExpired(ctx context.Context) (int, error) {
	now := time.Now()
	total := 0

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM device_frames WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge device frames: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += int(n)
	}

	res, err = s.db.ExecContext(ctx,
		"DELETE FROM unified_context WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge unified contexts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += int(n)
	}

	return total, nil
}
