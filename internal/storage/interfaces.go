// Package storage provides composable storage interfaces for the Focal engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The engine only depends
// on these abstractions, so a backend can be swapped (e.g. for a distributed
// cache) without touching call sites.
package storage

import (
	"context"
	"time"

	"github.com/focalhq/focal/pkg/types"
)

// OrderedSetStore is a keyed sorted-set capability. Focal keeps one set per
// user for the attention window, ordered by effective salience.
type OrderedSetStore interface {
	// Add inserts or repositions a member with the given score (upsert).
	Add(ctx context.Context, key string, score float64, member string) error

	// Remove removes a member. Removing an absent member is not an error.
	Remove(ctx context.Context, key, member string) error

	// RemoveRangeByScore removes all members with min <= score <= max and
	// returns how many were removed.
	RemoveRangeByScore(ctx context.Context, key string, min, max float64) (int, error)

	// RangeDescending returns members ordered by score descending, from rank
	// start to rank stop inclusive (0-based). stop < 0 means "to the end".
	RangeDescending(ctx context.Context, key string, start, stop int) ([]string, error)

	// RangeDescendingWithScores is RangeDescending with scores attached.
	RangeDescendingWithScores(ctx context.Context, key string, start, stop int) ([]ScoredMember, error)

	// Cardinality returns the number of members in the set.
	Cardinality(ctx context.Context, key string) (int, error)

	// Score returns a member's score. The bool is false when the member is
	// not in the set.
	Score(ctx context.Context, key, member string) (float64, bool, error)

	// CountInRange counts members with min <= score <= max.
	CountInRange(ctx context.Context, key string, min, max float64) (int, error)

	// Expire sets the whole set's TTL. Expired sets read as empty.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the set and its expiry.
	Delete(ctx context.Context, key string) error

	// Keys lists all live set keys. Used by maintenance sweeps.
	Keys(ctx context.Context) ([]string, error)

	// PurgeExpired removes sets whose TTL has lapsed and returns the count.
	PurgeExpired(ctx context.Context) (int, error)
}

// ContextStore persists device context frames and the cached unified
// projection. Frames are keyed by (userID, deviceID); each write from a
// device supersedes its previous frame.
type ContextStore interface {
	// SetDeviceFrame upserts a device's frame. The frame's ExpiresAt must be
	// set by the caller from the device-type TTL table.
	SetDeviceFrame(ctx context.Context, frame *types.DeviceContextFrame) error

	// GetDeviceFrames returns all non-expired frames for a user.
	GetDeviceFrames(ctx context.Context, userID string) ([]types.DeviceContextFrame, error)

	// SetUnifiedContext caches the unified projection with the given TTL.
	SetUnifiedContext(ctx context.Context, userID string, uc *types.UnifiedUserContext, ttl time.Duration) error

	// GetUnifiedContext returns the cached projection, or ErrNotFound when
	// absent or expired.
	GetUnifiedContext(ctx context.Context, userID string) (*types.UnifiedUserContext, error)

	// PurgeExpired removes expired frames and cached projections and returns
	// how many rows were deleted.
	PurgeExpired(ctx context.Context) (int, error)
}

// PatternStore persists learned patterns keyed by (userID, signature).
type PatternStore interface {
	// Upsert creates or updates a pattern by its (userID, signature) key.
	Upsert(ctx context.Context, pattern *types.LearnedPattern) error

	// GetBySignature returns the pattern for a signature, or ErrNotFound.
	GetBySignature(ctx context.Context, userID, signature string) (*types.LearnedPattern, error)

	// ListByUser returns all patterns for a user, most recently seen first.
	ListByUser(ctx context.Context, userID string) ([]types.LearnedPattern, error)

	// Count returns the number of patterns stored for a user.
	Count(ctx context.Context, userID string) (int, error)
}

// SalienceStore persists base salience scores and the retrieval telemetry
// that reinforces them. The base score is immutable except through
// ApplyRetrievalBoost, which is the one audited write path.
type SalienceStore interface {
	// PutSignals stores or replaces a memory's salience signals.
	PutSignals(ctx context.Context, signals *types.MemorySignals) error

	// GetSignals returns a memory's salience signals, or ErrNotFound.
	GetSignals(ctx context.Context, memoryID string) (*types.MemorySignals, error)

	// ListByUser returns all signals for a user.
	ListByUser(ctx context.Context, userID string) ([]types.MemorySignals, error)

	// ApplyRetrievalBoost atomically increments the retrieval count and
	// rewrites the base salience to the given boosted value.
	ApplyRetrievalBoost(ctx context.Context, memoryID string, boosted float64) error

	// LogRetrieval appends a retrieval event for telemetry.
	LogRetrieval(ctx context.Context, userID, memoryID string, at time.Time) error
}

// WeightsStore persists per-user salience weight vectors. The bool return of
// Get is false when the user has no learned weights yet.
type WeightsStore interface {
	// Get returns the user's weight vector, if one has been learned.
	Get(ctx context.Context, userID string) (types.SalienceWeights, bool, error)

	// Put stores the user's weight vector (upsert).
	Put(ctx context.Context, userID string, weights types.SalienceWeights) error
}

// RelationshipStore is the read model feeding the ranker's person-derived
// boosts. Snapshots are refreshed by external maintenance.
type RelationshipStore interface {
	// GetSnapshot returns the snapshot for a person, or ErrNotFound.
	GetSnapshot(ctx context.Context, userID, person string) (*types.RelationshipSnapshot, error)

	// ListSnapshots returns all snapshots for a user.
	ListSnapshots(ctx context.Context, userID string) ([]types.RelationshipSnapshot, error)

	// PutSnapshot stores a snapshot (upsert by userID+person).
	PutSnapshot(ctx context.Context, snapshot *types.RelationshipSnapshot) error
}

// TimelineStore is the read model for commitments feeding deadline boosts.
type TimelineStore interface {
	// OpenCommitments returns commitments for a user due within the window,
	// soonest first.
	OpenCommitments(ctx context.Context, userID string, within time.Duration) ([]TimelineCommitment, error)

	// PutCommitment stores a commitment row (upsert by memoryID+description).
	PutCommitment(ctx context.Context, c *TimelineCommitment) error
}

// TimelineCommitment is a commitment row tied back to its source memory.
type TimelineCommitment struct {
	// UserID is the owning user.
	UserID string

	// MemoryID is the memory that carries the commitment.
	MemoryID string

	// Description is the commitment text.
	Description string

	// DueDate is when the commitment is due.
	DueDate time.Time
}

// SemanticSearchProvider supplies similarity-ordered candidates for the
// retrieval ranker. Backed by the pgvector index in production.
type SemanticSearchProvider interface {
	// Search returns up to limit candidates for the query embedding,
	// most similar first.
	Search(ctx context.Context, userID string, embedding []float32, limit int) ([]types.SearchCandidate, error)
}
