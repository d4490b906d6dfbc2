package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ScoredMember is an ordered-set member paired with its score.
type ScoredMember struct {
	// Member is the set member (a memory ID for attention windows).
	Member string

	// Score is the member's ordering score.
	Score float64

	// UpdatedAt is when the member was last written.
	UpdatedAt time.Time
}
