// Package extract defines the boundary to the external feature extractor.
// The engine never inspects how features are produced; it consumes the typed,
// possibly all-default result.
package extract

import (
	"context"

	"github.com/focalhq/focal/pkg/types"
)

// Extractor produces structured content features from raw text. Implemented
// by an external collaborator (LLM- or heuristic-driven); the engine treats
// the result as opaque.
type Extractor interface {
	// Extract returns the features found in text. Implementations should
	// return an all-default ExtractedFeatures rather than nil on weak input.
	Extract(ctx context.Context, text string) (*types.ExtractedFeatures, error)
}
