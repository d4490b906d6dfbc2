package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/focalhq/focal/internal/config"
	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// personMergeIncrement is the per-additional-device confidence contribution
// when merging person observations. Each extra sighting adds 0.3 scaled by
// its own confidence.
const personMergeIncrement = 0.3

// presentConfidence is the accumulated confidence at which a person is
// classified as present rather than merely likely.
const presentConfidence = 0.7

// ContextIntegrator fuses per-device context frames into a single unified
// view of the user's current situation. Writes trigger an asynchronous
// recompute; reads serve the cached projection when fresh enough and
// recompute synchronously otherwise.
type ContextIntegrator struct {
	store storage.ContextStore
	cfg   config.ContextConfig

	// errs collects background recompute failures for observation. The
	// channel is buffered and sends are non-blocking; a full buffer drops
	// the error after logging it.
	errs chan error
}

// NewContextIntegrator creates an integrator over the given context store.
func NewContextIntegrator(store storage.ContextStore, cfg config.ContextConfig) *ContextIntegrator {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.DeviceTTLs == nil {
		cfg.DeviceTTLs = config.DefaultDeviceTTLs()
	}
	return &ContextIntegrator{
		store: store,
		cfg:   cfg,
		errs:  make(chan error, 16),
	}
}

// Errors exposes background recompute failures. Optional to drain.
func (ci *ContextIntegrator) Errors() <-chan error {
	return ci.errs
}

// UpdateDeviceContext records a device's observation, superseding that
// device's previous frame, and kicks off an asynchronous recompute of the
// unified context. The write itself is synchronous; callers get a durable
// frame before this returns.
func (ci *ContextIntegrator) UpdateDeviceContext(ctx context.Context, frame *types.DeviceContextFrame) error {
	if frame == nil || frame.UserID == "" || frame.DeviceID == "" {
		return fmt.Errorf("context: %w: frame requires user and device IDs", storage.ErrInvalidInput)
	}

	if frame.DeviceType == "" {
		frame.DeviceType = types.DeviceUnknown
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	frame.ExpiresAt = frame.Timestamp.Add(ci.cfg.TTLFor(frame.DeviceType))

	if err := ci.store.SetDeviceFrame(ctx, frame); err != nil {
		return fmt.Errorf("context: failed to store frame for device %s: %w", frame.DeviceID, err)
	}

	userID := frame.UserID
	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := ci.recompute(rctx, userID); err != nil {
			log.Printf("context: background recompute for %s failed: %v", userID, err)
			select {
			case ci.errs <- err:
			default:
			}
		}
	}()

	return nil
}

// GetUnifiedContext returns the user's unified context. A cached projection
// younger than the refresh interval is served as-is; otherwise the
// projection is recomputed synchronously. Returns (nil, nil) when the user
// has no live device frames.
func (ci *ContextIntegrator) GetUnifiedContext(ctx context.Context, userID string) (*types.UnifiedUserContext, error) {
	cached, err := ci.store.GetUnifiedContext(ctx, userID)
	if err == nil && time.Since(cached.ComputedAt) < ci.cfg.RefreshInterval {
		return cached, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("context: cached projection read for %s failed, recomputing: %v", userID, err)
	}
	return ci.recompute(ctx, userID)
}

// recompute builds the unified projection from live frames and caches it.
// The cache TTL is twice the refresh interval so a projection outlives its
// freshness window but not indefinitely.
func (ci *ContextIntegrator) recompute(ctx context.Context, userID string) (*types.UnifiedUserContext, error) {
	frames, err := ci.store.GetDeviceFrames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("context: failed to load frames for %s: %w", userID, err)
	}
	if len(frames) == 0 {
		return nil, nil
	}

	uc := ci.fuse(userID, frames, time.Now())

	if err := ci.store.SetUnifiedContext(ctx, userID, uc, 2*ci.cfg.RefreshInterval); err != nil {
		// The projection is still valid; only the cache write failed.
		log.Printf("context: failed to cache projection for %s: %v", userID, err)
	}

	return uc, nil
}

// fuse resolves all conflicts across the given frames into one projection.
func (ci *ContextIntegrator) fuse(userID string, frames []types.DeviceContextFrame, now time.Time) *types.UnifiedUserContext {
	// Most recent first; every resolution below relies on this order.
	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Timestamp.After(frames[j].Timestamp)
	})

	uc := &types.UnifiedUserContext{
		UserID:      userID,
		ComputedAt:  now,
		DeviceCount: len(frames),
	}

	fresh := 0
	for _, frame := range frames {
		age := now.Sub(frame.Timestamp)
		if age > ci.cfg.TTLFor(frame.DeviceType)/2 {
			uc.StaleDevices = append(uc.StaleDevices, frame.DeviceID)
		} else {
			fresh++
			if uc.PrimaryDevice == "" {
				uc.PrimaryDevice = frame.DeviceID
			}
		}
	}
	uc.IsMultitasking = fresh > 1
	if uc.PrimaryDevice == "" {
		// Every frame is stale; fall back to the most recent one.
		uc.PrimaryDevice = frames[0].DeviceID
	}

	uc.Location = resolveLocation(frames, now)
	uc.Activity = resolveActivity(frames)
	uc.People = mergePeople(frames)
	uc.EmotionalState = resolveEmotion(frames)

	return uc
}

// resolveLocation picks the winning location observation. Mobile devices
// win outright as the most physically-authoritative source; among equals
// the winner maximizes a blend of observation confidence and recency.
// Disagreeing observations are surfaced, never discarded.
func resolveLocation(frames []types.DeviceContextFrame, now time.Time) *types.ResolvedLocation {
	type observation struct {
		frame *types.DeviceContextFrame
		score float64
	}

	var candidates []observation
	for i := range frames {
		frame := &frames[i]
		if frame.Location == nil || frame.Location.Name == "" {
			continue
		}

		recency := 1.0
		if age := now.Sub(frame.Timestamp); age > 0 {
			ttl := frame.ExpiresAt.Sub(frame.Timestamp)
			if ttl > 0 {
				recency = 1 - clamp01(age.Seconds()/ttl.Seconds())
			}
		}
		score := frame.Location.Confidence*0.7 + recency*0.3
		if frame.DeviceType == types.DeviceMobile {
			// A phone in a pocket beats a desktop's last-known network guess.
			score += 1
		}
		candidates = append(candidates, observation{frame: frame, score: score})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	winner := candidates[0].frame
	resolved := &types.ResolvedLocation{
		Name:       winner.Location.Name,
		Source:     winner.DeviceID,
		Confidence: winner.Location.Confidence,
	}
	for _, c := range candidates[1:] {
		if !strings.EqualFold(c.frame.Location.Name, winner.Location.Name) {
			resolved.Conflicting = append(resolved.Conflicting, types.ConflictingLocation{
				DeviceID: c.frame.DeviceID,
				Name:     c.frame.Location.Name,
			})
		}
	}
	return resolved
}

// resolveActivity orders activities by frame recency. The newest report is
// primary, the next is secondary, and every observation is retained.
func resolveActivity(frames []types.DeviceContextFrame) *types.ResolvedActivity {
	var resolved *types.ResolvedActivity
	for _, frame := range frames {
		if frame.Activity == "" {
			continue
		}
		if resolved == nil {
			resolved = &types.ResolvedActivity{
				Primary:       frame.Activity,
				PrimaryDevice: frame.DeviceID,
			}
		} else if resolved.Secondary == "" && frame.Activity != resolved.Primary {
			resolved.Secondary = frame.Activity
			resolved.SecondaryDevice = frame.DeviceID
		}
		resolved.Sources = append(resolved.Sources, types.ActivitySource{
			DeviceID:  frame.DeviceID,
			Activity:  frame.Activity,
			UpdatedAt: frame.Timestamp,
		})
	}
	return resolved
}

// mergePeople unions person observations across devices. Confidence starts
// at the first observation's confidence and accumulates with each extra
// device, capped at 1.0. Two independent sightings, or accumulated
// confidence past the presence bar, classify the person as present.
func mergePeople(frames []types.DeviceContextFrame) []types.ResolvedPerson {
	merged := make(map[string]*types.ResolvedPerson)
	var order []string

	for _, frame := range frames {
		seen := make(map[string]struct{}, len(frame.People))
		for _, obs := range frame.People {
			if obs.Name == "" {
				continue
			}
			key := strings.ToLower(obs.Name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			conf := obs.Confidence
			if conf <= 0 {
				conf = 0.5
			}

			person, ok := merged[key]
			if !ok {
				merged[key] = &types.ResolvedPerson{
					Name:       obs.Name,
					Confidence: clamp01(conf),
					Devices:    []string{frame.DeviceID},
				}
				order = append(order, key)
				continue
			}
			person.Confidence = clamp01(person.Confidence + personMergeIncrement*conf)
			person.Devices = append(person.Devices, frame.DeviceID)
		}
	}
	if len(order) == 0 {
		return nil
	}

	people := make([]types.ResolvedPerson, 0, len(order))
	for _, key := range order {
		person := merged[key]
		if person.Confidence >= presentConfidence || len(person.Devices) >= 2 {
			person.Presence = types.PresencePresent
		} else {
			person.Presence = types.PresenceLikely
		}
		people = append(people, *person)
	}
	sort.SliceStable(people, func(i, j int) bool {
		return people[i].Confidence > people[j].Confidence
	})
	return people
}

// resolveEmotion picks the highest-confidence emotional observation, with
// recency as the tiebreak via the pre-sorted frame order.
func resolveEmotion(frames []types.DeviceContextFrame) *types.ResolvedEmotion {
	var resolved *types.ResolvedEmotion
	for _, frame := range frames {
		obs := frame.EmotionalState
		if obs == nil || obs.State == "" {
			continue
		}
		if resolved == nil || obs.Confidence > resolved.Confidence {
			resolved = &types.ResolvedEmotion{
				State:      obs.State,
				Confidence: obs.Confidence,
				Source:     frame.DeviceID,
			}
		}
	}
	return resolved
}
