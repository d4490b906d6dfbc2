package types

import "time"

// Device types recognised by the context integrator. Unknown types fall back
// to DeviceUnknown and its TTL.
const (
	DeviceMobile       = "mobile"
	DeviceDesktop      = "desktop"
	DeviceWeb          = "web"
	DeviceAPI          = "api"
	DeviceWearable     = "wearable"
	DeviceSmartGlasses = "smart_glasses"
	DeviceUnknown      = "unknown"
)

// DeviceContextFrame is a single device's point-in-time observation of the
// user's situation. Each new frame from a device supersedes its previous one;
// frames expire on a device-type-specific TTL.
type DeviceContextFrame struct {
	// UserID is the observed user.
	UserID string `json:"user_id"`

	// DeviceID identifies the reporting device session.
	DeviceID string `json:"device_id"`

	// DeviceType is one of the Device* constants.
	DeviceType string `json:"device_type"`

	// Timestamp is when the device made the observation.
	Timestamp time.Time `json:"timestamp"`

	// ExpiresAt is when the frame stops contributing to the unified context.
	ExpiresAt time.Time `json:"expires_at"`

	// Location is the device's location observation, if any.
	Location *LocationObservation `json:"location,omitempty"`

	// Activity is what the user appears to be doing on this device.
	Activity string `json:"activity,omitempty"`

	// People are people the device believes are present.
	People []PersonObservation `json:"people,omitempty"`

	// EmotionalState is the device's read of the user's emotional state.
	EmotionalState *EmotionObservation `json:"emotional_state,omitempty"`
}

// Expired reports whether the frame has passed its TTL at the given instant.
func (f *DeviceContextFrame) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && !now.Before(f.ExpiresAt)
}

// LocationObservation is a device-reported location with confidence.
type LocationObservation struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// PersonObservation is a device-reported nearby person with confidence.
type PersonObservation struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// EmotionObservation is a device-reported emotional state with confidence.
type EmotionObservation struct {
	State      string  `json:"state"`
	Confidence float64 `json:"confidence"`
}

// UnifiedUserContext is the fused, conflict-resolved projection over all
// non-expired device frames for a user. It is derived, never authored
// directly, and recomputed when stale or on any device write.
type UnifiedUserContext struct {
	// UserID is the user this context describes.
	UserID string `json:"user_id"`

	// ComputedAt is when the projection was built.
	ComputedAt time.Time `json:"computed_at"`

	// Location is the resolved location, if any device reported one.
	Location *ResolvedLocation `json:"location,omitempty"`

	// Activity is the resolved activity, if any device reported one.
	Activity *ResolvedActivity `json:"activity,omitempty"`

	// People are the merged person observations across devices.
	People []ResolvedPerson `json:"people,omitempty"`

	// EmotionalState is the highest-confidence emotional observation.
	EmotionalState *ResolvedEmotion `json:"emotional_state,omitempty"`

	// PrimaryDevice is the most recently updated non-stale device, falling
	// back to any device, then to "unknown".
	PrimaryDevice string `json:"primary_device"`

	// IsMultitasking is true when more than one non-stale device is active.
	IsMultitasking bool `json:"is_multitasking"`

	// DeviceCount is the number of non-expired frames that fed this projection.
	DeviceCount int `json:"device_count"`

	// StaleDevices lists devices whose frames exceeded half their TTL.
	StaleDevices []string `json:"stale_devices,omitempty"`
}

// ResolvedLocation is the winning location plus any disagreeing observations.
type ResolvedLocation struct {
	// Name is the winning location.
	Name string `json:"name"`

	// Source is the device whose observation won.
	Source string `json:"source"`

	// Confidence is the winning observation's confidence.
	Confidence float64 `json:"confidence"`

	// Conflicting lists devices that reported a different location. They are
	// surfaced, not auto-resolved.
	Conflicting []ConflictingLocation `json:"conflicting,omitempty"`
}

// ConflictingLocation is a non-winning location observation.
type ConflictingLocation struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

// ResolvedActivity is the recency-ordered activity view across devices.
type ResolvedActivity struct {
	// Primary is the most recently reported activity.
	Primary string `json:"primary"`

	// PrimaryDevice is the device that reported the primary activity.
	PrimaryDevice string `json:"primary_device"`

	// Secondary is the second most recent activity, when present.
	Secondary string `json:"secondary,omitempty"`

	// SecondaryDevice reported the secondary activity.
	SecondaryDevice string `json:"secondary_device,omitempty"`

	// Sources retains every device-level activity observation.
	Sources []ActivitySource `json:"sources"`
}

// ActivitySource is one device's activity observation.
type ActivitySource struct {
	DeviceID  string    `json:"device_id"`
	Activity  string    `json:"activity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Presence classification for merged person observations.
const (
	PresencePresent = "present"
	PresenceLikely  = "likely"
)

// ResolvedPerson is a person merged across device observations. Confidence
// accumulates with each additional sighting, capped at 1.0.
type ResolvedPerson struct {
	// Name is the person's name.
	Name string `json:"name"`

	// Confidence is the accumulated sighting confidence (0.0 to 1.0).
	Confidence float64 `json:"confidence"`

	// Presence is PresencePresent when confidence is high or the person was
	// corroborated by at least two devices, PresenceLikely otherwise.
	Presence string `json:"presence"`

	// Devices lists the devices that observed this person.
	Devices []string `json:"devices"`
}

// ResolvedEmotion is the winning emotional-state observation.
type ResolvedEmotion struct {
	State      string  `json:"state"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}
