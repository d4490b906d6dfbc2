// Package config provides configuration management for Focal.
// It loads settings from environment variables with the FOCAL_ prefix and
// provides sensible defaults for all tuning constants. The device TTL table
// can additionally be loaded from a YAML file and merged over the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Focal engine.
type Config struct {
	Storage   StorageConfig
	Attention AttentionConfig
	Context   ContextConfig
	Decay     DecayConfig
	Ranking   RankingConfig
	Patterns  PatternConfig
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	DataPath    string // Path to the SQLite data directory (default: ./data)
	PostgresDSN string // DSN for the pgvector semantic index; empty disables it
}

// AttentionConfig tunes the per-user attention window.
type AttentionConfig struct {
	Threshold     float64       // Minimum effective salience for membership (default: 60)
	MaxSize       int           // Soft cardinality bound before bulk trim (default: 100)
	WindowTTL     time.Duration // Whole-window TTL, refreshed on every add (default: 24h)
	RelevanceGain float64       // Multiplier k in decayed*(1+relevance*k) (default: 0.5)
}

// ContextConfig tunes multi-device context fusion.
type ContextConfig struct {
	RefreshInterval time.Duration // Max age of the cached unified context (default: 30s)

	// DeviceTTLs maps device type to frame validity. A frame is stale once
	// its age exceeds half its TTL.
	DeviceTTLs map[string]time.Duration
}

// TTLFor returns the frame TTL for a device type, falling back to the
// "unknown" entry, then to 10 minutes.
func (c ContextConfig) TTLFor(deviceType string) time.Duration {
	if ttl, ok := c.DeviceTTLs[deviceType]; ok {
		return ttl
	}
	if ttl, ok := c.DeviceTTLs["unknown"]; ok {
		return ttl
	}
	return 10 * time.Minute
}

// DecayConfig tunes the salience decay curve.
type DecayConfig struct {
	RatePerDay float64 // Daily decay rate (default: 0.01)
	Floor      float64 // Minimum decay modifier, never zero (default: 0.3)
}

// RankingConfig tunes the retrieval ranker's base blend.
type RankingConfig struct {
	SemanticWeight float64 // Weight of semantic similarity (default: 0.6)
	SalienceWeight float64 // Weight of decayed salience (default: 0.4)
}

// PatternConfig tunes pattern formation and anticipation.
type PatternConfig struct {
	FormationDays       int     // Minimum elapsed days before a pattern can form (default: 21)
	OccurrenceFloor     int     // Minimum occurrences before a pattern can form (default: 5)
	PredictionThreshold float64 // Minimum confidence for anticipation output (default: 0.6)
}

// DefaultDeviceTTLs returns the shipped device-type TTL table.
func DefaultDeviceTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"mobile":        5 * time.Minute,
		"desktop":       15 * time.Minute,
		"web":           10 * time.Minute,
		"api":           60 * time.Minute,
		"wearable":      2 * time.Minute,
		"smart_glasses": 1 * time.Minute,
		"unknown":       10 * time.Minute,
	}
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the FOCAL_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			DataPath:    getEnv("FOCAL_DATA_PATH", "./data"),
			PostgresDSN: getEnv("FOCAL_POSTGRES_DSN", ""),
		},
		Attention: AttentionConfig{
			Threshold:     getEnvFloat("FOCAL_ATTENTION_THRESHOLD", 60),
			MaxSize:       getEnvInt("FOCAL_ATTENTION_MAX_SIZE", 100),
			WindowTTL:     getEnvDuration("FOCAL_ATTENTION_TTL", 24*time.Hour),
			RelevanceGain: getEnvFloat("FOCAL_ATTENTION_RELEVANCE_GAIN", 0.5),
		},
		Context: ContextConfig{
			RefreshInterval: getEnvDuration("FOCAL_CONTEXT_REFRESH_INTERVAL", 30*time.Second),
			DeviceTTLs:      DefaultDeviceTTLs(),
		},
		Decay: DecayConfig{
			RatePerDay: getEnvFloat("FOCAL_DECAY_RATE_PER_DAY", 0.01),
			Floor:      getEnvFloat("FOCAL_DECAY_FLOOR", 0.3),
		},
		Ranking: RankingConfig{
			SemanticWeight: getEnvFloat("FOCAL_RANK_SEMANTIC_WEIGHT", 0.6),
			SalienceWeight: getEnvFloat("FOCAL_RANK_SALIENCE_WEIGHT", 0.4),
		},
		Patterns: PatternConfig{
			FormationDays:       getEnvInt("FOCAL_PATTERN_FORMATION_DAYS", 21),
			OccurrenceFloor:     getEnvInt("FOCAL_PATTERN_OCCURRENCE_FLOOR", 5),
			PredictionThreshold: getEnvFloat("FOCAL_PATTERN_PREDICTION_THRESHOLD", 0.6),
		},
	}

	if path := getEnv("FOCAL_DEVICE_TTL_FILE", ""); path != "" {
		if err := cfg.LoadDeviceTTLFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// deviceTTLFile is the YAML shape of a device TTL override file:
//
//	device_ttls:
//	  mobile: 5m
//	  wearable: 90s
type deviceTTLFile struct {
	DeviceTTLs map[string]string `yaml:"device_ttls"`
}

// LoadDeviceTTLFile merges device TTL overrides from a YAML file over the
// current table. Unknown device types are accepted; invalid durations are
// rejected so a bad file never silently degrades staleness detection.
func (c *Config) LoadDeviceTTLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read device TTL file: %w", err)
	}

	var file deviceTTLFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("config: failed to parse device TTL file: %w", err)
	}

	if c.Context.DeviceTTLs == nil {
		c.Context.DeviceTTLs = DefaultDeviceTTLs()
	}

	for deviceType, raw := range file.DeviceTTLs {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: invalid TTL %q for device type %q: %w", raw, deviceType, err)
		}
		if ttl <= 0 {
			return fmt.Errorf("config: TTL for device type %q must be positive, got %q", deviceType, raw)
		}
		c.Context.DeviceTTLs[deviceType] = ttl
	}

	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s", "24h") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
