// Package config loads and validates engine-wide configuration: trust mode,
// checkpoint/GC policy, reserved-byte enforcement, sync DoS caps, and the
// cache backend used by the materialization and bitmap-index layers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	// Graph identifies the logical graph this process operates on.
	Graph string `yaml:"graph"`

	Repo       RepoConfig       `yaml:"repo"`
	Trust      TrustConfig      `yaml:"trust"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	GC         GCConfig         `yaml:"gc"`
	Materialize MaterializeConfig `yaml:"materialize"`
	Sync       SyncConfig       `yaml:"sync"`
	Cache      CacheConfig      `yaml:"cache"`
	Identifiers IdentifierConfig `yaml:"identifiers"`
}

// RepoConfig locates the backing object store.
type RepoConfig struct {
	Dir string `yaml:"dir"`
}

// TrustMode selects how the sync protocol enforces the trust gate.
type TrustMode string

const (
	TrustOff      TrustMode = "off"
	TrustLogOnly  TrustMode = "log-only"
	TrustEnforce  TrustMode = "enforce"
)

// TrustConfig configures the trust-gate evaluator.
type TrustConfig struct {
	Mode            TrustMode `yaml:"mode"`
	GenesisRecordID string    `yaml:"genesis_record_id"` // out-of-band pinned genesis KEY_ADD recordId
}

// CheckpointConfig is the auto-checkpoint policy: {every: N} or disabled.
type CheckpointConfig struct {
	Every int `yaml:"every"` // 0 disables auto-checkpointing
}

// GCConfig is the tombstone-compaction policy.
type GCConfig struct {
	Enabled            bool    `yaml:"enabled"`
	TombstoneThreshold float64 `yaml:"tombstone_threshold"` // default 0.3
	MinPatches         int     `yaml:"min_patches"`
}

// MaterializeConfig tunes the materialization engine.
type MaterializeConfig struct {
	Auto                 bool `yaml:"auto"`                   // re-materialize on read when dirty
	Strict               bool `yaml:"strict"`                 // fail QUERY_STALE_STATE instead of serving stale
	MaxConcurrentFetches int  `yaml:"max_concurrent_fetches"`
}

// SyncConfig holds the sync protocol's DoS caps.
type SyncConfig struct {
	MaxWritersInFrontier int   `yaml:"max_writers_in_frontier"`
	MaxPatches           int   `yaml:"max_patches"`
	MaxOpsPerPatch       int   `yaml:"max_ops_per_patch"`
	MaxBodyBytes         int64 `yaml:"max_body_bytes"`
	Deadline             time.Duration `yaml:"deadline"`
}

// CacheConfig configures the in-process and optional shared cache backends.
type CacheConfig struct {
	Directory      string        `yaml:"directory"`
	TTL            time.Duration `yaml:"ttl"`
	MaxSize        int64         `yaml:"max_size"`
	SharedCacheURL string        `yaml:"shared_cache_url"` // redis URL; empty disables the shared cache
}

// IdentifierConfig controls I1 enforcement.
type IdentifierConfig struct {
	ReverifyOnFold bool `yaml:"reverify_on_fold"` // safe default: true
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Graph: "default",
		Repo: RepoConfig{
			Dir: ".",
		},
		Trust: TrustConfig{
			Mode: TrustOff,
		},
		Checkpoint: CheckpointConfig{
			Every: 1000,
		},
		GC: GCConfig{
			Enabled:            true,
			TombstoneThreshold: 0.3,
			MinPatches:         100,
		},
		Materialize: MaterializeConfig{
			Auto:                 true,
			Strict:               false,
			MaxConcurrentFetches: 8,
		},
		Sync: SyncConfig{
			MaxWritersInFrontier: 1024,
			MaxPatches:           10_000,
			MaxOpsPerPatch:       10_000,
			MaxBodyBytes:         10 * 1024 * 1024,
			Deadline:             30 * time.Second,
		},
		Cache: CacheConfig{
			Directory: filepath.Join(homeDir, ".warp", "cache"),
			TTL:       1 * time.Hour,
			MaxSize:   2 * 1024 * 1024 * 1024,
		},
		Identifiers: IdentifierConfig{
			ReverifyOnFold: true,
		},
	}
}

// Load loads configuration from path, falling back to standard locations and
// environment overrides (prefix WARP_) layered on top of defaults.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("repo", cfg.Repo)
	v.SetDefault("trust", cfg.Trust)
	v.SetDefault("checkpoint", cfg.Checkpoint)
	v.SetDefault("gc", cfg.GC)
	v.SetDefault("materialize", cfg.Materialize)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("identifiers", cfg.Identifiers)

	v.SetEnvPrefix("WARP")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".warp")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".warp"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEnvFiles() {
	envFiles := []string{".env.local", ".env"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".warp", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

func applyEnvOverrides(cfg *Config) {
	if g := os.Getenv("WARP_GRAPH"); g != "" {
		cfg.Graph = g
	}
	if dir := os.Getenv("WARP_REPO_DIR"); dir != "" {
		cfg.Repo.Dir = expandPath(dir)
	}
	if mode := os.Getenv("WARP_TRUST_MODE"); mode != "" {
		cfg.Trust.Mode = TrustMode(mode)
	}
	if every := os.Getenv("WARP_CHECKPOINT_EVERY"); every != "" {
		if n, err := strconv.Atoi(every); err == nil {
			cfg.Checkpoint.Every = n
		}
	}
	if url := os.Getenv("WARP_SHARED_CACHE_URL"); url != "" {
		cfg.Cache.SharedCacheURL = url
	}
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save persists configuration to path as YAML.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("graph", c.Graph)
	v.Set("repo", c.Repo)
	v.Set("trust", c.Trust)
	v.Set("checkpoint", c.Checkpoint)
	v.Set("gc", c.GC)
	v.Set("materialize", c.Materialize)
	v.Set("sync", c.Sync)
	v.Set("cache", c.Cache)
	v.Set("identifiers", c.Identifiers)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects configurations that would violate an invariant.
func (c *Config) Validate() error {
	switch c.Trust.Mode {
	case TrustOff, TrustLogOnly, TrustEnforce:
	default:
		return fmt.Errorf("config: invalid trust.mode %q", c.Trust.Mode)
	}
	if c.Checkpoint.Every < 0 {
		return fmt.Errorf("config: checkpoint.every must be >= 0")
	}
	if c.GC.TombstoneThreshold < 0 || c.GC.TombstoneThreshold > 1 {
		return fmt.Errorf("config: gc.tombstone_threshold must be in [0,1]")
	}
	if c.Sync.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: sync.max_body_bytes must be > 0")
	}
	return nil
}
