// Engine configuration, loadable from YAML and overridable by CLI flags.

package serve

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig groups the engine-level knobs this core consumes.
type EngineConfig struct {
	// MaxSequenceLength caps a single branch's total length (prefilled +
	// committed tokens); hitting it finishes the branch with reason length.
	MaxSequenceLength int `yaml:"max_sequence_length"`
	// MaxRunningRequests caps the running queue; beyond it the surrounding
	// scheduler preempts.
	MaxRunningRequests int `yaml:"max_running_requests"`
	// PrefixCacheTokens is the reference prefix cache's recycled-history
	// token budget.
	PrefixCacheTokens int `yaml:"prefix_cache_tokens"`
	// PrefixCacheBlockSize is the prefix-index granularity in tokens.
	PrefixCacheBlockSize int `yaml:"prefix_cache_block_size"`
	// NumModels is the number of backend models participating in
	// generation (1 without speculative decoding).
	NumModels int `yaml:"num_models"`
	// Seed is the master seed for per-request sampling RNGs.
	Seed int64 `yaml:"seed"`
}

// DefaultEngineConfig returns a config suitable for small local runs.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxSequenceLength:    4096,
		MaxRunningRequests:   8,
		PrefixCacheTokens:    16384,
		PrefixCacheBlockSize: 16,
		NumModels:            1,
	}
}

// Validate checks the config for internally inconsistent values.
func (c *EngineConfig) Validate() error {
	if c.MaxSequenceLength <= 0 {
		return fmt.Errorf("max_sequence_length must be positive, got %d", c.MaxSequenceLength)
	}
	if c.MaxRunningRequests <= 0 {
		return fmt.Errorf("max_running_requests must be positive, got %d", c.MaxRunningRequests)
	}
	if c.PrefixCacheBlockSize <= 0 {
		return fmt.Errorf("prefix_cache_block_size must be positive, got %d", c.PrefixCacheBlockSize)
	}
	if c.NumModels <= 0 {
		return fmt.Errorf("num_models must be positive, got %d", c.NumModels)
	}
	return nil
}

// LoadEngineConfig reads an EngineConfig from a YAML file, applying
// defaults for absent fields.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid engine config %s: %w", path, err)
	}
	return cfg, nil
}
