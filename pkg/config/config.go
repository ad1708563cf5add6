// Package config handles brainrt configuration.
//
// Configuration starts from DefaultConfig, is optionally overlaid with a YAML
// file, and is finally overridden by BRAINRT_* environment variables. Call
// Validate before use.
//
// Example Usage:
//
//	cfg, err := config.LoadFile("brainrt.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//   - BRAINRT_INDEX_THRESHOLD=8 (negative disables meaning indexes)
//   - BRAINRT_POOL_ENABLED=true
//   - BRAINRT_POOL_MAX_SIZE=4096
//   - BRAINRT_WORKERS=4
//   - BRAINRT_SOLVE_TIMEOUT=30s
//   - BRAINRT_DATA_DIR=./data
//   - BRAINRT_IN_MEMORY=false
//   - BRAINRT_SYNC_WRITES=false
//   - BRAINRT_LOW_MEMORY=false
//   - BRAINRT_LOG_LEVEL=info
//   - BRAINRT_LOG_FORMAT=console
//   - BRAINRT_LOG_OUTPUT=stderr
//   - BRAINRT_METRICS_ENABLED=true
//   - BRAINRT_METRICS_NAMESPACE=brainrt
//   - BRAINRT_MEMORY_LIMIT=2GB
//   - BRAINRT_GC_PERCENT=100
//
// Configuration Priority:
//  1. Environment variables (highest)
//  2. YAML file
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/brainrt/pkg/pool"
)

// Config holds all brainrt configuration.
type Config struct {
	Brain     BrainConfig     `yaml:"brain"`
	Pool      pool.Config     `yaml:"pool"`
	Processor ProcessorConfig `yaml:"processor"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// BrainConfig tunes the neuron registry.
type BrainConfig struct {
	// IndexThreshold is the link-list length at which a meaning index is
	// built. Zero selects the default, negative disables indexing.
	IndexThreshold int `yaml:"index_threshold"`
}

// ProcessorConfig tunes instruction execution.
type ProcessorConfig struct {
	// Workers is the number of processors a group runs concurrently.
	Workers int `yaml:"workers" validate:"gte=1,lte=1024"`

	// SolveTimeout bounds one Solve call. Zero means no limit.
	SolveTimeout time.Duration `yaml:"solve_timeout" validate:"gte=0"`
}

// StorageConfig configures the badger-backed store.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
	LowMemory  bool   `yaml:"low_memory"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format is json or console.
	Format string `yaml:"format" validate:"oneof=json console"`

	// Output lists zap output paths ("stdout", "stderr" or files).
	Output []string `yaml:"output" validate:"min=1,dive,required"`
}

// MetricsConfig configures Prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
}

// RuntimeConfig holds Go runtime memory settings.
type RuntimeConfig struct {
	// MemoryLimit is a soft limit such as "512MB" or "2GB". Empty or
	// "unlimited" leaves the runtime default.
	MemoryLimit string `yaml:"memory_limit"`

	// GCPercent is passed to debug.SetGCPercent. 100 is the Go default.
	GCPercent int `yaml:"gc_percent" validate:"gte=-1"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Brain: BrainConfig{
			IndexThreshold: 8,
		},
		Pool: pool.DefaultConfig(),
		Processor: ProcessorConfig{
			Workers:      4,
			SolveTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: []string{"stderr"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "brainrt",
		},
		Runtime: RuntimeConfig{
			GCPercent: 100,
		},
	}
}

// LoadFromEnv returns the defaults overridden by BRAINRT_* variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults and then applies the
// environment. A missing file is an error; an empty file yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv() {
	c.Brain.IndexThreshold = getEnvInt("BRAINRT_INDEX_THRESHOLD", c.Brain.IndexThreshold)

	c.Pool.Enabled = getEnvBool("BRAINRT_POOL_ENABLED", c.Pool.Enabled)
	c.Pool.MaxSize = getEnvInt("BRAINRT_POOL_MAX_SIZE", c.Pool.MaxSize)

	c.Processor.Workers = getEnvInt("BRAINRT_WORKERS", c.Processor.Workers)
	c.Processor.SolveTimeout = getEnvDuration("BRAINRT_SOLVE_TIMEOUT", c.Processor.SolveTimeout)

	c.Storage.DataDir = getEnv("BRAINRT_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("BRAINRT_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("BRAINRT_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.LowMemory = getEnvBool("BRAINRT_LOW_MEMORY", c.Storage.LowMemory)

	c.Logging.Level = strings.ToLower(getEnv("BRAINRT_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("BRAINRT_LOG_FORMAT", c.Logging.Format))
	c.Logging.Output = getEnvStringSlice("BRAINRT_LOG_OUTPUT", c.Logging.Output)

	c.Metrics.Enabled = getEnvBool("BRAINRT_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Namespace = getEnv("BRAINRT_METRICS_NAMESPACE", c.Metrics.Namespace)

	c.Runtime.MemoryLimit = getEnv("BRAINRT_MEMORY_LIMIT", c.Runtime.MemoryLimit)
	c.Runtime.GCPercent = getEnvInt("BRAINRT_GC_PERCENT", c.Runtime.GCPercent)
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %v (rule %s)", fe.Namespace(), fe.Value(), fe.Tag())
		}
		return err
	}

	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir required unless in_memory is set")
	}

	if c.Runtime.MemoryLimit != "" && parseMemorySize(c.Runtime.MemoryLimit) < 0 {
		return fmt.Errorf("invalid memory limit: %s", c.Runtime.MemoryLimit)
	}

	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	dataDir := c.Storage.DataDir
	if c.Storage.InMemory {
		dataDir = "<memory>"
	}
	return fmt.Sprintf(
		"Config{IndexThreshold: %d, Workers: %d, Pool: %v/%d, DataDir: %s, Log: %s/%s, Metrics: %v}",
		c.Brain.IndexThreshold,
		c.Processor.Workers,
		c.Pool.Enabled, c.Pool.MaxSize,
		dataDir,
		c.Logging.Level, c.Logging.Format,
		c.Metrics.Enabled,
	)
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *RuntimeConfig) ApplyRuntimeMemory() {
	if limit := parseMemorySize(c.MemoryLimit); limit > 0 {
		debug.SetMemoryLimit(limit)
	}
	if c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}
	return val * multiplier
}
