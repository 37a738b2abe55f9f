// Package config provides configuration for sensorsplit runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "SENSORSPLIT_"

// Config holds the configuration of one run.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Run            RunConfig            `json:"run" yaml:"run"`
	Protection     ProtectionConfig     `json:"protection" yaml:"protection"`
	Measurement    MeasurementConfig    `json:"measurement" yaml:"measurement"`
	Classification ClassificationConfig `json:"classification" yaml:"classification"`
	Storage        StorageConfig        `json:"storage" yaml:"storage"`
	Ledger         LedgerConfig         `json:"ledger" yaml:"ledger"`
	Redis          RedisConfig          `json:"redis" yaml:"redis"`
	Telemetry      TelemetryConfig      `json:"telemetry" yaml:"telemetry"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging"`
}

// RunConfig controls the timed loop.
type RunConfig struct {
	// Duration bounds the loop; an iteration in progress completes
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Tenants is the number of tenants, named "1".."N"
	Tenants int `json:"tenants" yaml:"tenants"`

	// RecordsPerIteration is the batch size per tenant per iteration
	RecordsPerIteration int `json:"records_per_iteration" yaml:"records_per_iteration"`

	// Pace is the delay after each tenant within an iteration
	Pace time.Duration `json:"pace" yaml:"pace"`

	// ParallelTenants processes the tenants of an iteration concurrently
	ParallelTenants bool `json:"parallel_tenants" yaml:"parallel_tenants"`

	// Seed fixes the generator; 0 seeds from the clock
	Seed uint64 `json:"seed" yaml:"seed"`

	// WorkDir holds per-run artifacts
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Progress draws a progress bar on stderr
	Progress bool `json:"progress" yaml:"progress"`
}

// ProtectionConfig holds the shared secret.
type ProtectionConfig struct {
	Secret string `json:"secret" yaml:"secret"`

	// Cost is log2 of the scrypt N parameter (10–20, default 15)
	Cost int `json:"cost" yaml:"cost"`
}

// MeasurementConfig selects the memory sampler and baseline offsets.
type MeasurementConfig struct {
	// Strategy is rss or heap
	Strategy string `json:"strategy" yaml:"strategy"`

	RawBaselineOffset       int64 `json:"raw_baseline_offset" yaml:"raw_baseline_offset"`
	FrameworkBaselineOffset int64 `json:"framework_baseline_offset" yaml:"framework_baseline_offset"`
}

// ClassificationConfig controls field handling.
type ClassificationConfig struct {
	// Unclassified is drop or reject
	Unclassified string `json:"unclassified" yaml:"unclassified"`

	// UtilityField is averaged per group tag
	UtilityField string `json:"utility_field" yaml:"utility_field"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// PathStyle forces path-style addressing
	PathStyle bool `json:"path_style" yaml:"path_style"`
}

// LedgerConfig controls the run history database.
type LedgerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// RedisConfig controls summary publication.
type RedisConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Addr    string        `json:"addr" yaml:"addr"`
	Key     string        `json:"key" yaml:"key"`
	Channel string        `json:"channel" yaml:"channel"`
	TTL     time.Duration `json:"ttl" yaml:"ttl"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	Endpoint      string  `json:"endpoint" yaml:"endpoint"`
	ServiceName   string  `json:"service_name" yaml:"service_name"`
	Insecure      bool    `json:"insecure" yaml:"insecure"`
	SamplingRatio float64 `json:"sampling_ratio" yaml:"sampling_ratio"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local runs.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/sensorsplit",
		Run: RunConfig{
			Duration:            30 * time.Second,
			Tenants:             3,
			RecordsPerIteration: 10000,
			Pace:                100 * time.Millisecond,
			Progress:            true,
		},
		Protection: ProtectionConfig{
			Cost: 15,
		},
		Measurement: MeasurementConfig{
			Strategy:                "rss",
			RawBaselineOffset:       45_000_000,
			FrameworkBaselineOffset: 37_500_000,
		},
		Classification: ClassificationConfig{
			Unclassified: "drop",
			UtilityField: "NS_TEMPERATURE",
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Ledger: LedgerConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			Key:  "sensorsplit:metrics",
			TTL:  24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			ServiceName:   "sensorsplit",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/sensorsplit"
	}
	if c.Run.WorkDir == "" {
		c.Run.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.DataDir, "ledger.db")
	}
}

// MetricsPath returns the local path of the run summary.
func (c *Config) MetricsPath() string {
	return filepath.Join(c.Run.WorkDir, "metrics.json")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return perrors.NewConfigError("data_dir is required")
	}
	if c.Run.Duration <= 0 {
		return perrors.NewConfigError(fmt.Sprintf("run.duration must be positive, got %s", c.Run.Duration))
	}
	if c.Run.Tenants < 1 {
		return perrors.NewConfigError(fmt.Sprintf("run.tenants must be at least 1, got %d", c.Run.Tenants))
	}
	if c.Run.RecordsPerIteration < 0 {
		return perrors.NewConfigError(fmt.Sprintf("run.records_per_iteration must not be negative, got %d", c.Run.RecordsPerIteration))
	}
	if c.Run.Pace < 0 {
		return perrors.NewConfigError("run.pace must not be negative")
	}

	if c.Protection.Secret == "" {
		return perrors.NewConfigError("protection.secret is required")
	}
	if c.Protection.Cost < 10 || c.Protection.Cost > 20 {
		return perrors.NewConfigError(fmt.Sprintf("protection.cost must be between 10 and 20, got %d", c.Protection.Cost))
	}

	switch c.Measurement.Strategy {
	case "rss", "heap":
	default:
		return perrors.NewConfigError(fmt.Sprintf("invalid measurement.strategy: %s (must be rss or heap)", c.Measurement.Strategy))
	}
	if c.Measurement.RawBaselineOffset < 0 || c.Measurement.FrameworkBaselineOffset < 0 {
		return perrors.NewConfigError("measurement baseline offsets must not be negative")
	}

	switch c.Classification.Unclassified {
	case "drop", "reject":
	default:
		return perrors.NewConfigError(fmt.Sprintf("invalid classification.unclassified: %s (must be drop or reject)", c.Classification.Unclassified))
	}
	if !strings.HasPrefix(c.Classification.UtilityField, "NS_") {
		return perrors.NewConfigError(fmt.Sprintf("classification.utility_field must be a non-sensitive field, got %q", c.Classification.UtilityField))
	}

	switch c.Storage.Type {
	case "none", "local", "s3":
	default:
		return perrors.NewConfigError(fmt.Sprintf("invalid storage type: %s (must be none, local or s3)", c.Storage.Type))
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return perrors.NewConfigError("s3.bucket is required when storage type is s3")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return perrors.NewConfigError("redis.addr is required when redis is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return perrors.NewConfigError("telemetry.endpoint is required when telemetry is enabled")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return perrors.NewConfigError(fmt.Sprintf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}

	return nil
}

// TenantIDs returns the tenant names "1".."N".
func (c *Config) TenantIDs() []string {
	ids := make([]string, c.Run.Tenants)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SENSORSPLIT_ prefix.
func LoadFromEnv(cfg *Config) {
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	if v := env("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Run configuration
	if v := env("DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Run.Duration = d
		}
	}
	if v := env("TENANTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Run.Tenants)
	}
	if v := env("RECORDS_PER_ITERATION"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Run.RecordsPerIteration)
	}
	if v := env("PACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Run.Pace = d
		}
	}
	if v := env("PARALLEL_TENANTS"); v != "" {
		cfg.Run.ParallelTenants = v == "true" || v == "1"
	}
	if v := env("SEED"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Run.Seed)
	}
	if v := env("WORK_DIR"); v != "" {
		cfg.Run.WorkDir = v
	}

	// Protection configuration
	if v := env("SECRET"); v != "" {
		cfg.Protection.Secret = v
	}
	if v := env("KDF_COST"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Protection.Cost)
	}

	// Measurement configuration
	if v := env("MEASUREMENT_STRATEGY"); v != "" {
		cfg.Measurement.Strategy = v
	}
	if v := env("RAW_BASELINE_OFFSET"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Measurement.RawBaselineOffset)
	}
	if v := env("FRAMEWORK_BASELINE_OFFSET"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Measurement.FrameworkBaselineOffset)
	}

	// Classification configuration
	if v := env("UNCLASSIFIED"); v != "" {
		cfg.Classification.Unclassified = v
	}
	if v := env("UTILITY_FIELD"); v != "" {
		cfg.Classification.UtilityField = v
	}

	// Storage configuration
	if v := env("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := env("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := env("STORAGE_PREFIX"); v != "" {
		cfg.Storage.Prefix = v
	}
	if v := env("S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := env("S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := env("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := env("S3_PATH_STYLE"); v != "" {
		cfg.Storage.S3.PathStyle = v == "true" || v == "1"
	}

	// Ledger configuration
	if v := env("LEDGER_ENABLED"); v != "" {
		cfg.Ledger.Enabled = v == "true" || v == "1"
	}
	if v := env("LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}

	// Redis configuration
	if v := env("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true" || v == "1"
	}
	if v := env("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := env("REDIS_KEY"); v != "" {
		cfg.Redis.Key = v
	}

	// Telemetry configuration
	if v := env("OTEL_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := env("OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}

	// Logging configuration
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Run.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Ledger.Enabled {
		dirs = append(dirs, filepath.Dir(c.Ledger.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
