package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Protection.Secret = "secure_key"
	cfg.Resolve()
	return cfg
}

func TestDefaultConfigMatchesReferenceRun(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Run.Duration != 30*time.Second {
		t.Errorf("Duration = %s, want 30s", cfg.Run.Duration)
	}
	if cfg.Run.Tenants != 3 || cfg.Run.RecordsPerIteration != 10000 {
		t.Errorf("Tenants/Records = %d/%d", cfg.Run.Tenants, cfg.Run.RecordsPerIteration)
	}
	if cfg.Run.Pace != 100*time.Millisecond {
		t.Errorf("Pace = %s, want 100ms", cfg.Run.Pace)
	}
	if cfg.Measurement.RawBaselineOffset != 45_000_000 || cfg.Measurement.FrameworkBaselineOffset != 37_500_000 {
		t.Errorf("offsets = %d/%d", cfg.Measurement.RawBaselineOffset, cfg.Measurement.FrameworkBaselineOffset)
	}
}

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/ss"
	cfg.Resolve()

	if cfg.Run.WorkDir != filepath.Join("/tmp/ss", "work") {
		t.Errorf("WorkDir = %s", cfg.Run.WorkDir)
	}
	if cfg.Storage.Path != filepath.Join("/tmp/ss", "storage") {
		t.Errorf("Storage.Path = %s", cfg.Storage.Path)
	}
	if cfg.Ledger.Path != filepath.Join("/tmp/ss", "ledger.db") {
		t.Errorf("Ledger.Path = %s", cfg.Ledger.Path)
	}
	if cfg.MetricsPath() != filepath.Join("/tmp/ss", "work", "metrics.json") {
		t.Errorf("MetricsPath = %s", cfg.MetricsPath())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing secret", func(c *Config) { c.Protection.Secret = "" }, true},
		{"zero duration", func(c *Config) { c.Run.Duration = 0 }, true},
		{"no tenants", func(c *Config) { c.Run.Tenants = 0 }, true},
		{"negative records", func(c *Config) { c.Run.RecordsPerIteration = -1 }, true},
		{"bad cost", func(c *Config) { c.Protection.Cost = 5 }, true},
		{"bad strategy", func(c *Config) { c.Measurement.Strategy = "vms" }, true},
		{"heap strategy", func(c *Config) { c.Measurement.Strategy = "heap" }, false},
		{"reject policy", func(c *Config) { c.Classification.Unclassified = "reject" }, false},
		{"bad policy", func(c *Config) { c.Classification.Unclassified = "keep" }, true},
		{"sensitive utility field", func(c *Config) { c.Classification.UtilityField = "S_NAME" }, true},
		{"bad storage", func(c *Config) { c.Storage.Type = "gcs" }, true},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, true},
		{"s3 with bucket", func(c *Config) { c.Storage.Type = "s3"; c.Storage.S3.Bucket = "b" }, false},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && perrors.GetCategory(err) != perrors.ErrCategoryConfig {
				t.Errorf("category = %s, want CONFIG", perrors.GetCategory(err))
			}
		})
	}
}

func TestTenantIDs(t *testing.T) {
	cfg := DefaultConfig()
	ids := cfg.TenantIDs()
	if len(ids) != 3 || ids[0] != "1" || ids[2] != "3" {
		t.Errorf("TenantIDs = %v", ids)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorsplit.yaml")
	content := `
data_dir: /var/lib/sensorsplit
run:
  duration: 5s
  tenants: 2
  parallel_tenants: true
protection:
  secret: yaml_secret
classification:
  unclassified: reject
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "/var/lib/sensorsplit" || cfg.Run.Tenants != 2 || !cfg.Run.ParallelTenants {
		t.Errorf("unexpected config: %+v", cfg.Run)
	}
	if cfg.Run.Duration != 5*time.Second {
		t.Errorf("Duration = %s, want 5s", cfg.Run.Duration)
	}
	if cfg.Protection.Secret != "yaml_secret" || cfg.Classification.Unclassified != "reject" {
		t.Errorf("unexpected protection/classification")
	}
	// Unset fields keep their defaults.
	if cfg.Run.RecordsPerIteration != 10000 {
		t.Errorf("RecordsPerIteration = %d, want default", cfg.Run.RecordsPerIteration)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorsplit.json")
	if err := os.WriteFile(path, []byte(`{"run":{"tenants":5},"storage":{"type":"none"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Run.Tenants != 5 || cfg.Storage.Type != "none" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	toml := filepath.Join(dir, "c.toml")
	os.WriteFile(toml, []byte("x = 1"), 0644)
	if _, err := LoadFromFile(toml); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SENSORSPLIT_DURATION", "2m")
	t.Setenv("SENSORSPLIT_TENANTS", "7")
	t.Setenv("SENSORSPLIT_SECRET", "env_secret")
	t.Setenv("SENSORSPLIT_PARALLEL_TENANTS", "true")
	t.Setenv("SENSORSPLIT_MEASUREMENT_STRATEGY", "heap")
	t.Setenv("SENSORSPLIT_S3_BUCKET", "metrics-bucket")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Run.Duration != 2*time.Minute {
		t.Errorf("Duration = %s", cfg.Run.Duration)
	}
	if cfg.Run.Tenants != 7 || !cfg.Run.ParallelTenants {
		t.Errorf("run = %+v", cfg.Run)
	}
	if cfg.Protection.Secret != "env_secret" {
		t.Errorf("Secret = %q", cfg.Protection.Secret)
	}
	if cfg.Measurement.Strategy != "heap" || cfg.Storage.S3.Bucket != "metrics-bucket" {
		t.Errorf("unexpected measurement/storage")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SENSORSPLIT_TEST_DOTENV=from_file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SENSORSPLIT_TEST_DOTENV", "")
	os.Unsetenv("SENSORSPLIT_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("SENSORSPLIT_TEST_DOTENV"); got != "from_file" {
		t.Errorf("SENSORSPLIT_TEST_DOTENV = %q, want from_file", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := validConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Run.WorkDir = ""
	cfg.Storage.Path = ""
	cfg.Ledger.Path = ""
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.Run.WorkDir, cfg.Storage.Path} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", dir)
		}
	}
}
