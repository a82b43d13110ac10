package config

import (
	"testing"

	"github.com/lodestone-labs/lodestone/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	validateConfig(t, cfg, "YAML")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}

	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to load TOML config: %v", err)
	}

	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to auto-load YAML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected YAML")
}

func TestLoadFromFile_JSON(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to auto-load JSON config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected JSON")
}

func TestLoadFromFile_TOML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to auto-load TOML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected TOML")
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.Contains(t, err.Error(), "unsupported config file format")
}

// validateConfig checks that the loaded config has expected values
func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	// Test source config
	require.NotEmpty(t, cfg.Source.URL, "[%s] source.url should not be empty", format)
	require.NotZero(t, cfg.Source.PollInterval.Duration, "[%s] source.poll_interval should have default applied", format)

	// Test runtime defaults applied
	require.NotZero(t, cfg.Runtime.MaxMemoryPages, "[%s] runtime.max_memory_pages should not be zero", format)
	require.NotZero(t, cfg.Runtime.CallTimeout.Duration, "[%s] runtime.call_timeout should not be zero", format)
	require.NotZero(t, cfg.Runtime.MaxStagedMB, "[%s] runtime.max_staged_mb should not be zero", format)

	// Test supervisor defaults applied
	require.NotZero(t, cfg.Supervisor.MaxConsecutiveFailures,
		"[%s] supervisor.max_consecutive_failures should not be zero", format)

	// Test database config
	require.NotEmpty(t, cfg.Database.Path, "[%s] database.path should not be empty", format)
	require.NotEmpty(t, cfg.Database.JournalMode, "[%s] database.journal_mode should have default value", format)
	require.NotEmpty(t, cfg.Database.Synchronous, "[%s] database.synchronous should have default value", format)

	// Test indexers
	require.NotEmpty(t, cfg.Indexers, "[%s] there should be at least one indexer configured", format)

	for i, indexer := range cfg.Indexers {
		require.NotEmpty(t, indexer.Namespace, "[%s] indexer[%d].namespace should not be empty", format, i)
		require.NotEmpty(t, indexer.Name, "[%s] indexer[%d].name should not be empty", format, i)
		require.NotEmpty(t, indexer.ModulePath, "[%s] indexer[%d].module_path should not be empty", format, i)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &config.Config{
		Source: config.SourceConfig{
			URL: "http://localhost:4000",
		},
		Database: config.DatabaseConfig{
			Path: "./test.db",
		},
		Indexers: []config.IndexerConfig{
			{
				Namespace:  "test",
				Name:       "counter",
				ModulePath: "./counter.wasm",
			},
		},
	}

	// Apply defaults
	cfg.ApplyDefaults()

	// Check defaults were applied
	if cfg.Runtime.MaxMemoryPages != 256 {
		t.Errorf("expected default max_memory_pages=256, got %d", cfg.Runtime.MaxMemoryPages)
	}

	if cfg.Runtime.MaxStagedMB != 5 {
		t.Errorf("expected default max_staged_mb=5, got %d", cfg.Runtime.MaxStagedMB)
	}

	if cfg.Supervisor.MaxConsecutiveFailures != 10 {
		t.Errorf("expected default max_consecutive_failures=10, got %d", cfg.Supervisor.MaxConsecutiveFailures)
	}

	if cfg.Database.JournalMode != "WAL" {
		t.Errorf("expected default journal_mode=WAL, got %s", cfg.Database.JournalMode)
	}

	if cfg.Database.Synchronous != "NORMAL" {
		t.Errorf("expected default synchronous=NORMAL, got %s", cfg.Database.Synchronous)
	}

	if cfg.Database.BusyTimeout != 5000 {
		t.Errorf("expected default busy_timeout=5000, got %d", cfg.Database.BusyTimeout)
	}

	if cfg.Database.MaxOpenConnections != 25 {
		t.Errorf("expected default max_open_connections=25, got %d", cfg.Database.MaxOpenConnections)
	}

	if cfg.Retry == nil {
		t.Fatal("expected retry config to be populated with defaults")
	}

	if cfg.Retry.BackoffMultiplier != 2.0 {
		t.Errorf("expected default backoff_multiplier=2.0, got %f", cfg.Retry.BackoffMultiplier)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: &config.Config{
				Source: config.SourceConfig{
					URL: "http://localhost:4000",
				},
				Database: config.DatabaseConfig{
					Path: "./test.db",
				},
				Indexers: []config.IndexerConfig{
					{
						Namespace:  "test",
						Name:       "counter",
						ModulePath: "./counter.wasm",
					},
				},
			},
			wantErr: false,
		},
		{
			name: "missing source url",
			cfg: &config.Config{
				Database: config.DatabaseConfig{
					Path: "./test.db",
				},
				Indexers: []config.IndexerConfig{
					{
						Namespace:  "test",
						Name:       "counter",
						ModulePath: "./counter.wasm",
					},
				},
			},
			wantErr: true,
		},
		{
			name: "missing database path",
			cfg: &config.Config{
				Source: config.SourceConfig{
					URL: "http://localhost:4000",
				},
				Indexers: []config.IndexerConfig{
					{
						Namespace:  "test",
						Name:       "counter",
						ModulePath: "./counter.wasm",
					},
				},
			},
			wantErr: true,
		},
		{
			name: "duplicate indexer id",
			cfg: &config.Config{
				Source: config.SourceConfig{
					URL: "http://localhost:4000",
				},
				Database: config.DatabaseConfig{
					Path: "./test.db",
				},
				Indexers: []config.IndexerConfig{
					{
						Namespace:  "test",
						Name:       "counter",
						ModulePath: "./counter.wasm",
					},
					{
						Namespace:  "test",
						Name:       "counter",
						ModulePath: "./other.wasm",
					},
				},
			},
			wantErr: true,
		},
		{
			name: "indexer missing module path",
			cfg: &config.Config{
				Source: config.SourceConfig{
					URL: "http://localhost:4000",
				},
				Database: config.DatabaseConfig{
					Path: "./test.db",
				},
				Indexers: []config.IndexerConfig{
					{
						Namespace: "test",
						Name:      "counter",
					},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid logging level",
			cfg: &config.Config{
				Source: config.SourceConfig{
					URL: "http://localhost:4000",
				},
				Database: config.DatabaseConfig{
					Path: "./test.db",
				},
				Logging: &config.LoggingConfig{
					DefaultLevel: "verbose",
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
