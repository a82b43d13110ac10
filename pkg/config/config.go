package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/lodestone-labs/lodestone/internal/common"
	"github.com/lodestone-labs/lodestone/internal/logger"
	sourcetypes "github.com/lodestone-labs/lodestone/internal/types"
)

// Config is the complete configuration for the Lodestone engine.
type Config struct {
	// Source configures the block source adapter
	Source SourceConfig `yaml:"source" json:"source" toml:"source"`

	// Runtime configures the module host resource limits
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime" toml:"runtime"`

	// Supervisor configures indexer lifecycle management
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor" toml:"supervisor"`

	// Retry contains backoff configuration for per-block retries
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// Database contains the entity store configuration
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database"`

	// Indexers contains the manifests of the indexers to run
	Indexers []IndexerConfig `yaml:"indexers" json:"indexers" toml:"indexers"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the operator status API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// SourceConfig configures the connection to the block source.
type SourceConfig struct {
	// URL is the block source endpoint
	URL string `yaml:"url" json:"url" toml:"url"`

	// PollInterval is how long to wait before re-requesting a height
	// the source has not produced yet
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// Finality is the block tag requested from the source: finalized,
	// safe or latest
	Finality string `yaml:"finality" json:"finality" toml:"finality"`
}

// ApplyDefaults sets default values for optional source configuration fields.
func (s *SourceConfig) ApplyDefaults() {
	if s.PollInterval.Duration == 0 {
		s.PollInterval = common.NewDuration(1 * time.Second)
	}
	if s.Finality == "" {
		s.Finality = sourcetypes.FinalityFinalized.String()
	}
}

// RuntimeConfig configures the WASM module host limits. Every limit is
// enforced per block execution; exceeding any of them aborts only the
// current block.
type RuntimeConfig struct {
	// MaxMemoryPages caps the guest linear memory, in 64KiB pages
	MaxMemoryPages uint32 `yaml:"max_memory_pages" json:"max_memory_pages" toml:"max_memory_pages"`

	// CallTimeout bounds one block-handler invocation
	CallTimeout common.Duration `yaml:"call_timeout" json:"call_timeout" toml:"call_timeout"`

	// MaxStagedMB caps the total bytes of entities a module may stage
	// during one block, in megabytes
	MaxStagedMB uint64 `yaml:"max_staged_mb" json:"max_staged_mb" toml:"max_staged_mb"`

	// MaxInstances caps the number of concurrently live module
	// instances across all indexers
	MaxInstances int `yaml:"max_instances" json:"max_instances" toml:"max_instances"`
}

// ApplyDefaults sets default values for optional runtime configuration fields.
func (r *RuntimeConfig) ApplyDefaults() {
	if r.MaxMemoryPages == 0 {
		r.MaxMemoryPages = 256 // 16MiB
	}
	if r.CallTimeout.Duration == 0 {
		r.CallTimeout = common.NewDuration(30 * time.Second)
	}
	if r.MaxStagedMB == 0 {
		r.MaxStagedMB = 5
	}
	if r.MaxInstances == 0 {
		r.MaxInstances = 8
	}
}

// MaxStagedBytes returns the staged-entity byte budget.
func (r *RuntimeConfig) MaxStagedBytes() uint64 {
	return common.MBToBytes(r.MaxStagedMB)
}

// SupervisorConfig configures indexer lifecycle management.
type SupervisorConfig struct {
	// MaxConsecutiveFailures is the number of consecutive per-block
	// failures after which an indexer transitions to Failed
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" json:"max_consecutive_failures" toml:"max_consecutive_failures"`

	// StopIdleIndexers enables automatic eviction of indexers that
	// have not committed a block for IdleTimeout
	StopIdleIndexers bool `yaml:"stop_idle_indexers" json:"stop_idle_indexers" toml:"stop_idle_indexers"`

	// IdleTimeout is the commit-inactivity duration after which an
	// idle indexer is stopped, when StopIdleIndexers is set
	IdleTimeout common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
}

// ApplyDefaults sets default values for optional supervisor configuration fields.
func (s *SupervisorConfig) ApplyDefaults() {
	if s.MaxConsecutiveFailures == 0 {
		s.MaxConsecutiveFailures = 10
	}
	if s.IdleTimeout.Duration == 0 {
		s.IdleTimeout = common.NewDuration(10 * time.Minute)
	}
}

// RetryConfig represents per-block retry configuration with exponential backoff.
type RetryConfig struct {
	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DefaultRetryConfig returns the retry configuration used when none is given.
func DefaultRetryConfig() *RetryConfig {
	r := &RetryConfig{}
	r.ApplyDefaults()
	return r
}

// DatabaseConfig represents entity store configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)

	if d.Maintenance != nil {
		d.Maintenance.ApplyDefaults()
	}
}

// MaintenanceConfig configures background database maintenance.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch d.JournalMode {
	case "", "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY":
	default:
		return fmt.Errorf("database.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	switch d.Synchronous {
	case "", "FULL", "NORMAL", "OFF":
	default:
		return fmt.Errorf("database.synchronous must be one of: FULL, NORMAL, OFF")
	}
	if d.Maintenance != nil {
		if err := d.Maintenance.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components: supervisor, ingest, module-host, store,
	// block-source, api
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, validLevel := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !validLevel {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}
	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" || m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the operator status HTTP API.
type APIConfig struct {
	// Enabled controls whether the status API is served
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// ReadTimeout bounds request reads
	ReadTimeout common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`

	// WriteTimeout bounds response writes
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`

	// IdleTimeout bounds keep-alive connections
	IdleTimeout common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS configures cross-origin access to the API
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig configures cross-origin resource sharing for the API.
type CORSConfig struct {
	// Enabled turns on CORS headers
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// AllowedOrigins lists origins allowed to call the API; "*" allows any
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.CORS.Enabled && len(a.CORS.AllowedOrigins) == 0 {
		a.CORS.AllowedOrigins = []string{"*"}
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(10 * time.Second)
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(30 * time.Second)
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second)
	}
}

// IndexerConfig declares one indexer manifest in the configuration file.
type IndexerConfig struct {
	// Namespace groups related indexers; (namespace, name) is globally unique
	Namespace string `yaml:"namespace" json:"namespace" toml:"namespace"`

	// Name identifies the indexer within its namespace
	Name string `yaml:"name" json:"name" toml:"name"`

	// ModulePath is the path to the compiled WASM module
	ModulePath string `yaml:"module_path" json:"module_path" toml:"module_path"`

	// SchemaVersion references the target schema version
	SchemaVersion string `yaml:"schema_version" json:"schema_version" toml:"schema_version"`

	// StartBlock is the height indexing begins at when no checkpoint exists
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// Contracts is an optional allow-list of event source contract ids
	// (hex encoded); events from other contracts never reach the module
	Contracts []string `yaml:"contracts,omitempty" json:"contracts,omitempty" toml:"contracts,omitempty"`

	// Resumable makes the indexer resume from its checkpoint on restart
	Resumable bool `yaml:"resumable" json:"resumable" toml:"resumable"`
}

// Validate checks if the indexer configuration is valid.
func (i *IndexerConfig) Validate() error {
	if i.Namespace == "" {
		return fmt.Errorf("indexer.namespace is required")
	}
	if i.Name == "" {
		return fmt.Errorf("indexer(%s).name is required", i.Namespace)
	}
	if i.ModulePath == "" {
		return fmt.Errorf("indexer(%s.%s).module_path is required", i.Namespace, i.Name)
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Source.ApplyDefaults()
	c.Runtime.ApplyDefaults()
	c.Supervisor.ApplyDefaults()
	c.Database.ApplyDefaults()

	if c.Retry == nil {
		c.Retry = &RetryConfig{}
	}
	c.Retry.ApplyDefaults()

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if _, err := sourcetypes.ParseBlockFinality(c.Source.Finality); err != nil {
		return fmt.Errorf("source.finality: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Indexers))
	for i := range c.Indexers {
		idx := &c.Indexers[i]
		if err := idx.Validate(); err != nil {
			return err
		}
		id := idx.Namespace + "." + idx.Name
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate indexer id %s", id)
		}
		seen[id] = struct{}{}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return err
		}
	}

	return nil
}
