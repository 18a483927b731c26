package config

import (
	"fmt"
	"slices"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethstatelabs/statewatch/internal/common"
	"github.com/ethstatelabs/statewatch/internal/logger"
)

// FilterPolicy controls how raw logs are filtered when fetching a block.
type FilterPolicy string

const (
	// FilterByAddress restricts the log query to the watched contract addresses.
	FilterByAddress FilterPolicy = "address"
	// FilterByTopic restricts the log query to the registered event signatures.
	FilterByTopic FilterPolicy = "topic"
	// FilterNone fetches every log in the block and relies on the parser to skip.
	FilterNone FilterPolicy = "none"
)

// Config represents the complete configuration for statewatch.
type Config struct {
	// RPC contains the upstream node configuration
	RPC RPCConfig `yaml:"rpc" json:"rpc" toml:"rpc"`

	// DB contains database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Contracts contains the watched contracts, one per registered kind
	Contracts []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`

	// Ingest contains block ingestion settings
	Ingest IngestConfig `yaml:"ingest" json:"ingest" toml:"ingest"`

	// Checkpoint contains state checkpoint/diff hook settings
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint" toml:"checkpoint"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// RPCConfig represents the configuration of the upstream Ethereum node(s).
type RPCConfig struct {
	// URL is the primary Ethereum RPC endpoint
	URL string `yaml:"url" json:"url" toml:"url"`

	// FallbackURLs are tried in order when the primary endpoint fails
	// with a transient error
	FallbackURLs []string `yaml:"fallback_urls,omitempty" json:"fallback_urls,omitempty" toml:"fallback_urls,omitempty"`

	// Timeout is the per-call timeout for upstream requests
	Timeout common.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" toml:"timeout,omitempty"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the SQLite busy timeout in milliseconds
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the SQLite cache size in pages (negative = KB)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// EnableForeignKeys enables SQLite foreign key enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`

	// MaxOpenConnections limits the connection pool size
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections limits idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
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
		d.BusyTimeout = 30000
	}
	if d.CacheSize == 0 {
		d.CacheSize = -2000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 10
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// ContractConfig represents a single watched contract.
type ContractConfig struct {
	// Kind is the identifier of the contract's ABI/behavior profile
	Kind string `yaml:"kind" json:"kind" toml:"kind"`

	// Address is the contract address to watch
	Address string `yaml:"address" json:"address" toml:"address"`

	// ABIFile is the path to the contract's ABI JSON definition
	ABIFile string `yaml:"abi_file" json:"abi_file" toml:"abi_file"`
}

// EthAddress parses the configured address.
func (c *ContractConfig) EthAddress() ethcommon.Address {
	return ethcommon.HexToAddress(c.Address)
}

// IngestConfig represents block ingestion settings.
type IngestConfig struct {
	// Filter controls how raw logs are filtered when fetching a block:
	// "address" (default), "topic" or "none"
	Filter FilterPolicy `yaml:"filter" json:"filter" toml:"filter"`

	// Concurrency bounds the number of blocks ingested in parallel when
	// a range of blocks is handed to the pipeline
	Concurrency int `yaml:"concurrency" json:"concurrency" toml:"concurrency"`
}

// ApplyDefaults sets default values for optional ingestion configuration fields.
func (i *IngestConfig) ApplyDefaults() {
	if i.Filter == "" {
		i.Filter = FilterByAddress
	}
	if i.Concurrency == 0 {
		i.Concurrency = 4
	}
}

// CheckpointConfig represents checkpoint/diff hook settings.
type CheckpointConfig struct {
	// Interval is the number of blocks between checkpoint hook invocations.
	// Checkpoint creation is skipped entirely when non-positive.
	Interval int64 `yaml:"interval" json:"interval" toml:"interval"`

	// EnableStateDiff enables the per-block state diff hook
	EnableStateDiff bool `yaml:"enable_state_diff" json:"enable_state_diff" toml:"enable_state_diff"`
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components: abi-registry, state-cache, upstream,
	// event-parser, ingest, hooks, rpc, watcher
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

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
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
	// Format: "host:port" or ":port"
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
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.DB.ApplyDefaults()
	c.Ingest.ApplyDefaults()

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required")
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	validJournalModes := []string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}
	if c.DB.JournalMode != "" && !slices.Contains(validJournalModes, c.DB.JournalMode) {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	validSync := []string{"FULL", "NORMAL", "OFF"}
	if c.DB.Synchronous != "" && !slices.Contains(validSync, c.DB.Synchronous) {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	switch c.Ingest.Filter {
	case FilterByAddress, FilterByTopic, FilterNone, "":
	default:
		return fmt.Errorf("ingest.filter must be one of: address, topic, none")
	}

	if len(c.Contracts) == 0 {
		return fmt.Errorf("at least one contract must be configured")
	}

	kinds := make(map[string]bool)
	for i, contract := range c.Contracts {
		if contract.Kind == "" {
			return fmt.Errorf("contract[%d]: kind is required", i)
		}
		if kinds[contract.Kind] {
			return fmt.Errorf("contract[%d]: duplicate kind '%s'", i, contract.Kind)
		}
		kinds[contract.Kind] = true

		if contract.Address == "" {
			return fmt.Errorf("contract[%d] (%s): address is required", i, contract.Kind)
		}
		if !isHexAddress(contract.Address) {
			return fmt.Errorf("contract[%d] (%s): address '%s' is not a valid hex address",
				i, contract.Kind, contract.Address)
		}
		if contract.ABIFile == "" {
			return fmt.Errorf("contract[%d] (%s): abi_file is required", i, contract.Kind)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

func isHexAddress(s string) bool {
	if has0xPrefix(s) {
		s = s[2:]
	}
	if len(s) != 2*ethcommon.AddressLength {
		return false
	}
	_, err := hexutil.Decode("0x" + s)
	return err == nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
