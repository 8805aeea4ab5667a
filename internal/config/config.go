// Package config provides process-wide configuration for the quarry engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// QueryMode selects how datasource query plans are executed.
type QueryMode string

const (
	// QueryModeSequential runs plans in list order on the calling goroutine.
	QueryModeSequential QueryMode = "sequential"

	// QueryModeMultithread runs plans on a bounded worker pool.
	QueryModeMultithread QueryMode = "multithread"
)

// Config holds the engine configuration. It is loaded once at startup and
// treated as immutable afterwards.
type Config struct {
	// Debug enables verbose logging.
	Debug bool `mapstructure:"debug"`

	// LogLevel is the minimum level emitted by loggers.
	LogLevel string `mapstructure:"log_level"`

	// DBURL points at the metadata store (saved warehouses and report specs).
	DBURL string `mapstructure:"db_url"`

	// AdHocDataSourceDirectory is where downloaded ad-hoc table data lands.
	AdHocDataSourceDirectory string `mapstructure:"adhoc_datasource_directory"`

	// LoadTableChunkSize is the row batch size for loads into the combined
	// layer and ad-hoc tables.
	LoadTableChunkSize int `mapstructure:"load_table_chunk_size"`

	// IfNullPrettyValue replaces NULL dimension cells in display output.
	IfNullPrettyValue string `mapstructure:"ifnull_pretty_value"`

	// DataSourceQueryMode is sequential or multithread.
	DataSourceQueryMode QueryMode `mapstructure:"datasource_query_mode"`

	// DataSourceQueryTimeout is the per-plan timeout in seconds. 0 disables.
	DataSourceQueryTimeout int `mapstructure:"datasource_query_timeout"`

	// DataSourceQueryWorkers bounds the multithread pool. 0 means one
	// worker per plan.
	DataSourceQueryWorkers int `mapstructure:"datasource_query_workers"`

	// DataSourceMaxJoins caps the optional joins tried per grain-covering
	// combination. Sole-provider joins stay in play regardless. 0 is
	// unbounded.
	DataSourceMaxJoins int `mapstructure:"datasource_max_joins"`

	// DataSourceMaxJoinCandidates caps how many join covers are enumerated
	// per table and grain. 0 is unbounded.
	DataSourceMaxJoinCandidates int `mapstructure:"datasource_max_join_candidates"`

	// DataSourceContexts holds named variable bags interpolated into
	// datasource connection URLs ({user}, {host}, ...), keyed by
	// datasource name.
	DataSourceContexts map[string]map[string]string `mapstructure:"datasource_contexts"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Debug:                    false,
		LogLevel:                 "warning",
		DBURL:                    "sqlite:///tmp/quarry.db",
		AdHocDataSourceDirectory: "/tmp",
		LoadTableChunkSize:       5000,
		IfNullPrettyValue:        "--",
		DataSourceQueryMode:      QueryModeSequential,
		DataSourceContexts:       map[string]map[string]string{},
	}
}

// Load loads configuration from an optional file and the environment.
// Environment variables use the QUARRY_ prefix, e.g.
// QUARRY_DATASOURCE_QUERY_MODE=multithread.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".quarry"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("quarry")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("QUARRY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges and enum fields.
func (c *Config) Validate() error {
	switch c.DataSourceQueryMode {
	case QueryModeSequential, QueryModeMultithread:
	default:
		return fmt.Errorf("invalid datasource_query_mode: %q (want sequential or multithread)",
			c.DataSourceQueryMode)
	}
	if c.LoadTableChunkSize <= 0 {
		return fmt.Errorf("load_table_chunk_size must be positive, got %d", c.LoadTableChunkSize)
	}
	if c.DataSourceQueryTimeout < 0 {
		return fmt.Errorf("datasource_query_timeout must be >= 0, got %d", c.DataSourceQueryTimeout)
	}
	if c.DataSourceQueryWorkers < 0 {
		return fmt.Errorf("datasource_query_workers must be >= 0, got %d", c.DataSourceQueryWorkers)
	}
	return nil
}

// ContextVars returns the variable bag for a datasource, or nil.
func (c *Config) ContextVars(datasource string) map[string]string {
	if c.DataSourceContexts == nil {
		return nil
	}
	return c.DataSourceContexts[datasource]
}

// InterpolateURL substitutes {var} placeholders in a connection URL from the
// datasource's context bag. Unknown placeholders are left intact so the
// adapter can fail with the literal URL in hand.
func (c *Config) InterpolateURL(datasource, url string) string {
	vars := c.ContextVars(datasource)
	if len(vars) == 0 {
		return url
	}
	out := url
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "warning")
	v.SetDefault("db_url", "sqlite:///tmp/quarry.db")
	v.SetDefault("adhoc_datasource_directory", "/tmp")
	v.SetDefault("load_table_chunk_size", 5000)
	v.SetDefault("ifnull_pretty_value", "--")
	v.SetDefault("datasource_query_mode", string(QueryModeSequential))
	v.SetDefault("datasource_query_timeout", 0)
	v.SetDefault("datasource_query_workers", 0)
	v.SetDefault("datasource_max_joins", 0)
	v.SetDefault("datasource_max_join_candidates", 0)
}
