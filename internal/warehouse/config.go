// Package warehouse assembles the queryable whole: warehouse-level
// fields stacked over datasource registries, datasource lifecycles, and
// the report and persistence entry points.
package warehouse

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quarry-labs/quarry/internal/datasource"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
)

// Config is the declarative form of a warehouse.
type Config struct {
	Meta        map[string]interface{}    `yaml:"meta" json:"meta,omitempty"`
	Metrics     []fields.MetricConfig     `yaml:"metrics" json:"metrics,omitempty"`
	Dimensions  []fields.DimensionConfig  `yaml:"dimensions" json:"dimensions,omitempty"`
	DataSources map[string]*DataSourceRef `yaml:"datasources" json:"datasources"`
	DSPriority  []string                  `yaml:"ds_priority" json:"ds_priority,omitempty"`
}

// DataSourceRef is a datasource config given inline or by url reference
// to another YAML/JSON file.
type DataSourceRef struct {
	URL    string
	Config *datasource.Config
}

type dsRefObject struct {
	URL string `yaml:"url" json:"url"`
}

// UnmarshalYAML accepts an inline datasource config or a {url: path}
// reference.
func (r *DataSourceRef) UnmarshalYAML(value *yaml.Node) error {
	var keys struct {
		URL *string `yaml:"url"`
	}
	if err := value.Decode(&keys); err == nil && keys.URL != nil {
		r.URL = *keys.URL
		return nil
	}
	var cfg datasource.Config
	if err := value.Decode(&cfg); err != nil {
		return err
	}
	r.Config = &cfg
	return nil
}

// UnmarshalJSON accepts an inline datasource config or a {url: path}
// reference.
func (r *DataSourceRef) UnmarshalJSON(data []byte) error {
	var obj dsRefObject
	if err := json.Unmarshal(data, &obj); err == nil && obj.URL != "" {
		r.URL = obj.URL
		return nil
	}
	var cfg datasource.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	r.Config = &cfg
	return nil
}

// configKeys are the allowed top-level keys of a warehouse config.
var configKeys = map[string]bool{
	"meta":        true,
	"metrics":     true,
	"dimensions":  true,
	"datasources": true,
	"ds_priority": true,
}

// ParseConfig parses a warehouse config from YAML or JSON, rejecting
// unknown top-level keys.
func ParseConfig(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewInvalidWarehouseConfig(fmt.Sprintf("config does not parse: %v", err))
	}
	for key := range raw {
		if !configKeys[key] {
			return nil, errors.NewInvalidWarehouseConfig(fmt.Sprintf("unknown config key %q", key))
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.NewInvalidWarehouseConfig(fmt.Sprintf("config does not parse: %v", err))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads a warehouse config file and resolves datasource url
// references relative to the file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewInvalidWarehouseConfig(fmt.Sprintf("reading %s: %v", path, err))
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.resolveRefs(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.DataSources) == 0 {
		return errors.NewInvalidWarehouseConfig("config declares no datasources")
	}
	for _, name := range c.DSPriority {
		if _, ok := c.DataSources[name]; !ok {
			return errors.NewInvalidWarehouseConfig(
				fmt.Sprintf("ds_priority names unknown datasource %q", name))
		}
	}
	return nil
}

// resolveRefs loads every datasource given by url reference.
func (c *Config) resolveRefs(baseDir string) error {
	for name, ref := range c.DataSources {
		if ref == nil {
			return errors.NewInvalidDataSourceConfig(name, "missing datasource config")
		}
		if ref.URL == "" {
			continue
		}
		path := strings.TrimPrefix(ref.URL, "file://")
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.NewInvalidDataSourceConfig(name,
				fmt.Sprintf("reading referenced config %s: %v", ref.URL, err))
		}
		var dscfg datasource.Config
		if err := yaml.Unmarshal(data, &dscfg); err != nil {
			return errors.NewInvalidDataSourceConfig(name,
				fmt.Sprintf("referenced config %s does not parse: %v", ref.URL, err))
		}
		ref.Config = &dscfg
	}
	return nil
}

// orderedNames returns datasource names in execution priority order:
// ds_priority entries first, the rest sorted.
func (c *Config) orderedNames() []string {
	seen := make(map[string]bool, len(c.DSPriority))
	names := make([]string, 0, len(c.DataSources))
	for _, name := range c.DSPriority {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range c.DataSources {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
