package datasource

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/config"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/schema"
)

// Config is the declarative form of one datasource: how to connect,
// the fields it defines, and the tables it exposes.
type Config struct {
	Connect              ConnectConfig                  `yaml:"connect" json:"connect"`
	Metrics              []fields.MetricConfig          `yaml:"metrics" json:"metrics,omitempty"`
	Dimensions           []fields.DimensionConfig       `yaml:"dimensions" json:"dimensions,omitempty"`
	Tables               map[string]*schema.TableConfig `yaml:"tables" json:"tables"`
	SkipConversionFields bool                           `yaml:"skip_conversion_fields" json:"skip_conversion_fields,omitempty"`
}

// ConnectConfig locates a datasource's backing engine. In config it is
// either a bare connection URL or an object naming a registered
// connector and its params.
type ConnectConfig struct {
	URL    string
	Func   string
	Params map[string]interface{}
}

type connectObject struct {
	Func   string                 `yaml:"func" json:"func"`
	Params map[string]interface{} `yaml:"params" json:"params"`
}

// UnmarshalYAML accepts either a scalar URL or a {func, params} object.
func (c *ConnectConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&c.URL)
	}
	var obj connectObject
	if err := value.Decode(&obj); err != nil {
		return err
	}
	c.Func = obj.Func
	c.Params = obj.Params
	return nil
}

// UnmarshalJSON accepts either a JSON string or a {func, params} object.
func (c *ConnectConfig) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.URL)
	}
	var obj connectObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Func = obj.Func
	c.Params = obj.Params
	return nil
}

// ConnectRequest carries everything a connector needs to open an
// adapter for a datasource.
type ConnectRequest struct {
	DataSource string
	Params     map[string]interface{}
	Adapters   *adapters.Registry
	Config     *config.Config
}

// Connector opens an adapter from connector params. Connectors are
// registered by name and referenced from a config's connect.func key.
type Connector func(req *ConnectRequest) (adapters.Adapter, error)

var (
	connectorMu sync.RWMutex
	connectors  = map[string]Connector{
		"url": URLConnector,
	}
)

// RegisterConnector makes a connector available under a name. Later
// registrations of the same name win.
func RegisterConnector(name string, fn Connector) {
	connectorMu.Lock()
	defer connectorMu.Unlock()
	connectors[strings.ToLower(name)] = fn
}

func connectorByName(name string) (Connector, bool) {
	connectorMu.RLock()
	defer connectorMu.RUnlock()
	fn, ok := connectors[strings.ToLower(name)]
	return fn, ok
}

// OpenAdapter resolves a connect config to an open adapter. Connection
// URLs are interpolated from the datasource's context variable bag
// before opening.
func OpenAdapter(name string, connect ConnectConfig, reg *adapters.Registry, cfg *config.Config) (adapters.Adapter, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	switch {
	case connect.URL != "" && connect.Func != "":
		return nil, errors.NewInvalidDataSourceConfig(name, "connect takes a url or a func, not both")
	case connect.URL != "":
		return reg.Open(cfg.InterpolateURL(name, connect.URL))
	case connect.Func != "":
		fn, ok := connectorByName(connect.Func)
		if !ok {
			return nil, errors.NewInvalidDataSourceConfig(name,
				fmt.Sprintf("unknown connector %q", connect.Func))
		}
		return fn(&ConnectRequest{
			DataSource: name,
			Params:     connect.Params,
			Adapters:   reg,
			Config:     cfg,
		})
	}
	return nil, errors.NewInvalidDataSourceConfig(name, "connect requires a url or a func")
}

// URLConnector is the built-in connector. A connect_url param opens
// that connection directly. A data_url param downloads a SQLite
// database file into the ad-hoc datasource directory and opens it,
// honoring if_exists and replace_after for the downloaded file.
func URLConnector(req *ConnectRequest) (adapters.Adapter, error) {
	connectURL, _ := stringParam(req.Params, "connect_url")
	dataURL, _ := stringParam(req.Params, "data_url")

	switch {
	case connectURL != "" && dataURL != "":
		return nil, errors.NewInvalidDataSourceConfig(req.DataSource,
			"connector takes connect_url or data_url, not both")

	case connectURL != "":
		return req.Adapters.Open(req.Config.InterpolateURL(req.DataSource, connectURL))

	case dataURL != "":
		ifExists, _ := stringParam(req.Params, "if_exists")
		replaceAfter, _ := stringParam(req.Params, "replace_after")
		outPath := filepath.Join(req.Config.AdHocDataSourceDirectory, req.DataSource+".db")
		url := req.Config.InterpolateURL(req.DataSource, dataURL)
		path, err := fetchDataFile(url, outPath, ifExists, replaceAfter)
		if err != nil {
			return nil, errors.NewInvalidDataSourceConfig(req.DataSource, err.Error())
		}
		return req.Adapters.Open("sqlite:///" + path)
	}
	return nil, errors.NewInvalidDataSourceConfig(req.DataSource,
		"connector requires connect_url or data_url")
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
