package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/sql"
)

// FieldBindingConfig is one entry of a column's fields list. In config it
// is either a bare field name or an object carrying a ds_formula and
// related options.
type FieldBindingConfig struct {
	Name                string                        `yaml:"name" json:"name"`
	DSFormula           string                        `yaml:"ds_formula" json:"ds_formula,omitempty"`
	RequiredGrain       []string                      `yaml:"required_grain" json:"required_grain,omitempty"`
	CriteriaConversions dialects.CriteriaConversions  `yaml:"ds_criteria_conversions" json:"ds_criteria_conversions,omitempty"`
}

// fieldBindingObject mirrors FieldBindingConfig without the custom
// unmarshallers so object-form entries decode normally.
type fieldBindingObject struct {
	Name                string                       `yaml:"name" json:"name"`
	DSFormula           string                       `yaml:"ds_formula" json:"ds_formula"`
	RequiredGrain       []string                     `yaml:"required_grain" json:"required_grain"`
	CriteriaConversions dialects.CriteriaConversions `yaml:"ds_criteria_conversions" json:"ds_criteria_conversions"`
}

// UnmarshalYAML accepts either a scalar field name or a full object.
func (f *FieldBindingConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&f.Name)
	}
	var obj fieldBindingObject
	if err := value.Decode(&obj); err != nil {
		return err
	}
	*f = FieldBindingConfig(obj)
	return nil
}

// UnmarshalJSON accepts either a JSON string or a full object.
func (f *FieldBindingConfig) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &f.Name)
	}
	var obj fieldBindingObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = FieldBindingConfig(obj)
	return nil
}

// ColumnConfig describes one column of a table config.
type ColumnConfig struct {
	Fields                  []FieldBindingConfig `yaml:"fields" json:"fields"`
	Type                    string               `yaml:"type" json:"type,omitempty"`
	Active                  *bool                `yaml:"active" json:"active,omitempty"`
	AllowTypeConversions    bool                 `yaml:"allow_type_conversions" json:"allow_type_conversions,omitempty"`
	TypeConversionPrefix    string               `yaml:"type_conversion_prefix" json:"type_conversion_prefix,omitempty"`
	DisabledTypeConversions []string             `yaml:"disabled_type_conversions" json:"disabled_type_conversions,omitempty"`
}

// TableConfig describes one table of a datasource config. The data_*
// keys feed the ad-hoc table loader and are ignored for regular tables.
type TableConfig struct {
	Type                 string                   `yaml:"type" json:"type"`
	CreateFields         bool                     `yaml:"create_fields" json:"create_fields,omitempty"`
	Parent               string                   `yaml:"parent" json:"parent,omitempty"`
	Siblings             []string                 `yaml:"siblings" json:"siblings,omitempty"`
	PrimaryKey           []string                 `yaml:"primary_key" json:"primary_key"`
	IncompleteDimensions []string                 `yaml:"incomplete_dimensions" json:"incomplete_dimensions,omitempty"`
	Priority             int                      `yaml:"priority" json:"priority,omitempty"`
	UseFullColumnNames   *bool                    `yaml:"use_full_column_names" json:"use_full_column_names,omitempty"`
	PrefixWith           string                   `yaml:"prefix_with" json:"prefix_with,omitempty"`
	Columns              map[string]*ColumnConfig `yaml:"columns" json:"columns"`

	DataURL      string            `yaml:"data_url" json:"data_url,omitempty"`
	IfExists     string            `yaml:"if_exists" json:"if_exists,omitempty"`
	ReplaceAfter string            `yaml:"replace_after" json:"replace_after,omitempty"`
	DropDupes    bool              `yaml:"drop_dupes" json:"drop_dupes,omitempty"`
	FillNA       interface{}       `yaml:"fillna" json:"fillna,omitempty"`
	ConvertTypes map[string]string `yaml:"convert_types" json:"convert_types,omitempty"`
}

// IsAdHoc reports whether the table loads its rows from a data_url.
func (tc *TableConfig) IsAdHoc() bool { return tc.DataURL != "" }

// TableFromConfig builds the structural table model from its config.
// Column types are parsed here; field auto-creation and datetime
// conversion bindings are applied later by the datasource layer.
func TableFromConfig(name string, cfg *TableConfig) (*Table, error) {
	if cfg == nil {
		return nil, errors.NewInvalidTableConfig(name, "missing table config")
	}
	useFull := true
	if cfg.UseFullColumnNames != nil {
		useFull = *cfg.UseFullColumnNames
	}
	t := &Table{
		Name:                 name,
		Type:                 TableType(cfg.Type),
		Parent:               cfg.Parent,
		Siblings:             append([]string(nil), cfg.Siblings...),
		PrimaryKey:           append([]string(nil), cfg.PrimaryKey...),
		IncompleteDimensions: append([]string(nil), cfg.IncompleteDimensions...),
		Priority:             cfg.Priority,
		CreateFields:         cfg.CreateFields,
		UseFullColumnNames:   useFull,
		PrefixWith:           cfg.PrefixWith,
	}

	colNames := make([]string, 0, len(cfg.Columns))
	for colName := range cfg.Columns {
		colNames = append(colNames, colName)
	}
	sort.Strings(colNames)

	for _, colName := range colNames {
		colCfg := cfg.Columns[colName]
		if colCfg == nil {
			return nil, errors.NewInvalidTableConfig(name, "missing config for column "+colName)
		}
		col, err := columnFromConfig(name, colName, colCfg)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, col)
	}

	t.attach()
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func columnFromConfig(tableName, colName string, cfg *ColumnConfig) (*Column, error) {
	if cfg.Type == "" {
		return nil, errors.NewInvalidTableConfig(tableName,
			fmt.Sprintf("column %s has no type", colName))
	}
	colType, err := sql.ParseColumnType(cfg.Type)
	if err != nil {
		return nil, errors.NewInvalidTableConfig(tableName,
			fmt.Sprintf("column %s: %v", colName, err))
	}
	active := true
	if cfg.Active != nil {
		active = *cfg.Active
	}
	col := &Column{
		Name:                    colName,
		Type:                    colType,
		Active:                  active,
		AllowTypeConversions:    cfg.AllowTypeConversions,
		TypeConversionPrefix:    cfg.TypeConversionPrefix,
		DisabledTypeConversions: append([]string(nil), cfg.DisabledTypeConversions...),
	}
	for _, fb := range cfg.Fields {
		if fb.Name == "" {
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("column %s has a field binding without a name", colName))
		}
		if fb.DSFormula != "" {
			if err := sql.ScreenFragment(fb.DSFormula); err != nil {
				return nil, errors.NewInvalidTableConfig(tableName,
					fmt.Sprintf("column %s field %s: %v", colName, fb.Name, err))
			}
		}
		if err := fb.CriteriaConversions.Validate(); err != nil {
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("column %s field %s: %v", colName, fb.Name, err))
		}
		col.AddBinding(FieldBinding{
			Field:               fb.Name,
			DSFormula:           fb.DSFormula,
			RequiredGrain:       append([]string(nil), fb.RequiredGrain...),
			CriteriaConversions: fb.CriteriaConversions,
		})
	}
	return col, nil
}
