// Package models holds the public, serializable request and record
// shapes: report parameters as they travel through config files, the
// CLI, and the metadata store.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReportParams is the declarative form of one report request. Params
// are stored verbatim in the metadata store; execution recomputes the
// plan from them every time.
type ReportParams struct {
	// Metrics are requested metrics: plain names or ad-hoc formula
	// metrics scoped to this report.
	Metrics []FieldRef `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	// Dimensions are requested dimensions: plain names or ad-hoc
	// formula dimensions.
	Dimensions []FieldRef `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`

	// Criteria filter rows before aggregation at the datasource layer.
	Criteria []Criterion `yaml:"criteria,omitempty" json:"criteria,omitempty"`

	// RowFilters filter rows of the combined result frame.
	RowFilters []Criterion `yaml:"row_filters,omitempty" json:"row_filters,omitempty"`

	// Rollup adds subtotal rows: "totals", "all", or a level count.
	Rollup RollupValue `yaml:"rollup,omitempty" json:"rollup,omitempty"`

	// OrderBy sorts the final frame.
	OrderBy []OrderBy `yaml:"order_by,omitempty" json:"order_by,omitempty"`

	// Limit caps the number of result rows. 0 means no limit.
	Limit int `yaml:"limit,omitempty" json:"limit,omitempty"`

	// LimitFirst applies the limit before rollups and ordering.
	LimitFirst bool `yaml:"limit_first,omitempty" json:"limit_first,omitempty"`

	// Pivot rotates the named dimensions into columns.
	Pivot []string `yaml:"pivot,omitempty" json:"pivot,omitempty"`

	// AllowPartial drops unsatisfiable metrics with a warning instead
	// of failing the report.
	AllowPartial bool `yaml:"allow_partial,omitempty" json:"allow_partial,omitempty"`
}

// Hash returns a stable content hash of the params, used as
// params_hash in the metadata store.
func (p *ReportParams) Hash() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("models: hashing report params: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FieldRef names a warehouse field or declares an ad-hoc formula field
// for the report's lifetime. In config it is either a bare name or an
// object with name and formula.
type FieldRef struct {
	Name          string      `yaml:"name" json:"name"`
	Formula       string      `yaml:"formula,omitempty" json:"formula,omitempty"`
	Rounding      *int        `yaml:"rounding,omitempty" json:"rounding,omitempty"`
	Technical     interface{} `yaml:"technical,omitempty" json:"technical,omitempty"`
	RequiredGrain []string    `yaml:"required_grain,omitempty" json:"required_grain,omitempty"`
}

// IsAdHoc reports whether the ref declares a report-scoped field.
func (f *FieldRef) IsAdHoc() bool { return f.Formula != "" }

type fieldRefObject struct {
	Name          string      `yaml:"name" json:"name"`
	Formula       string      `yaml:"formula" json:"formula,omitempty"`
	Rounding      *int        `yaml:"rounding" json:"rounding,omitempty"`
	Technical     interface{} `yaml:"technical" json:"technical,omitempty"`
	RequiredGrain []string    `yaml:"required_grain" json:"required_grain,omitempty"`
}

// UnmarshalYAML accepts either a scalar name or a full object.
func (f *FieldRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&f.Name)
	}
	var obj fieldRefObject
	if err := value.Decode(&obj); err != nil {
		return err
	}
	*f = FieldRef(obj)
	return nil
}

// UnmarshalJSON accepts either a JSON string or a full object.
func (f *FieldRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &f.Name)
	}
	var obj fieldRefObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = FieldRef(obj)
	return nil
}

// MarshalJSON emits a bare string for plain name refs so stored params
// read the way they were written.
func (f FieldRef) MarshalJSON() ([]byte, error) {
	if !f.IsAdHoc() && f.Rounding == nil && f.Technical == nil && len(f.RequiredGrain) == 0 {
		return json.Marshal(f.Name)
	}
	return json.Marshal(fieldRefObject(f))
}

// Criterion is one filter: a field, an operator, and a value. In
// config it is a [field, op, value] triple or an object. The value of
// an "in report" operator is a stored spec id or an inline
// ReportParams object.
type Criterion struct {
	Field string      `yaml:"field" json:"field"`
	Op    string      `yaml:"op" json:"op"`
	Value interface{} `yaml:"value" json:"value"`
}

type criterionObject struct {
	Field string      `yaml:"field" json:"field"`
	Op    string      `yaml:"op" json:"op"`
	Value interface{} `yaml:"value" json:"value"`
}

// UnmarshalYAML accepts a [field, op, value] sequence or an object.
func (c *Criterion) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var triple []interface{}
		if err := value.Decode(&triple); err != nil {
			return err
		}
		return c.fromTriple(triple)
	}
	var obj criterionObject
	if err := value.Decode(&obj); err != nil {
		return err
	}
	*c = Criterion(obj)
	return nil
}

// UnmarshalJSON accepts a [field, op, value] array or an object.
func (c *Criterion) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var triple []interface{}
		if err := json.Unmarshal(data, &triple); err != nil {
			return err
		}
		return c.fromTriple(triple)
	}
	var obj criterionObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*c = Criterion(obj)
	return nil
}

// MarshalJSON emits the triple form.
func (c Criterion) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Field, c.Op, c.Value})
}

func (c *Criterion) fromTriple(triple []interface{}) error {
	if len(triple) < 2 || len(triple) > 3 {
		return fmt.Errorf("models: criterion must be [field, op, value], got %d elements", len(triple))
	}
	field, ok := triple[0].(string)
	if !ok {
		return fmt.Errorf("models: criterion field must be a string, got %v", triple[0])
	}
	op, ok := triple[1].(string)
	if !ok {
		return fmt.Errorf("models: criterion operator must be a string, got %v", triple[1])
	}
	c.Field = field
	c.Op = op
	if len(triple) == 3 {
		c.Value = triple[2]
	}
	return nil
}

// OrderBy sorts the final frame on one field. In config it is a bare
// field name (ascending), a [field, direction] pair, or an object.
type OrderBy struct {
	Field string `yaml:"field" json:"field"`
	Desc  bool   `yaml:"desc,omitempty" json:"desc,omitempty"`
}

type orderByObject struct {
	Field string `yaml:"field" json:"field"`
	Desc  bool   `yaml:"desc" json:"desc"`
}

func parseDirection(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return false, nil
	case "desc", "descending":
		return true, nil
	}
	return false, fmt.Errorf("models: order direction must be asc or desc, got %q", s)
}

// UnmarshalYAML accepts a bare field, a [field, direction] pair, or an
// object.
func (o *OrderBy) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&o.Field)
	case yaml.SequenceNode:
		var pair []string
		if err := value.Decode(&pair); err != nil {
			return err
		}
		return o.fromPair(pair)
	}
	var obj orderByObject
	if err := value.Decode(&obj); err != nil {
		return err
	}
	*o = OrderBy(obj)
	return nil
}

// UnmarshalJSON accepts a bare field, a [field, direction] pair, or an
// object.
func (o *OrderBy) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, `"`):
		return json.Unmarshal(data, &o.Field)
	case strings.HasPrefix(trimmed, "["):
		var pair []string
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		return o.fromPair(pair)
	}
	var obj orderByObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*o = OrderBy(obj)
	return nil
}

// MarshalJSON emits the pair form.
func (o OrderBy) MarshalJSON() ([]byte, error) {
	dir := "asc"
	if o.Desc {
		dir = "desc"
	}
	return json.Marshal([]string{o.Field, dir})
}

func (o *OrderBy) fromPair(pair []string) error {
	if len(pair) < 1 || len(pair) > 2 {
		return fmt.Errorf("models: order_by must be [field, direction], got %d elements", len(pair))
	}
	o.Field = pair[0]
	if len(pair) == 2 {
		desc, err := parseDirection(pair[1])
		if err != nil {
			return err
		}
		o.Desc = desc
	}
	return nil
}

// Rollup mode names.
const (
	RollupTotals = "totals"
	RollupAll    = "all"
)

// RollupValue is a rollup mode: empty (none), "totals", "all", or an
// integer level count. Config accepts both strings and numbers.
type RollupValue string

// Levels interprets the value against a dimension count: the number of
// deepest grain levels to subtotal, and whether to append a grand
// total. Ok is false when no rollup was requested.
func (r RollupValue) Levels(dimensions int) (levels int, grandTotal, ok bool, err error) {
	s := strings.ToLower(strings.TrimSpace(string(r)))
	switch s {
	case "":
		return 0, false, false, nil
	case RollupTotals:
		return 0, true, true, nil
	case RollupAll:
		return dimensions, true, true, nil
	}
	n, convErr := strconv.Atoi(s)
	if convErr != nil {
		return 0, false, false, fmt.Errorf("models: rollup must be %q, %q, or a level count, got %q",
			RollupTotals, RollupAll, string(r))
	}
	if n < 1 || n > dimensions {
		return 0, false, false, fmt.Errorf("models: rollup level %d out of range 1..%d", n, dimensions)
	}
	// Subtotaling every level implies the grand total.
	return n, n == dimensions, true, nil
}

// UnmarshalYAML accepts a string or an integer.
func (r *RollupValue) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return r.fromRaw(raw)
}

// UnmarshalJSON accepts a string or an integer.
func (r *RollupValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return r.fromRaw(raw)
}

func (r *RollupValue) fromRaw(raw interface{}) error {
	switch v := raw.(type) {
	case nil:
		*r = ""
	case string:
		*r = RollupValue(v)
	case int:
		*r = RollupValue(strconv.Itoa(v))
	case int64:
		*r = RollupValue(strconv.FormatInt(v, 10))
	case float64:
		if v != float64(int(v)) {
			return fmt.Errorf("models: rollup level must be an integer, got %v", v)
		}
		*r = RollupValue(strconv.Itoa(int(v)))
	default:
		return fmt.Errorf("models: rollup must be a string or an integer, got %v", raw)
	}
	return nil
}

// WarehouseRecord is one saved warehouse registration.
type WarehouseRecord struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ConfigURL  string `json:"config_url"`
	ParamsHash string `json:"params_hash"`
	CreatedAt  string `json:"created_at"`
}

// ReportSpecRecord is one saved report spec.
type ReportSpecRecord struct {
	ID          int64  `json:"id"`
	WarehouseID int64  `json:"warehouse_id"`
	ParamsJSON  string `json:"params_json"`
	CreatedAt   string `json:"created_at"`
}
