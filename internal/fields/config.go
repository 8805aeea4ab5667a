package fields

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/sql"
)

// MetricConfig is the declarative form of a metric. Aggregation holds a
// string for a single metric or a map of aggregation -> variant options
// to synthesize one metric per entry. Technical holds a shorthand
// string or an object.
type MetricConfig struct {
	Name            string                 `yaml:"name" json:"name"`
	Type            string                 `yaml:"type,omitempty" json:"type,omitempty"`
	DisplayName     string                 `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Description     string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Aggregation     interface{}            `yaml:"aggregation,omitempty" json:"aggregation,omitempty"`
	Rounding        *int                   `yaml:"rounding,omitempty" json:"rounding,omitempty"`
	WeightingMetric string                 `yaml:"weighting_metric,omitempty" json:"weighting_metric,omitempty"`
	IfNull          *float64               `yaml:"ifnull,omitempty" json:"ifnull,omitempty"`
	RequiredGrain   []string               `yaml:"required_grain,omitempty" json:"required_grain,omitempty"`
	Technical       interface{}            `yaml:"technical,omitempty" json:"technical,omitempty"`
	Formula         string                 `yaml:"formula,omitempty" json:"formula,omitempty"`
	Divisors        *DivisorsConfig        `yaml:"divisors,omitempty" json:"divisors,omitempty"`
	Meta            map[string]interface{} `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// DivisorsConfig synthesizes per-divisor formula metrics from a base
// metric. Templates use the tokens {metric} and {divisor}.
type DivisorsConfig struct {
	Metrics         []string `yaml:"metrics" json:"metrics"`
	FormulaTemplate string   `yaml:"formula_template,omitempty" json:"formula_template,omitempty"`
	NameTemplate    string   `yaml:"name_template,omitempty" json:"name_template,omitempty"`
	Rounding        *int     `yaml:"rounding,omitempty" json:"rounding,omitempty"`
}

const (
	defaultDivisorFormulaTemplate = "1.0*{metric}/{divisor}"
	defaultDivisorNameTemplate    = "{metric}_per_{divisor}"
)

// DimensionConfig is the declarative form of a dimension.
type DimensionConfig struct {
	Name        string                 `yaml:"name" json:"name"`
	Type        string                 `yaml:"type,omitempty" json:"type,omitempty"`
	DisplayName string                 `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Values      []string               `yaml:"values,omitempty" json:"values,omitempty"`
	Sorter      string                 `yaml:"sorter,omitempty" json:"sorter,omitempty"`
	Formula     string                 `yaml:"formula,omitempty" json:"formula,omitempty"`
	Meta        map[string]interface{} `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// SorterValues is the built-in sorter ordering a dimension by its
// declared values list.
const SorterValues = "values"

// CreateMetrics builds the metric fields a config declares: the base
// metric (or one per aggregation map entry), plus any divisor formula
// metrics. Formula references are resolved later at warehouse
// validation, so the returned fields are self-contained.
func CreateMetrics(cfg MetricConfig) ([]Field, error) {
	if err := ValidateFieldName(cfg.Name); err != nil {
		return nil, err
	}
	technical, err := ParseTechnical(cfg.Technical)
	if err != nil {
		return nil, err
	}
	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = defaultDisplayName(cfg.Name)
	}

	var out []Field
	switch {
	case cfg.Formula != "":
		if cfg.Type != "" {
			return nil, errors.NewInvalidFieldConfig(cfg.Name, "a metric carries type or formula, not both")
		}
		scalar, variants, err := parseAggregationValue(cfg.Aggregation, cfg.Name, cfg.Rounding)
		if err != nil {
			return nil, err
		}
		if variants != nil {
			return nil, errors.NewInvalidFieldConfig(cfg.Name,
				"aggregation variants are not supported on formula metrics")
		}
		if err := validateFormulaBody(cfg.Name, cfg.Formula); err != nil {
			return nil, err
		}
		out = append(out, &FormulaMetric{
			kind:          KindFormulaMetric,
			name:          cfg.Name,
			displayName:   displayName,
			description:   cfg.Description,
			Formula:       cfg.Formula,
			Aggregation:   scalar,
			Rounding:      copyIntPtr(cfg.Rounding),
			IfNull:        copyFloatPtr(cfg.IfNull),
			RequiredGrain: append([]string(nil), cfg.RequiredGrain...),
			Technical:     technical,
			Meta:          copyMeta(cfg.Meta),
		})

	default:
		if cfg.Type == "" {
			return nil, errors.NewInvalidFieldConfig(cfg.Name, "a metric requires a type or a formula")
		}
		scalar, variants, err := parseAggregationValue(cfg.Aggregation, cfg.Name, cfg.Rounding)
		if err != nil {
			return nil, err
		}
		if variants == nil {
			variants = []aggregationVariant{{agg: scalar, name: cfg.Name, rounding: cfg.Rounding}}
		}
		for _, v := range variants {
			weighting := cfg.WeightingMetric
			if len(variants) > 1 && v.agg != sql.AggregationMean {
				weighting = ""
			}
			if err := validateMetricCore(v.name, cfg.Type, v.agg, weighting); err != nil {
				return nil, err
			}
			vDisplay := displayName
			if v.name != cfg.Name {
				vDisplay = defaultDisplayName(v.name)
			}
			out = append(out, &Metric{
				name:            v.name,
				typ:             cfg.Type,
				displayName:     vDisplay,
				description:     cfg.Description,
				Aggregation:     v.agg,
				Rounding:        copyIntPtr(v.rounding),
				WeightingMetric: weighting,
				IfNull:          copyFloatPtr(cfg.IfNull),
				RequiredGrain:   append([]string(nil), cfg.RequiredGrain...),
				Technical:       technical.Copy(),
				Meta:            copyMeta(cfg.Meta),
			})
		}
	}

	if cfg.Divisors != nil {
		divisors, err := divisorMetrics(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, divisors...)
	}
	return out, nil
}

func divisorMetrics(cfg MetricConfig) ([]Field, error) {
	d := cfg.Divisors
	if len(d.Metrics) == 0 {
		return nil, errors.NewInvalidFieldConfig(cfg.Name, "divisors requires at least one metric")
	}
	formulaTpl := d.FormulaTemplate
	if formulaTpl == "" {
		formulaTpl = defaultDivisorFormulaTemplate
	}
	nameTpl := d.NameTemplate
	if nameTpl == "" {
		nameTpl = defaultDivisorNameTemplate
	}
	rounding := d.Rounding
	if rounding == nil {
		rounding = cfg.Rounding
	}

	var out []Field
	for _, divisor := range d.Metrics {
		if err := ValidateFieldName(divisor); err != nil {
			return nil, err
		}
		name := strings.NewReplacer("{metric}", cfg.Name, "{divisor}", divisor).Replace(nameTpl)
		if err := ValidateFieldName(name); err != nil {
			return nil, err
		}
		formula := strings.NewReplacer(
			"{metric}", "{"+cfg.Name+"}",
			"{divisor}", "{"+divisor+"}",
		).Replace(formulaTpl)
		if err := validateFormulaBody(name, formula); err != nil {
			return nil, err
		}
		out = append(out, &FormulaMetric{
			kind:        KindFormulaMetric,
			name:        name,
			displayName: defaultDisplayName(name),
			Formula:     formula,
			Aggregation: sql.AggregationSum,
			Rounding:    copyIntPtr(rounding),
		})
	}
	return out, nil
}

// CreateDimension builds the dimension field a config declares.
func CreateDimension(cfg DimensionConfig) (Field, error) {
	if err := ValidateFieldName(cfg.Name); err != nil {
		return nil, err
	}
	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = defaultDisplayName(cfg.Name)
	}

	if cfg.Formula != "" {
		if cfg.Type != "" {
			return nil, errors.NewInvalidFieldConfig(cfg.Name, "a dimension carries type or formula, not both")
		}
		if err := validateFormulaBody(cfg.Name, cfg.Formula); err != nil {
			return nil, err
		}
		return &FormulaDimension{
			kind:        KindFormulaDimension,
			name:        cfg.Name,
			displayName: displayName,
			description: cfg.Description,
			Formula:     cfg.Formula,
			Meta:        copyMeta(cfg.Meta),
		}, nil
	}

	if cfg.Type == "" {
		return nil, errors.NewInvalidFieldConfig(cfg.Name, "a dimension requires a type or a formula")
	}
	if _, err := sql.ParseColumnType(cfg.Type); err != nil {
		return nil, errors.NewInvalidFieldConfig(cfg.Name, fmt.Sprintf("invalid type %q", cfg.Type))
	}
	switch cfg.Sorter {
	case "", SorterValues:
	default:
		return nil, errors.NewInvalidFieldConfig(cfg.Name, fmt.Sprintf("unknown sorter %q", cfg.Sorter))
	}
	if cfg.Sorter == SorterValues && len(cfg.Values) == 0 {
		return nil, errors.NewInvalidFieldConfig(cfg.Name, "the values sorter requires declared values")
	}

	return &Dimension{
		name:        cfg.Name,
		typ:         cfg.Type,
		displayName: displayName,
		description: cfg.Description,
		Values:      append([]string(nil), cfg.Values...),
		Sorter:      cfg.Sorter,
		Meta:        copyMeta(cfg.Meta),
	}, nil
}

type aggregationVariant struct {
	agg      sql.Aggregation
	name     string
	rounding *int
}

// parseAggregationValue handles the two shapes of the aggregation key:
// a plain string, or a map of aggregation -> {name, rounding} variant
// options. A nil variants slice means the scalar form was used.
func parseAggregationValue(v interface{}, base string, defaultRounding *int) (sql.Aggregation, []aggregationVariant, error) {
	switch val := v.(type) {
	case nil:
		return sql.AggregationSum, nil, nil
	case string:
		agg := sql.Aggregation(strings.ToLower(val))
		if !sql.ValidAggregation(string(agg)) {
			return "", nil, errors.NewInvalidFieldConfig(base, fmt.Sprintf("unknown aggregation %q", val))
		}
		return agg, nil, nil
	case sql.Aggregation:
		if !sql.ValidAggregation(string(val)) {
			return "", nil, errors.NewInvalidFieldConfig(base, fmt.Sprintf("unknown aggregation %q", val))
		}
		return val, nil, nil
	case map[string]interface{}:
		return parseAggregationMap(val, base, defaultRounding)
	case map[interface{}]interface{}:
		flat := make(map[string]interface{}, len(val))
		for k, value := range val {
			flat[fmt.Sprintf("%v", k)] = value
		}
		return parseAggregationMap(flat, base, defaultRounding)
	}
	return "", nil, errors.NewInvalidFieldConfig(base, "aggregation must be a string or a map")
}

func parseAggregationMap(m map[string]interface{}, base string, defaultRounding *int) (sql.Aggregation, []aggregationVariant, error) {
	if len(m) == 0 {
		return "", nil, errors.NewInvalidFieldConfig(base, "aggregation map is empty")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	variants := make([]aggregationVariant, 0, len(m))
	for _, key := range keys {
		agg := sql.Aggregation(strings.ToLower(key))
		if !sql.ValidAggregation(string(agg)) {
			return "", nil, errors.NewInvalidFieldConfig(base, fmt.Sprintf("unknown aggregation %q", key))
		}
		variant := aggregationVariant{
			agg:      agg,
			name:     fmt.Sprintf("%s_%s", base, agg),
			rounding: defaultRounding,
		}
		switch opts := m[key].(type) {
		case nil:
		case map[string]interface{}:
			if err := applyVariantOptions(&variant, opts, base); err != nil {
				return "", nil, err
			}
		case map[interface{}]interface{}:
			flat := make(map[string]interface{}, len(opts))
			for k, v := range opts {
				flat[fmt.Sprintf("%v", k)] = v
			}
			if err := applyVariantOptions(&variant, flat, base); err != nil {
				return "", nil, err
			}
		default:
			return "", nil, errors.NewInvalidFieldConfig(base,
				fmt.Sprintf("aggregation %q options must be a map", key))
		}
		variants = append(variants, variant)
	}
	return "", variants, nil
}

func applyVariantOptions(variant *aggregationVariant, opts map[string]interface{}, base string) error {
	for key, value := range opts {
		switch key {
		case "name":
			s, ok := value.(string)
			if !ok {
				return errors.NewInvalidFieldConfig(base, "aggregation variant name must be a string")
			}
			variant.name = s
		case "rounding":
			n, err := asInt(value)
			if err != nil {
				return errors.NewInvalidFieldConfig(base, "aggregation variant rounding must be an integer")
			}
			variant.rounding = &n
		default:
			return errors.NewInvalidFieldConfig(base,
				fmt.Sprintf("unknown aggregation variant key %q", key))
		}
	}
	return nil
}
