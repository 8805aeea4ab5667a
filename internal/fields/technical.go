package fields

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
)

// TechnicalType names a post-aggregation transform applied to a metric
// column of the combined result frame.
type TechnicalType string

const (
	TechnicalMean      TechnicalType = "mean"
	TechnicalSum       TechnicalType = "sum"
	TechnicalMedian    TechnicalType = "median"
	TechnicalStdDev    TechnicalType = "std"
	TechnicalVariance  TechnicalType = "var"
	TechnicalMin       TechnicalType = "min"
	TechnicalMax       TechnicalType = "max"
	TechnicalBollinger TechnicalType = "boll"
	TechnicalDiff      TechnicalType = "diff"
	TechnicalPctChange TechnicalType = "pct_change"
	TechnicalCumSum    TechnicalType = "cumsum"
	TechnicalCumMin    TechnicalType = "cummin"
	TechnicalCumMax    TechnicalType = "cummax"
	TechnicalRank      TechnicalType = "rank"
	TechnicalPctRank   TechnicalType = "pct_rank"
)

// AllTechnicalTypes lists every supported transform.
var AllTechnicalTypes = []TechnicalType{
	TechnicalMean, TechnicalSum, TechnicalMedian, TechnicalStdDev,
	TechnicalVariance, TechnicalMin, TechnicalMax, TechnicalBollinger,
	TechnicalDiff, TechnicalPctChange, TechnicalCumSum, TechnicalCumMin,
	TechnicalCumMax, TechnicalRank, TechnicalPctRank,
}

// IsRolling reports whether the type computes over a sliding window.
func (t TechnicalType) IsRolling() bool {
	switch t {
	case TechnicalMean, TechnicalSum, TechnicalMedian, TechnicalStdDev,
		TechnicalVariance, TechnicalMin, TechnicalMax, TechnicalBollinger:
		return true
	}
	return false
}

// IsOffset reports whether the type compares rows a fixed number of
// periods apart.
func (t TechnicalType) IsOffset() bool {
	return t == TechnicalDiff || t == TechnicalPctChange
}

// IsCumulative reports whether the type accumulates over the partition.
func (t TechnicalType) IsCumulative() bool {
	switch t {
	case TechnicalCumSum, TechnicalCumMin, TechnicalCumMax:
		return true
	}
	return false
}

// IsRank reports whether the type assigns ranks over the partition.
func (t TechnicalType) IsRank() bool {
	return t == TechnicalRank || t == TechnicalPctRank
}

func validTechnicalType(s string) (TechnicalType, bool) {
	t := TechnicalType(s)
	for _, known := range AllTechnicalTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// TechnicalMode controls partitioning of the transform.
type TechnicalMode string

const (
	// TechnicalModeGroup partitions by all dimensions but the last, so
	// the transform resets on each group.
	TechnicalModeGroup TechnicalMode = "group"
	// TechnicalModeAll runs over the whole frame as one partition.
	TechnicalModeAll TechnicalMode = "all"
)

// Technical is a configured post-aggregation transform. Window applies
// to rolling types, and to offset types as the period distance.
type Technical struct {
	Type       TechnicalType
	Window     int
	MinPeriods int
	Center     bool
	Mode       TechnicalMode
}

// Copy returns a writable copy; nil stays nil.
func (t *Technical) Copy() *Technical {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (t *Technical) String() string {
	if t == nil {
		return ""
	}
	s := string(t.Type)
	if t.Window > 0 {
		s = fmt.Sprintf("%s-%d", s, t.Window)
		if t.MinPeriods > 0 && t.MinPeriods != t.Window {
			s = fmt.Sprintf("%s-%d", s, t.MinPeriods)
		}
	}
	return s
}

// technicalAliases maps shorthand spellings onto canonical types.
var technicalAliases = map[string]string{
	"ma": string(TechnicalMean),
}

// ParseTechnical builds a Technical from a config value: nil, a
// shorthand string "TYPE-WINDOW[-MIN_PERIODS]", or an object with
// type/window/min_periods/center/mode keys.
func ParseTechnical(v interface{}) (*Technical, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *Technical:
		return val.Copy(), nil
	case Technical:
		c := val
		return (&c).validate(fmt.Sprintf("%v", v))
	case string:
		return parseTechnicalString(val)
	case map[string]interface{}:
		return parseTechnicalObject(val)
	case map[interface{}]interface{}:
		flat := make(map[string]interface{}, len(val))
		for k, value := range val {
			flat[fmt.Sprintf("%v", k)] = value
		}
		return parseTechnicalObject(flat)
	}
	return nil, errors.NewInvalidTechnical(fmt.Sprintf("%v", v),
		"technical must be a string or an object")
}

func parseTechnicalString(s string) (*Technical, error) {
	input := s
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	if alias, ok := technicalAliases[parts[0]]; ok {
		parts[0] = alias
	}
	ttype, ok := validTechnicalType(parts[0])
	if !ok {
		return nil, errors.NewInvalidTechnical(input, fmt.Sprintf("unknown technical type %q", parts[0]))
	}

	t := &Technical{Type: ttype, Mode: TechnicalModeGroup}
	if len(parts) > 1 {
		w, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, errors.NewInvalidTechnical(input, fmt.Sprintf("window %q is not an integer", parts[1]))
		}
		t.Window = w
	}
	if len(parts) > 2 {
		mp, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, errors.NewInvalidTechnical(input, fmt.Sprintf("min_periods %q is not an integer", parts[2]))
		}
		t.MinPeriods = mp
	}
	if len(parts) > 3 {
		return nil, errors.NewInvalidTechnical(input, "expected TYPE-WINDOW[-MIN_PERIODS]")
	}
	return t.validate(input)
}

func parseTechnicalObject(obj map[string]interface{}) (*Technical, error) {
	input := fmt.Sprintf("%v", obj)
	t := &Technical{Mode: TechnicalModeGroup}
	for key, value := range obj {
		switch key {
		case "type":
			s, ok := value.(string)
			if !ok {
				return nil, errors.NewInvalidTechnical(input, "type must be a string")
			}
			s = strings.ToLower(s)
			if alias, ok := technicalAliases[s]; ok {
				s = alias
			}
			ttype, ok := validTechnicalType(s)
			if !ok {
				return nil, errors.NewInvalidTechnical(input, fmt.Sprintf("unknown technical type %q", s))
			}
			t.Type = ttype
		case "window":
			w, err := asInt(value)
			if err != nil {
				return nil, errors.NewInvalidTechnical(input, "window must be an integer")
			}
			t.Window = w
		case "min_periods":
			mp, err := asInt(value)
			if err != nil {
				return nil, errors.NewInvalidTechnical(input, "min_periods must be an integer")
			}
			t.MinPeriods = mp
		case "center":
			b, ok := value.(bool)
			if !ok {
				return nil, errors.NewInvalidTechnical(input, "center must be a boolean")
			}
			t.Center = b
		case "mode":
			s, ok := value.(string)
			if !ok {
				return nil, errors.NewInvalidTechnical(input, "mode must be a string")
			}
			t.Mode = TechnicalMode(strings.ToLower(s))
		default:
			return nil, errors.NewInvalidTechnical(input, fmt.Sprintf("unknown technical key %q", key))
		}
	}
	if t.Type == "" {
		return nil, errors.NewInvalidTechnical(input, "technical object requires a type")
	}
	return t.validate(input)
}

func (t *Technical) validate(input string) (*Technical, error) {
	if t.Mode != TechnicalModeGroup && t.Mode != TechnicalModeAll {
		return nil, errors.NewInvalidTechnical(input, fmt.Sprintf("unknown mode %q", t.Mode))
	}
	switch {
	case t.Type.IsRolling():
		if t.Window < 1 {
			return nil, errors.NewInvalidTechnical(input,
				fmt.Sprintf("%s requires a window of at least 1", t.Type))
		}
		if t.MinPeriods == 0 {
			t.MinPeriods = t.Window
		}
		if t.MinPeriods < 1 || t.MinPeriods > t.Window {
			return nil, errors.NewInvalidTechnical(input,
				"min_periods must be between 1 and the window")
		}
	case t.Type.IsOffset():
		if t.Window == 0 {
			t.Window = 1
		}
		if t.Window < 1 {
			return nil, errors.NewInvalidTechnical(input,
				fmt.Sprintf("%s requires a positive period count", t.Type))
		}
		if t.MinPeriods != 0 {
			return nil, errors.NewInvalidTechnical(input,
				fmt.Sprintf("%s does not take min_periods", t.Type))
		}
	default:
		if t.Window != 0 || t.MinPeriods != 0 {
			return nil, errors.NewInvalidTechnical(input,
				fmt.Sprintf("%s does not take a window", t.Type))
		}
	}
	return t, nil
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}
