package fields

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
)

// Registry resolves field names within a scope stack. A registry holds
// its own fields plus an ordered list of narrower child scopes; lookups
// consult the registry's own fields first, then each child in order.
// The warehouse registry carries one child per datasource, and reports
// stack their ad-hoc scope on via Stacked.
type Registry struct {
	scope      string
	metrics    map[string]Field
	dimensions map[string]Field
	children   []*Registry
}

// NewRegistry creates an empty registry. The scope label shows up in
// error messages and logs.
func NewRegistry(scope string) *Registry {
	return &Registry{
		scope:      scope,
		metrics:    map[string]Field{},
		dimensions: map[string]Field{},
	}
}

// Scope returns the registry's scope label.
func (r *Registry) Scope() string { return r.scope }

// AddChild appends a narrower scope consulted after this registry's own
// fields. Order of addition is resolution order.
func (r *Registry) AddChild(child *Registry) {
	r.children = append(r.children, child)
}

// Stacked returns a read view over base plus extra narrower scopes,
// typically a report's ad-hoc fields. The view shares the underlying
// maps; callers must not add fields through it.
func Stacked(base *Registry, extras ...*Registry) *Registry {
	view := &Registry{
		scope:      base.scope,
		metrics:    base.metrics,
		dimensions: base.dimensions,
	}
	view.children = append(append([]*Registry(nil), base.children...), extras...)
	return view
}

// AddMetric registers a metric-role field. Redefining a name already
// held by this scope, or visible anywhere as a dimension, is an error.
func (r *Registry) AddMetric(f Field) error {
	name := f.Name()
	if !f.Kind().IsMetric() {
		return errors.NewInvalidFieldConfig(name, "AddMetric requires a metric-role field")
	}
	if r.HasDimension(name) {
		return errors.NewInvalidFieldConfig(name,
			fmt.Sprintf("name collides with a dimension in scope %q", r.scope))
	}
	if _, ok := r.metrics[name]; ok {
		return errors.NewInvalidFieldConfig(name,
			fmt.Sprintf("metric already defined in scope %q", r.scope))
	}
	r.metrics[name] = f
	return nil
}

// AddDimension registers a dimension-role field. Redefining a name
// already held by this scope, or visible anywhere as a metric, is an
// error.
func (r *Registry) AddDimension(f Field) error {
	name := f.Name()
	if !f.Kind().IsDimension() {
		return errors.NewInvalidFieldConfig(name, "AddDimension requires a dimension-role field")
	}
	if r.HasMetric(name) {
		return errors.NewInvalidFieldConfig(name,
			fmt.Sprintf("name collides with a metric in scope %q", r.scope))
	}
	if _, ok := r.dimensions[name]; ok {
		return errors.NewInvalidFieldConfig(name,
			fmt.Sprintf("dimension already defined in scope %q", r.scope))
	}
	r.dimensions[name] = f
	return nil
}

// HasMetric reports whether name resolves to a metric in any scope.
func (r *Registry) HasMetric(name string) bool {
	if _, ok := r.metrics[name]; ok {
		return true
	}
	for _, child := range r.children {
		if child.HasMetric(name) {
			return true
		}
	}
	return false
}

// HasDimension reports whether name resolves to a dimension in any
// scope.
func (r *Registry) HasDimension(name string) bool {
	if _, ok := r.dimensions[name]; ok {
		return true
	}
	for _, child := range r.children {
		if child.HasDimension(name) {
			return true
		}
	}
	return false
}

// Has reports whether name resolves to any field.
func (r *Registry) Has(name string) bool {
	return r.HasMetric(name) || r.HasDimension(name)
}

// GetMetric resolves a metric by name, own scope first.
func (r *Registry) GetMetric(name string) (Field, error) {
	if f, ok := r.metrics[name]; ok {
		return f, nil
	}
	for _, child := range r.children {
		if child.HasMetric(name) {
			return child.GetMetric(name)
		}
	}
	return nil, errors.NewNotFound("metric", name)
}

// GetDimension resolves a dimension by name, own scope first.
func (r *Registry) GetDimension(name string) (Field, error) {
	if f, ok := r.dimensions[name]; ok {
		return f, nil
	}
	for _, child := range r.children {
		if child.HasDimension(name) {
			return child.GetDimension(name)
		}
	}
	return nil, errors.NewNotFound("dimension", name)
}

// Get resolves a field by name, metrics before dimensions.
func (r *Registry) Get(name string) (Field, error) {
	if r.HasMetric(name) {
		return r.GetMetric(name)
	}
	if r.HasDimension(name) {
		return r.GetDimension(name)
	}
	return nil, errors.NewNotFound("field", name)
}

// KindOf returns the kind name resolves to, if any.
func (r *Registry) KindOf(name string) (Kind, bool) {
	f, err := r.Get(name)
	if err != nil {
		return "", false
	}
	return f.Kind(), true
}

// MetricNames returns every resolvable metric name, sorted.
func (r *Registry) MetricNames() []string {
	seen := map[string]struct{}{}
	r.collectMetricNames(seen)
	return sortedNames(seen)
}

// DimensionNames returns every resolvable dimension name, sorted.
func (r *Registry) DimensionNames() []string {
	seen := map[string]struct{}{}
	r.collectDimensionNames(seen)
	return sortedNames(seen)
}

// FieldNames returns every resolvable field name, sorted.
func (r *Registry) FieldNames() []string {
	seen := map[string]struct{}{}
	r.collectMetricNames(seen)
	r.collectDimensionNames(seen)
	return sortedNames(seen)
}

func (r *Registry) collectMetricNames(into map[string]struct{}) {
	for name := range r.metrics {
		into[name] = struct{}{}
	}
	for _, child := range r.children {
		child.collectMetricNames(into)
	}
}

func (r *Registry) collectDimensionNames(into map[string]struct{}) {
	for name := range r.dimensions {
		into[name] = struct{}{}
	}
	for _, child := range r.children {
		child.collectDimensionNames(into)
	}
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics returns every resolvable metric, sorted by name.
func (r *Registry) Metrics() []Field {
	names := r.MetricNames()
	out := make([]Field, 0, len(names))
	for _, name := range names {
		f, err := r.GetMetric(name)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Dimensions returns every resolvable dimension, sorted by name.
func (r *Registry) Dimensions() []Field {
	names := r.DimensionNames()
	out := make([]Field, 0, len(names))
	for _, name := range names {
		f, err := r.GetDimension(name)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Fields returns every resolvable field, sorted by name.
func (r *Registry) Fields() []Field {
	names := r.FieldNames()
	out := make([]Field, 0, len(names))
	for _, name := range names {
		f, err := r.Get(name)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// CheckFormula fully expands a formula field against the registry,
// verifying every reference resolves and the expanded body passes
// screening. Non-formula fields pass trivially.
func (r *Registry) CheckFormula(f Field) error {
	if !f.Kind().IsFormula() {
		return nil
	}
	if _, _, err := f.FormulaFields(r, 0); err != nil {
		return err
	}
	switch t := f.(type) {
	case *FormulaMetric:
		return validateFormulaBody(t.name, t.Formula)
	case *FormulaDimension:
		return validateFormulaBody(t.name, t.Formula)
	}
	return nil
}

// ValidateFormulas runs cycle detection over the formula dependency
// graph, then checks each formula field. Called once per scope after
// config application.
func (r *Registry) ValidateFormulas() error {
	const (
		white = iota
		gray
		black
	)
	colors := map[string]int{}

	var visit func(name string, trail []string) error
	visit = func(name string, trail []string) error {
		switch colors[name] {
		case black:
			return nil
		case gray:
			return errors.NewInvalidFieldConfig(name,
				fmt.Sprintf("formula cycle: %s -> %s", strings.Join(trail, " -> "), name))
		}
		colors[name] = gray
		f, err := r.Get(name)
		if err == nil && f.Kind().IsFormula() {
			for _, ref := range FormulaReferences(formulaOf(f)) {
				if err := visit(ref, append(trail, name)); err != nil {
					return err
				}
			}
		}
		colors[name] = black
		return nil
	}

	for _, name := range r.FieldNames() {
		if err := visit(name, nil); err != nil {
			return err
		}
	}

	for _, name := range r.FieldNames() {
		f, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := r.CheckFormula(f); err != nil {
			return err
		}
	}
	return nil
}

func formulaOf(f Field) string {
	switch t := f.(type) {
	case *FormulaMetric:
		return t.Formula
	case *FormulaDimension:
		return t.Formula
	}
	return ""
}
