package datasource

import (
	"fmt"

	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/schema"
	"github.com/quarry-labs/quarry/internal/sql"
)

// addConversionFields attaches automatic calendar dimensions to every
// active date or datetime column that allows type conversions. Each
// conversion becomes a field binding with a ds_formula in the engine's
// conversion vocabulary, plus a datasource dimension when the name is
// not taken yet. Engines without a conversion vocabulary produce
// nothing.
func (ds *DataSource) addConversionFields(tables []*schema.Table) error {
	dialect, err := dialects.Get(ds.adapter.ConversionDialect())
	if err != nil {
		return err
	}

	for _, t := range tables {
		// type base -> column, to catch ambiguous conversion sources
		converted := map[string]string{}

		for _, col := range t.Columns {
			if !col.Active || !col.AllowTypeConversions {
				continue
			}
			convs := dialect.Conversions(col.Type)
			if len(convs) == 0 {
				continue
			}
			if prev, dup := converted[col.Type.Base]; dup {
				return errors.NewInvalidTableConfig(t.Name,
					fmt.Sprintf("columns %s and %s have the same type and both allow type conversions", prev, col.Name))
			}
			converted[col.Type.Base] = col.Name

			if err := ds.bindConversions(t, col, convs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ds *DataSource) bindConversions(t *schema.Table, col *schema.Column, convs []dialects.Conversion) error {
	ref := sql.QualifyColumn(t.Name, col.Name)
	for _, conv := range convs {
		if col.ConversionDisabled(conv.Field) {
			continue
		}
		name := conv.Field
		if col.TypeConversionPrefix != "" {
			name = col.TypeConversionPrefix + name
			if err := fields.ValidateFieldName(name); err != nil {
				return errors.NewInvalidTableConfig(t.Name,
					fmt.Sprintf("conversion field name %q is invalid", name))
			}
		}
		// A field of the same name bound elsewhere on the table wins.
		if t.HasField(name) {
			continue
		}
		col.AddBinding(schema.FieldBinding{
			Field:               name,
			DSFormula:           conv.FormulaFor(ref),
			CriteriaConversions: conv.Criteria,
		})
		if ds.registry.Has(name) {
			continue
		}
		dim, err := fields.CreateDimension(fields.DimensionConfig{
			Name:        name,
			Type:        conv.Type,
			Description: "Automatic conversion field",
		})
		if err != nil {
			return err
		}
		if err := ds.registry.AddDimension(dim); err != nil {
			return err
		}
	}
	return nil
}
