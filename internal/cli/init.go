package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarry-labs/quarry/internal/errors"
)

const exampleConfig = `# Example quarry warehouse config.
meta:
  name: example

# Warehouse-level fields sit over everything the datasources declare.
metrics:
  - name: revenue_per_sale
    formula: 1.0*{revenue}/{sales}
    rounding: 2

datasources:
  sales:
    connect: "sqlite:///:memory:"
    metrics:
      - name: revenue
        type: decimal(10, 2)
        aggregation: sum
        rounding: 2
    dimensions:
      - name: partner_name
        type: string(32)
    tables:
      main.sales:
        type: metric
        create_fields: true
        primary_key: [sale_id]
        # data_url loads rows from a local or remote CSV/JSON file.
        data_url: "file://./sales.csv"
        columns:
          id:
            type: integer
            fields:
              - sale_id
              - name: sales
                ds_formula: COUNT(DISTINCT main.sales.id)
          partner: {type: string(32), fields: [partner_name]}
          revenue: {type: "decimal(10, 2)", fields: [revenue]}
`

func (c *CLI) newInitCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example warehouse config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(out)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "warehouse.yaml", "output path")

	return cmd
}

func (c *CLI) runInit(out string) error {
	if _, err := os.Stat(out); err == nil {
		wrapped := errors.NewInvalidWarehouseConfig(fmt.Sprintf("%s already exists", out))
		c.errorf("Error: %v\n", wrapped)
		return wrapped
	}
	if err := os.WriteFile(out, []byte(exampleConfig), 0o644); err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"status": "written",
			"file":   out,
		})
	}
	c.printf("✓ Example config written to %s\n", out)
	return nil
}
