package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <warehouse.yaml>",
		Short: "Validate a warehouse config",
		Long: `Load a warehouse config, open its datasources, and run the full
integrity check: field definitions, table graphs, and formula
references across the stacked registries.

Exit code 0 means valid, 1 means validation failed, 2 means the
config could not be loaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate(args[0])
		},
	}
}

func (c *CLI) runValidate(path string) error {
	w, err := c.openWarehouse(context.Background(), path, nil)
	if err != nil {
		if c.jsonOutput {
			c.outputJSON(map[string]interface{}{
				"valid":  false,
				"file":   path,
				"errors": []string{err.Error()},
			})
			return err
		}
		c.errorf("Validation failed: %v\n", err)
		return err
	}
	defer w.Close()

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"valid":      true,
			"file":       path,
			"warehouse":  w.Name(),
			"metrics":    len(w.Registry().MetricNames()),
			"dimensions": len(w.Registry().DimensionNames()),
			"warnings":   w.Warnings(),
		})
	}

	c.printf("✓ %s: valid\n", path)
	c.printf("  Warehouse: %s\n", w.Name())
	c.printf("  Datasources: %d\n", len(w.Sources()))
	c.printf("  Metrics: %d  Dimensions: %d\n",
		len(w.Registry().MetricNames()), len(w.Registry().DimensionNames()))
	for _, warning := range w.Warnings() {
		c.printf("  warning: %s\n", warning)
	}
	return nil
}
