package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/store"
	"github.com/quarry-labs/quarry/internal/warehouse"
	"github.com/quarry-labs/quarry/pkg/models"
)

func (c *CLI) newSpecsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specs",
		Short: "Manage saved report specs",
		Long: `Manage saved report specs in the metadata store.

A saved spec pins a validated report request to a warehouse. Specs
run by id and feed "in report" criteria of other reports.`,
	}

	cmd.AddCommand(c.newSpecsSaveCmd())
	cmd.AddCommand(c.newSpecsRunCmd())
	cmd.AddCommand(c.newSpecsDeleteCmd())

	return cmd
}

func (c *CLI) newSpecsSaveCmd() *cobra.Command {
	var paramsPath string

	cmd := &cobra.Command{
		Use:   "save <warehouse.yaml>",
		Short: "Validate and save a report spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSpecsSave(args[0], paramsPath)
		},
	}

	cmd.Flags().StringVar(&paramsPath, "params", "", "report params file (YAML or JSON)")
	cmd.MarkFlagRequired("params")

	return cmd
}

func (c *CLI) runSpecsSave(path, paramsPath string) error {
	data, err := os.ReadFile(paramsPath)
	if err != nil {
		wrapped := errors.NewInvalidReportConfig(fmt.Sprintf("reading %s: %v", paramsPath, err))
		c.errorf("Error: %v\n", wrapped)
		return wrapped
	}
	params := &models.ReportParams{}
	if err := yaml.Unmarshal(data, params); err != nil {
		wrapped := errors.NewInvalidReportConfig(fmt.Sprintf("params file %s does not parse: %v", paramsPath, err))
		c.errorf("Error: %v\n", wrapped)
		return wrapped
	}

	ctx := context.Background()
	w, st, err := c.openStoredWarehouse(ctx, path)
	if err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}
	defer st.Close()
	defer w.Close()

	if _, err := w.Save(ctx); err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}
	id, err := w.SaveSpec(ctx, params)
	if err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"status":    "saved",
			"spec_id":   id,
			"warehouse": w.Name(),
		})
	}
	c.printf("✓ Spec %d saved under warehouse '%s'\n", id, w.Name())
	return nil
}

func (c *CLI) newSpecsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <warehouse.yaml> <spec-id>",
		Short: "Run a saved report spec",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSpecID(args[1])
			if err != nil {
				c.errorf("Error: %v\n", err)
				return err
			}
			return c.runSpecsRun(args[0], id)
		},
	}
}

func (c *CLI) runSpecsRun(path string, id int64) error {
	ctx := context.Background()
	w, st, err := c.openStoredWarehouse(ctx, path)
	if err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}
	defer st.Close()
	defer w.Close()

	if _, err := w.Save(ctx); err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}
	res, err := w.ExecuteID(ctx, id)
	if err != nil {
		c.errorf("Report failed: %v\n", err)
		return err
	}
	return c.printResult(res)
}

func (c *CLI) newSpecsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <warehouse.yaml> <spec-id>",
		Short: "Delete a saved report spec",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSpecID(args[1])
			if err != nil {
				c.errorf("Error: %v\n", err)
				return err
			}
			return c.runSpecsDelete(args[0], id)
		},
	}
}

func (c *CLI) runSpecsDelete(path string, id int64) error {
	ctx := context.Background()
	w, st, err := c.openStoredWarehouse(ctx, path)
	if err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}
	defer st.Close()
	defer w.Close()

	if _, err := w.Save(ctx); err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}
	if err := w.DeleteSpec(ctx, id); err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"status":  "deleted",
			"spec_id": id,
		})
	}
	c.printf("✓ Spec %d deleted\n", id)
	return nil
}

// openStoredWarehouse opens the metadata store and builds the warehouse
// over it. The caller closes both.
func (c *CLI) openStoredWarehouse(ctx context.Context, path string) (*warehouse.Warehouse, *store.SQLStore, error) {
	st, err := c.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	w, err := c.openWarehouse(ctx, path, st)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return w, st, nil
}

func parseSpecID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewInvalidReportConfig(fmt.Sprintf("spec id %q is not a number", raw))
	}
	return id, nil
}
