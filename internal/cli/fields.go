package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quarry-labs/quarry/internal/fields"
)

func (c *CLI) newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields <warehouse.yaml>",
		Short: "List a warehouse's metrics and dimensions",
		Long: `List every queryable field of a warehouse: warehouse-level fields
first, then the fields each datasource contributes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runFields(args[0])
		},
	}
}

type fieldInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Type        string `json:"type,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

func (c *CLI) runFields(path string) error {
	w, err := c.openWarehouse(context.Background(), path, nil)
	if err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}
	defer w.Close()

	var infos []fieldInfo
	for _, f := range w.Registry().Fields() {
		infos = append(infos, fieldInfo{
			Name:        f.Name(),
			Kind:        kindLabel(f),
			Type:        f.Type(),
			DisplayName: f.DisplayName(),
		})
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"warehouse": w.Name(),
			"fields":    infos,
		})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tTYPE\tDISPLAY NAME")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, info.Kind, info.Type, info.DisplayName)
	}
	tw.Flush()
	return nil
}

func kindLabel(f fields.Field) string {
	if f.Kind().IsMetric() {
		return "metric"
	}
	return "dimension"
}
