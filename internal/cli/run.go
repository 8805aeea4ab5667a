package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/report"
	"github.com/quarry-labs/quarry/internal/sql"
	"github.com/quarry-labs/quarry/pkg/models"
)

func (c *CLI) newRunCmd() *cobra.Command {
	var (
		paramsPath string
		metrics    []string
		dimensions []string
		criteria   []string
		orderBy    []string
		rollup     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "run <warehouse.yaml>",
		Short: "Run a report",
		Long: `Run a report against a warehouse config.

The report comes from a params file (--params, YAML or JSON) or from
inline flags. Criteria use the form "field op value", for example
--criteria "partner_name = Partner A".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := c.buildParams(paramsPath, metrics, dimensions, criteria, orderBy, rollup, limit)
			if err != nil {
				c.errorf("Error: %v\n", err)
				return err
			}
			return c.runReport(args[0], params)
		},
	}

	cmd.Flags().StringVar(&paramsPath, "params", "", "report params file (YAML or JSON)")
	cmd.Flags().StringSliceVar(&metrics, "metrics", nil, "metrics to request")
	cmd.Flags().StringSliceVar(&dimensions, "dimensions", nil, "dimensions to group by")
	cmd.Flags().StringArrayVar(&criteria, "criteria", nil, `criteria as "field op value"`)
	cmd.Flags().StringArrayVar(&orderBy, "order-by", nil, `sort keys as "field" or "field desc"`)
	cmd.Flags().StringVar(&rollup, "rollup", "", `rollup: "totals", "all", or a level count`)
	cmd.Flags().IntVar(&limit, "limit", 0, "row limit, 0 means unlimited")

	return cmd
}

func (c *CLI) buildParams(paramsPath string, metrics, dimensions, criteria, orderBy []string, rollup string, limit int) (*models.ReportParams, error) {
	if paramsPath != "" {
		data, err := os.ReadFile(paramsPath)
		if err != nil {
			return nil, errors.NewInvalidReportConfig(fmt.Sprintf("reading %s: %v", paramsPath, err))
		}
		params := &models.ReportParams{}
		if err := yaml.Unmarshal(data, params); err != nil {
			return nil, errors.NewInvalidReportConfig(fmt.Sprintf("params file %s does not parse: %v", paramsPath, err))
		}
		return params, nil
	}

	params := &models.ReportParams{
		Rollup: models.RollupValue(rollup),
		Limit:  limit,
	}
	for _, name := range metrics {
		params.Metrics = append(params.Metrics, models.FieldRef{Name: name})
	}
	for _, name := range dimensions {
		params.Dimensions = append(params.Dimensions, models.FieldRef{Name: name})
	}
	for _, raw := range criteria {
		crit, err := parseCriterion(raw)
		if err != nil {
			return nil, err
		}
		params.Criteria = append(params.Criteria, crit)
	}
	for _, raw := range orderBy {
		ob, err := parseOrderBy(raw)
		if err != nil {
			return nil, err
		}
		params.OrderBy = append(params.OrderBy, ob)
	}
	return params, nil
}

// parseCriterion splits "field op value" on the first two spaces. The
// value keeps any further spaces, so "partner_name = Partner A" works.
func parseCriterion(raw string) (models.Criterion, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), " ", 3)
	if len(parts) < 3 {
		return models.Criterion{}, errors.NewInvalidReportConfig(
			fmt.Sprintf(`criterion %q must look like "field op value"`, raw))
	}
	op, err := sql.NormalizeOperator(parts[1])
	if err != nil {
		return models.Criterion{}, err
	}
	return models.Criterion{Field: parts[0], Op: op, Value: parts[2]}, nil
}

func parseOrderBy(raw string) (models.OrderBy, error) {
	parts := strings.Fields(raw)
	switch len(parts) {
	case 1:
		return models.OrderBy{Field: parts[0]}, nil
	case 2:
		switch strings.ToLower(parts[1]) {
		case "asc":
			return models.OrderBy{Field: parts[0]}, nil
		case "desc":
			return models.OrderBy{Field: parts[0], Desc: true}, nil
		}
	}
	return models.OrderBy{}, errors.NewInvalidReportConfig(
		fmt.Sprintf(`order-by %q must look like "field" or "field desc"`, raw))
}

func (c *CLI) runReport(path string, params *models.ReportParams) error {
	ctx := context.Background()
	st, err := c.openStore(ctx)
	if err != nil {
		c.debugf("metadata store unavailable: %v\n", err)
		st = nil
	}
	if st != nil {
		defer st.Close()
	}

	w, err := c.openWarehouse(ctx, path, st)
	if err != nil {
		c.errorf("Error: %v\n", err)
		return err
	}
	defer w.Close()

	res, err := w.Execute(ctx, params)
	if err != nil {
		c.errorf("Report failed: %v\n", err)
		return err
	}
	return c.printResult(res)
}

func (c *CLI) printResult(res *report.Result) error {
	if c.jsonOutput {
		return c.outputJSON(res)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.DisplayRows(c.cfg.IfNullPrettyValue) {
		cells := make([]string, len(row))
		for i, cell := range row {
			if cell == nil {
				cells[i] = c.cfg.IfNullPrettyValue
				continue
			}
			cells[i] = fmt.Sprintf("%v", cell)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	c.printf("\n%d rows in %s\n", len(res.Rows), res.Duration.Round(time.Millisecond))
	for _, warning := range res.Warnings {
		c.printf("warning: %s\n", warning)
	}
	return nil
}
