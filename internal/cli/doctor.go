package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor <warehouse.yaml>",
		Short: "Run warehouse diagnostics",
		Long: `Run diagnostics against a warehouse config.

Checks:
  - config loads and passes the integrity check
  - every datasource answers a ping
  - the metadata store is reachable`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(args[0])
		},
	}
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (c *CLI) runDoctor(path string) error {
	c.println("Quarry Warehouse Diagnostics")
	c.println("============================")
	c.println("")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var checks []DiagnosticCheck
	allPassed := true
	record := func(check DiagnosticCheck) {
		checks = append(checks, check)
		if !check.Passed {
			allPassed = false
		}
		c.printCheck(check)
	}

	st, err := c.openStore(ctx)
	if st != nil {
		defer st.Close()
	}
	record(c.checkStore(err))

	w, err := c.openWarehouse(ctx, path, st)
	record(c.checkBuild(path, err))
	if w != nil {
		defer w.Close()
		health := w.Health(ctx)
		for _, ds := range w.Sources() {
			record(c.checkDataSource(ds.Name(), health[ds.Name()]))
		}
	}

	c.println("")

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"checks":     checks,
			"all_passed": allPassed,
		})
	}

	if allPassed {
		c.println("✓ All checks passed")
	} else {
		c.println("✗ Some checks failed - see above for details")
	}
	return err
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	status := "✗"
	if check.Passed {
		status = "✓"
	}
	c.printf("%s %s: %s\n", status, check.Name, check.Message)
	if check.Details != "" && !check.Passed {
		c.printf("  → %s\n", check.Details)
	}
}

func (c *CLI) checkStore(err error) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Metadata Store"}
	if err != nil {
		check.Message = "Cannot open the metadata store"
		check.Details = err.Error()
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("Connected to %s", c.cfg.DBURL)
	return check
}

func (c *CLI) checkBuild(path string, err error) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Warehouse Build"}
	if err != nil {
		check.Message = fmt.Sprintf("%s does not build", path)
		check.Details = err.Error()
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%s builds cleanly", path)
	return check
}

func (c *CLI) checkDataSource(name string, err error) DiagnosticCheck {
	check := DiagnosticCheck{Name: fmt.Sprintf("Datasource %s", name)}
	if err != nil {
		check.Message = "Ping failed"
		check.Details = err.Error()
		return check
	}
	check.Passed = true
	check.Message = "Reachable"
	return check
}
