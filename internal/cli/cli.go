// Package cli provides the quarry command-line interface: validating
// warehouse configs, running reports, and managing saved specs.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarry-labs/quarry/internal/config"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/observability"
	"github.com/quarry-labs/quarry/internal/store"
	"github.com/quarry-labs/quarry/internal/warehouse"
)

// Exit codes, mapped from error categories.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitConfig     = 2
	ExitExecution  = 3
	ExitInternal   = 4
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config

	// Global flags
	configPath string
	jsonOutput bool
	quiet      bool
	debug      bool
}

// New creates a new CLI instance.
func New() *CLI {
	cli := &CLI{}
	cli.rootCmd = cli.newRootCmd()
	return cli
}

// Execute runs the CLI and returns the process exit code.
func (c *CLI) Execute() int {
	err := c.rootCmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	switch errors.CodeOf(err) {
	case errors.CodeValidation:
		return ExitValidation
	case errors.CodeConfig:
		return ExitConfig
	case errors.CodeExecution:
		return ExitExecution
	}
	return ExitInternal
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Quarry - multi-source semantic analytics engine",
		Long: `Quarry runs metric and dimension reports over one or more SQL
datasources, combining per-source results through an in-memory
scratch database.

This CLI validates warehouse configs, runs reports, and manages
saved report specs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.quarry/quarry.yaml)")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newValidateCmd())
	cmd.AddCommand(c.newRunCmd())
	cmd.AddCommand(c.newFieldsCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newSpecsCmd())
	cmd.AddCommand(c.newInitCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return errors.NewInvalidWarehouseConfig(err.Error())
	}
	if c.debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	c.cfg = cfg
	return nil
}

// openWarehouse builds a warehouse from a config file. The warehouse
// name comes from meta.name, falling back to the file stem.
func (c *CLI) openWarehouse(ctx context.Context, path string, st store.Store) (*warehouse.Warehouse, error) {
	cfg, err := warehouse.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return warehouse.New(ctx, warehouseName(path, cfg), cfg, warehouse.Options{
		Config:    c.cfg,
		Logger:    c.reportLogger(),
		Store:     st,
		ConfigURL: path,
	})
}

func (c *CLI) openStore(ctx context.Context) (*store.SQLStore, error) {
	s, err := store.Open(c.cfg.DBURL)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (c *CLI) reportLogger() observability.ReportLogger {
	if c.debug {
		return observability.NewJSONLogger(os.Stderr)
	}
	return observability.NewNoopLogger()
}

func warehouseName(path string, cfg *warehouse.Config) string {
	if name, ok := cfg.Meta["name"].(string); ok && name != "" {
		return name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Helper functions for output

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Printf(format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Println(args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func (c *CLI) debugf(format string, args ...interface{}) {
	if c.debug {
		fmt.Printf("[DEBUG] "+format, args...)
	}
}

func (c *CLI) outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
