// Package cli provides the command-line interface for switchboard.
// The CLI is a control interface for inspecting engines, running
// commands, and orchestrating switches against a locally configured
// fleet.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/switchboard-data/switchboard/internal/bootstrap"
	"github.com/switchboard-data/switchboard/internal/config"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitAccess     = 2
	ExitEngine     = 3
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
}

// New creates a new CLI instance.
func New() *CLI {
	cli := &CLI{}
	cli.rootCmd = cli.newRootCmd()
	return cli
}

// Execute runs the CLI.
func (c *CLI) Execute() int {
	if err := c.rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "switchboard: %v\n", err)
		return ExitInternal
	}
	return ExitSuccess
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switchboard",
		Short: "Switchboard - Multi-Backend Data Access Core",
		Long: `Switchboard is a uniform data access layer over heterogeneous engines.

It provides:
  • One command surface across relational, document, and key-value engines
  • Prepared statements with strict parameter validation
  • Transactions with savepoints on engines that support them
  • Health-monitored pools with graceful switch and emergency failover
  • A pre-execution security gate with audit trail

This CLI is a control interface for configuration, execution, and diagnostics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.switchboard/config.yaml)")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "output as JSON")
	cmd.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(c.newConfigCmd())
	cmd.AddCommand(c.newEngineCmd())
	cmd.AddCommand(c.newSwitchCmd())
	cmd.AddCommand(c.newQueryCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// system assembles the fleet for one command invocation. The caller
// must Close it.
func (c *CLI) system(ctx context.Context) (*bootstrap.System, error) {
	if len(c.cfg.Engines) == 0 {
		return nil, fmt.Errorf("no engines configured; add an engines block to the config file")
	}
	return bootstrap.Build(ctx, c.cfg)
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Println(args...)
	}
}

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Printf(format, args...)
	}
}

func (c *CLI) outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
