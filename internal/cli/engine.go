package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/switchboard-data/switchboard/pkg/models"
)

func (c *CLI) newEngineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Engine inspection commands",
		Long:  `Inspect configured engines, their health, and their pools.`,
	}

	cmd.AddCommand(c.newEngineListCmd())
	cmd.AddCommand(c.newEngineDescribeCmd())
	cmd.AddCommand(c.newEngineRecoverCmd())

	return cmd
}

func (c *CLI) newEngineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured engines",
		Long: `List every configured engine and its current state.

Shows:
  - engine id and backend type
  - health state and consecutive failures
  - pool occupancy and average latency`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runEngineList(cmd.Context())
		},
	}
}

func (c *CLI) runEngineList(ctx context.Context) error {
	sys, err := c.system(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	// One probe sweep so states reflect reality rather than the
	// registration default.
	sys.Monitor.Sweep(ctx)

	active, _ := sys.Manager.Active("")
	snapshots := sys.Manager.Snapshots()

	if c.jsonOutput {
		statuses := make([]models.EngineStatus, 0, len(snapshots))
		for _, snap := range snapshots {
			statuses = append(statuses, models.EngineStatus{
				EngineID:            snap.EngineID,
				BackendType:         string(snap.Backend),
				State:               string(snap.State),
				ConsecutiveFailures: snap.ConsecutiveFailures,
				ActiveConnections:   snap.ActiveConnections,
				IdleConnections:     snap.IdleConnections,
				AvgLatencyMS:        snap.AvgLatencyMS,
				ErrorRate:           snap.ErrorRate,
				LastProbe:           snap.LastProbe,
				Active:              snap.EngineID == active,
			})
		}
		return c.outputJSON(map[string]interface{}{"engines": statuses})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBACKEND\tSTATE\tFAILURES\tPOOL\tAVG LATENCY")
	fmt.Fprintln(w, "--\t-------\t-----\t--------\t----\t-----------")
	for _, snap := range snapshots {
		id := snap.EngineID
		if id == active {
			id += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%.1fms\n",
			id, snap.Backend, snap.State, snap.ConsecutiveFailures,
			snap.ActiveConnections, snap.ActiveConnections+snap.IdleConnections,
			snap.AvgLatencyMS)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	c.println("")
	c.println("* = active engine for the primary role")
	return nil
}

func (c *CLI) newEngineDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <engine-id>",
		Short: "Describe one engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runEngineDescribe(cmd.Context(), args[0])
		},
	}
}

func (c *CLI) runEngineDescribe(ctx context.Context, engineID string) error {
	sys, err := c.system(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	sys.Monitor.Sweep(ctx)

	snap, err := sys.Manager.Snapshot(engineID)
	if err != nil {
		return err
	}
	adapter, err := sys.Manager.Adapter(engineID)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"engine":                snap,
			"dialect":               adapter.Dialect(),
			"supports_transactions": adapter.SupportsTransactions(),
			"supports_json":         adapter.SupportsJSON(),
		})
	}

	c.printf("Engine:        %s\n", snap.EngineID)
	c.printf("Backend:       %s\n", snap.Backend)
	c.printf("State:         %s\n", snap.State)
	c.printf("Failures:      %d consecutive\n", snap.ConsecutiveFailures)
	c.printf("Pool:          %d active, %d idle\n", snap.ActiveConnections, snap.IdleConnections)
	c.printf("In flight:     %d\n", snap.InFlight)
	c.printf("Avg latency:   %.1fms\n", snap.AvgLatencyMS)
	c.printf("Error rate:    %.3f\n", snap.ErrorRate)
	c.printf("Transactions:  %v\n", adapter.SupportsTransactions())
	c.printf("JSON:          %v\n", adapter.SupportsJSON())
	return nil
}

func (c *CLI) newEngineRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <engine-id>",
		Short: "Return a failed engine to service",
		Long: `Move a failed engine back to initializing so health checks can
re-admit it. There is no automatic path out of the failed state; this
command is the operator acknowledgement that the engine was repaired.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runEngineRecover(cmd.Context(), args[0])
		},
	}
}

func (c *CLI) runEngineRecover(ctx context.Context, engineID string) error {
	sys, err := c.system(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	sys.Monitor.Sweep(ctx)
	if err := sys.Manager.Recover(engineID); err != nil {
		return err
	}
	c.printf("engine %s moved to initializing; next probe sweep decides admission\n", engineID)
	return nil
}
