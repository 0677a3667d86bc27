package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/switchboard-data/switchboard/internal/history"
	"github.com/switchboard-data/switchboard/pkg/models"
)

func (c *CLI) newSwitchCmd() *cobra.Command {
	var (
		role      string
		reason    string
		emergency bool
	)
	cmd := &cobra.Command{
		Use:   "switch <target-engine-id>",
		Short: "Repoint a role to another engine",
		Long: `Gracefully switch the active engine for a role: the target is
validated, in-flight work on the outgoing engine drains, the pointer
swaps atomically, and the target is confirmed before the switch counts.

With --emergency the drain and validation are skipped and the role is
repointed immediately.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return c.runSwitch(cmd.Context(), role, target, reason, emergency)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "logical role to repoint (default: primary)")
	cmd.Flags().StringVar(&reason, "reason", "operator request", "reason recorded with the switch event")
	cmd.Flags().BoolVar(&emergency, "emergency", false, "skip drain and validation, fail over now")

	cmd.AddCommand(c.newSwitchHistoryCmd())
	return cmd
}

func (c *CLI) runSwitch(ctx context.Context, role, target, reason string, emergency bool) error {
	sys, err := c.system(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	sys.Monitor.Sweep(ctx)

	if emergency {
		if err := sys.Manager.EmergencyFailover(role, reason); err != nil {
			return err
		}
	} else {
		if target == "" {
			return fmt.Errorf("a target engine id is required for a graceful switch")
		}
		if err := sys.Manager.Switch(ctx, role, target, reason, history.KindGraceful); err != nil {
			return err
		}
	}

	active, err := sys.Manager.Active(role)
	if err != nil {
		return err
	}
	c.printf("active engine is now %s\n", active)
	return nil
}

func (c *CLI) newSwitchHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent switch events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSwitchHistory(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to show")
	return cmd
}

func (c *CLI) runSwitchHistory(ctx context.Context, limit int) error {
	sys, err := c.system(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	events, err := sys.History.Recent(ctx, limit)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		records := make([]models.SwitchRecord, 0, len(events))
		for _, event := range events {
			records = append(records, models.SwitchRecord{
				ID:         event.ID,
				Kind:       string(event.Kind),
				Role:       event.Role,
				FromEngine: event.FromEngine,
				ToEngine:   event.ToEngine,
				Reason:     event.Reason,
				Success:    event.Success,
				Error:      event.Error,
				StartedAt:  event.StartedAt,
				DurationMS: event.DurationMS,
			})
		}
		return c.outputJSON(map[string]interface{}{"events": records})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tKIND\tROLE\tFROM\tTO\tOK\tREASON")
	fmt.Fprintln(w, "----\t----\t----\t----\t--\t--\t------")
	for _, event := range events {
		ok := "yes"
		if !event.Success {
			ok = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.StartedAt.Format("2006-01-02 15:04:05"),
			event.Kind, event.Role, event.FromEngine, event.ToEngine, ok, event.Reason)
	}
	return w.Flush()
}
