package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DiagnosticCheck is one doctor check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Long: `Run comprehensive system diagnostics.

Checks:
  - configuration validity
  - engine reachability
  - active pointer assignment
  - transaction support per engine`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(cmd.Context())
		},
	}
}

func (c *CLI) runDoctor(ctx context.Context) error {
	c.println("Switchboard System Diagnostics")
	c.println("==============================")
	c.println("")

	checks := []DiagnosticCheck{}
	allPassed := true

	configCheck := c.checkConfig()
	checks = append(checks, configCheck)
	c.printCheck(configCheck)
	if !configCheck.Passed {
		allPassed = false
	}

	if configCheck.Passed {
		sys, err := c.system(ctx)
		if err != nil {
			check := DiagnosticCheck{Name: "assembly", Message: err.Error()}
			checks = append(checks, check)
			c.printCheck(check)
			allPassed = false
		} else {
			defer sys.Close()
			sys.Monitor.Sweep(ctx)

			for _, snap := range sys.Manager.Snapshots() {
				check := DiagnosticCheck{
					Name:   "engine " + snap.EngineID,
					Passed: snap.State == "healthy" || snap.State == "degraded",
					Message: fmt.Sprintf("state=%s latency=%.1fms failures=%d",
						snap.State, snap.AvgLatencyMS, snap.ConsecutiveFailures),
				}
				checks = append(checks, check)
				c.printCheck(check)
				if !check.Passed {
					allPassed = false
				}
			}

			active, err := sys.Manager.Active("")
			pointerCheck := DiagnosticCheck{Name: "active pointer", Passed: err == nil}
			if err == nil {
				pointerCheck.Message = "primary -> " + active
			} else {
				pointerCheck.Message = err.Error()
				allPassed = false
			}
			checks = append(checks, pointerCheck)
			c.printCheck(pointerCheck)
		}
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"checks": checks,
			"passed": allPassed,
		})
	}

	c.println("")
	if allPassed {
		c.println("All checks passed.")
		return nil
	}
	return fmt.Errorf("diagnostics found problems")
}

func (c *CLI) checkConfig() DiagnosticCheck {
	if c.cfg == nil {
		return DiagnosticCheck{Name: "configuration", Message: "no configuration loaded"}
	}
	if len(c.cfg.Engines) == 0 {
		return DiagnosticCheck{Name: "configuration", Message: "no engines configured"}
	}
	return DiagnosticCheck{
		Name:    "configuration",
		Passed:  true,
		Message: fmt.Sprintf("%d engines configured", len(c.cfg.Engines)),
	}
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	mark := "✗"
	if check.Passed {
		mark = "✓"
	}
	c.printf("%s %-16s %s\n", mark, check.Name, check.Message)
}
