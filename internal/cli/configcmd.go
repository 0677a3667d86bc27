package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *CLI) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(c.newConfigInitCmd())
	cmd.AddCommand(c.newConfigShowCmd())
	return cmd
}

func (c *CLI) newConfigInitCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Write a starter configuration with one embedded SQLite engine and
one document store, ready to edit. Existing files are never overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runConfigInit(out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "config.yaml", "output path")
	return cmd
}

func (c *CLI) runConfigInit(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; refusing to overwrite", path)
	}

	starter := map[string]interface{}{
		"engines": []map[string]interface{}{
			{
				"id":     "local",
				"kind":   "sqlite",
				"sqlite": map[string]string{"path": "switchboard.db"},
			},
			{
				"id":       "documents",
				"kind":     "docstore",
				"docstore": map[string]string{"path": "documents.db"},
			},
		},
		"pool": map[string]interface{}{
			"max_connections":    10,
			"min_connections":    1,
			"connection_timeout": "5s",
			"idle_timeout":       "5m",
			"max_lifetime":       "30m",
		},
		"monitor": map[string]interface{}{
			"interval":                 "30s",
			"probe_timeout":            "5s",
			"degraded_latency_ms":      1000,
			"max_consecutive_failures": 3,
		},
		"switch": map[string]string{"drain_timeout": "30s"},
		"audit":  map[string]string{"mode": "json", "path": "audit.log"},
	}

	data, err := yaml.Marshal(starter)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	c.printf("wrote %s\n", path)
	return nil
}

func (c *CLI) newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.jsonOutput {
				return c.outputJSON(c.cfg)
			}
			data, err := yaml.Marshal(c.cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}
