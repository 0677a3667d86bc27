package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/switchboard-data/switchboard/internal/core"
	"github.com/switchboard-data/switchboard/internal/value"
	"github.com/switchboard-data/switchboard/pkg/models"
)

func (c *CLI) newQueryCmd() *cobra.Command {
	var (
		engineID    string
		principal   string
		timeoutMS   int
		rawParams   []string
		requestFile string
	)
	cmd := &cobra.Command{
		Use:   "query [command]",
		Short: "Execute one command",
		Long: `Execute one command through the full pipeline: authorization,
security gate, preparation, and pooled execution.

Placeholders bind positionally from --param flags. Values parse as JSON
first (numbers, booleans, null), falling back to plain strings:

  switchboard query 'SELECT * FROM users WHERE id = $1' --param 42
  switchboard query '{"op":"get","collection":"sessions","key":"$1"}' \
      --engine cache --param abc123

Alternatively --request loads a full request from a JSON file:

  switchboard query --request report.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestFile != "" {
				if len(args) > 0 {
					return fmt.Errorf("--request and a command argument are mutually exclusive")
				}
				req, err := loadRequest(requestFile)
				if err != nil {
					return err
				}
				return c.runQuery(cmd.Context(), req)
			}
			if len(args) != 1 {
				return fmt.Errorf("a command argument or --request is required")
			}
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			return c.runQuery(cmd.Context(), core.Request{
				EngineID:  engineID,
				Command:   args[0],
				Params:    params,
				TimeoutMS: timeoutMS,
				Principal: principal,
				Source:    "cli",
			})
		},
	}
	cmd.Flags().StringVar(&engineID, "engine", "", "target engine (default: primary active engine)")
	cmd.Flags().StringVar(&principal, "principal", "cli", "principal recorded for authorization and audit")
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "execution timeout in milliseconds")
	cmd.Flags().StringArrayVar(&rawParams, "param", nil, "positional parameter, repeatable")
	cmd.Flags().StringVar(&requestFile, "request", "", "path to a JSON request file")
	return cmd
}

// loadRequest reads a models.ExecuteRequest from a JSON file and maps it
// to an internal request.
func loadRequest(path string) (core.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Request{}, fmt.Errorf("reading request file: %w", err)
	}
	var ext models.ExecuteRequest
	if err := json.Unmarshal(data, &ext); err != nil {
		return core.Request{}, fmt.Errorf("parsing request file: %w", err)
	}
	if ext.Command == "" {
		return core.Request{}, fmt.Errorf("request file: command is required")
	}
	params := make([]value.Value, 0, len(ext.Params))
	for _, p := range ext.Params {
		switch typed := p.(type) {
		case nil:
			params = append(params, value.Null())
		case bool:
			params = append(params, value.Bool(typed))
		case float64:
			if typed == float64(int64(typed)) {
				params = append(params, value.Int64(int64(typed)))
			} else {
				params = append(params, value.Float64(typed))
			}
		case string:
			params = append(params, value.String(typed))
		default:
			return core.Request{}, fmt.Errorf("request file: arrays and objects are not bindable")
		}
	}
	principal := ext.Principal
	if principal == "" {
		principal = "cli"
	}
	return core.Request{
		EngineID:      ext.EngineID,
		Command:       ext.Command,
		Params:        params,
		TimeoutMS:     ext.TimeoutMS,
		TransactionID: ext.TransactionID,
		Principal:     principal,
		Source:        "cli",
	}, nil
}

func (c *CLI) runQuery(ctx context.Context, req core.Request) error {
	sys, err := c.system(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	sys.Monitor.Sweep(ctx)

	start := time.Now()
	resp, err := sys.Core.Execute(ctx, req)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		out := models.ExecuteResponse{
			Engine:       resp.EngineID,
			Rows:         rowsAsMaps(resp.Result),
			RowCount:     resp.Result.RowCount(),
			RowsAffected: resp.Result.RowsAffected,
			LastInsertID: resp.Result.LastInsertID,
			Duration:     time.Since(start).String(),
		}
		if len(resp.Result.Rows) > 0 {
			out.Columns = resp.Result.Rows[0].Columns
		}
		return c.outputJSON(out)
	}

	if len(resp.Result.Rows) == 0 {
		c.printf("ok (engine %s, %d rows affected)\n", resp.EngineID, resp.Result.Affected())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := resp.Result.Rows[0].Columns
	for i, col := range header {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col)
	}
	fmt.Fprintln(w)
	for _, row := range resp.Result.Rows {
		for i, v := range row.Values {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprintf(w, "%v", v.Native())
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	c.printf("\n%d rows (engine %s)\n", resp.Result.RowCount(), resp.EngineID)
	return nil
}

// parseParams converts CLI strings to typed values: JSON scalars when
// they parse, plain strings otherwise.
func parseParams(raw []string) ([]value.Value, error) {
	params := make([]value.Value, 0, len(raw))
	for _, s := range raw {
		var parsed interface{}
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			params = append(params, value.String(s))
			continue
		}
		switch typed := parsed.(type) {
		case nil:
			params = append(params, value.Null())
		case bool:
			params = append(params, value.Bool(typed))
		case float64:
			if typed == float64(int64(typed)) {
				params = append(params, value.Int64(int64(typed)))
			} else {
				params = append(params, value.Float64(typed))
			}
		case string:
			params = append(params, value.String(typed))
		default:
			return nil, fmt.Errorf("parameter %q: arrays and objects are not bindable", s)
		}
	}
	return params, nil
}

func rowsAsMaps(result *value.QueryResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(result.Rows))
	for _, row := range result.Rows {
		m := make(map[string]interface{}, len(row.Columns))
		for i, col := range row.Columns {
			m[col] = row.Values[i].Native()
		}
		out = append(out, m)
	}
	return out
}
