package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/chatops/pkg/checks"
)

func newHealthCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run the lint, test and build checks locally",
		Long:  "Runs the configured checks (CHECK_MODE, CHECK_*_CMD). Exits 1 when any check fails or errors.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			runner := checks.NewRunner(cfg.Checks, checks.WithLogger(logger.With("component", "checks")))

			results, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			overall := checks.Overall(results)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{"mode": runner.Mode(), "overall": overall, "results": results}); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "CHECK\tSTATUS\tEXIT\tDURATION")
				for _, r := range results {
					status := string(r.Status)
					if r.Mocked {
						status += " (mock)"
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Name, status, r.ExitCode, r.Duration.Round(time.Millisecond))
				}
				_ = tw.Flush()
				_, _ = fmt.Fprintf(out, "overall: %s\n", overall)
			}

			if overall == checks.StatusFail || overall == checks.StatusError {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}
