package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/chatops/pkg/authz"
)

func newAuthzCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authz",
		Short: "Inspect the permission matrix",
	}
	cmd.AddCommand(newAuthzCheckCmd(), newAuthzListCmd())
	return cmd
}

func newAuthzCheckCmd() *cobra.Command {
	var (
		user  string
		roles []string
		env   string
	)
	cmd := &cobra.Command{
		Use:   "check <command>",
		Short: "Show whether a caller may run a command",
		Long:  "Evaluates the configured matrix for one caller. Exits 3 when the call is denied.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := newAuthz(cfg.RBAC)
			if err != nil {
				return err
			}
			if env == "" {
				env = cfg.Environment
			}

			d := engine.Authorize(args[0], user, roles, env)
			verdict := "allowed"
			if !d.Allowed {
				verdict = "denied"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", authz.NormalizeCommand(args[0]), verdict, d.Reason)
			if !d.Allowed {
				return &exitError{code: 3}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id of the caller")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role ids of the caller")
	cmd.Flags().StringVar(&env, "env", "", "environment (default CHATOPS_ENV)")
	return cmd
}

func newAuthzListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the matrix entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := newAuthz(cfg.RBAC)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "COMMAND\tAUTH\tROLES\tUSERS\tBYPASS ENV")
			m := engine.Matrix()
			for _, name := range m.Commands() {
				e, _ := m.Lookup(name)
				_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", name, e.RequiresAuth,
					orDash(strings.Join(e.AllowedRoleIDs, ",")),
					orDash(strings.Join(e.AllowedUserIDs, ",")),
					orDash(e.BypassOnEnv))
			}
			return tw.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
