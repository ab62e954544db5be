package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired flow state and stale conversations once",
		Long: `Runs a single sweep: deletes expired state entries (backends with native
expiry report 0) and conversations inactive for longer than
CONVERSATION_TTL_HOURS. Meant for cron or an external scheduler.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			rep, err := a.sweeper.RunOnce(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d state entries and %d conversations in %s\n",
				rep.StateRemoved, rep.ConversationRemoved, rep.Duration)
			return err
		},
	}
}
