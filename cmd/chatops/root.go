package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:   "chatops",
		Short: "Chat-ops orchestrator",
		Long: `chatops routes slash commands and button callbacks from a chat platform to
compiled-in handlers, with role-based access control and durable flow state.

Configuration is read from the environment (CHATOPS_ENV, PERSISTENCE_ADAPTER,
VCS_TOKENS, RBAC_*, CHECK_*, ...); --env-file loads dotenv files first.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if len(envFiles) == 0 {
				return nil
			}
			// Variables already set in the environment win over the files.
			if err := godotenv.Load(envFiles...); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			return nil
		},
	}
	cmd.SetVersionTemplate("chatops {{.Version}}\n")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "load environment variables from these dotenv files")

	cmd.AddCommand(
		newServeCmd(),
		newDispatchCmd(),
		newCleanupCmd(),
		newAuthzCmd(),
		newHealthCmd(),
	)
	return cmd
}
