package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
	"github.com/Mindburn-Labs/chatops/pkg/transport"
)

type dispatchFlags struct {
	user     string
	roles    []string
	env      string
	opts     map[string]string
	customID string
	file     string
}

func newDispatchCmd() *cobra.Command {
	f := &dispatchFlags{}
	cmd := &cobra.Command{
		Use:   "dispatch [command]",
		Short: "Dispatch one interaction and print the response",
		Long: `Builds an interaction from flags (or reads one as JSON with --file) and runs
it through authorization and the command registry. The response and any
follow-up are printed to stdout as JSON lines.`,
		Example: `  chatops dispatch help
  chatops dispatch ship --user U1 --role R-ops --opt env=staging --opt ref=v1.4.0
  chatops dispatch --custom-id ship:confirm:ship-staging-1700000000 --user U1
  echo '{"type":"command","name":"help","userId":"U1"}' | chatops dispatch --file -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.interaction(args, cmd.InOrStdin())
			if err != nil {
				return &exitError{code: 2, msg: err.Error()}
			}

			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			if in.Environment == "" {
				in.Environment = a.cfg.Environment
			}

			out := cmd.OutOrStdout()
			resp := a.dispatcher.Dispatch(cmd.Context(), in)
			if err := json.NewEncoder(out).Encode(resp); err != nil {
				return err
			}
			return a.dispatcher.Complete(cmd.Context(), in, resp, transport.NewWriterSender(out))
		},
	}
	cmd.Flags().StringVar(&f.user, "user", "cli", "user id of the caller")
	cmd.Flags().StringSliceVar(&f.roles, "role", nil, "role ids of the caller")
	cmd.Flags().StringVar(&f.env, "env", "", "environment (default CHATOPS_ENV)")
	cmd.Flags().StringToStringVar(&f.opts, "opt", nil, "command option as key=value; values that parse as JSON are decoded")
	cmd.Flags().StringVar(&f.customID, "custom-id", "", "dispatch a component callback with this custom id")
	cmd.Flags().StringVar(&f.file, "file", "", "read the interaction as JSON from a file (- for stdin)")
	return cmd
}

func (f *dispatchFlags) interaction(args []string, stdin io.Reader) (*dispatcher.Interaction, error) {
	if f.file != "" {
		return readInteraction(f.file, stdin)
	}

	in := &dispatcher.Interaction{UserID: f.user, RoleIDs: f.roles, Environment: f.env}
	switch {
	case f.customID != "" && len(args) > 0:
		return nil, fmt.Errorf("pass either a command or --custom-id, not both")
	case f.customID != "":
		in.Type = dispatcher.TypeComponent
		in.CustomID = f.customID
	case len(args) == 1:
		in.Type = dispatcher.TypeCommand
		in.Name = args[0]
	default:
		return nil, fmt.Errorf("a command name, --custom-id or --file is required")
	}

	if len(f.opts) > 0 {
		in.Options = make(map[string]any, len(f.opts))
		for k, v := range f.opts {
			in.Options[k] = optionValue(v)
		}
	}
	return in, nil
}

// optionValue decodes v as JSON when it is a number, boolean or quoted
// string, and keeps it as a plain string otherwise.
func optionValue(v string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(v)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil || dec.More() {
		return v
	}
	switch out.(type) {
	case json.Number, bool, string:
		return out
	}
	return v
}

func readInteraction(path string, stdin io.Reader) (*dispatcher.Interaction, error) {
	var r io.Reader = stdin
	if path != "-" {
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		r = fh
	}
	var in dispatcher.Interaction
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode interaction: %w", err)
	}
	return &in, nil
}
