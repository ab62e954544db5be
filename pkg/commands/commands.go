// Package commands holds the compiled-in chat commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/artifacts"
	"github.com/Mindburn-Labs/chatops/pkg/checks"
	"github.com/Mindburn-Labs/chatops/pkg/conversation"
	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
	"github.com/Mindburn-Labs/chatops/pkg/retry"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
	"github.com/Mindburn-Labs/chatops/pkg/vcs"
)

// VCS is the part of the VCS client the commands use.
type VCS interface {
	GetRepository(ctx context.Context, owner, repo string) (*vcs.Repository, error)
	ListPullRequests(ctx context.Context, owner, repo, state string, limit int) ([]vcs.PullRequest, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*vcs.Comment, error)
}

// CheckRunner runs the health checks.
type CheckRunner interface {
	Run(ctx context.Context) ([]checks.Result, error)
	Mode() string
}

// Deps are the collaborators shared by the commands. Nil collaborators
// disable the commands that need them.
type Deps struct {
	State         statestore.Store
	Conversations conversation.Store
	VCS           VCS
	Owner         string
	Repo          string
	Checks        CheckRunner
	Artifacts     artifacts.Store
	Deploy        DeployTrigger
	Now           func() time.Time
	Logger        *slog.Logger
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default().With("component", "commands")
	}
}

// RegisterAll registers every command whose dependencies are present.
// help is always registered.
func RegisterAll(reg *dispatcher.Registry, deps Deps) error {
	deps.defaults()
	cmds := []dispatcher.Command{HelpCommand(reg)}
	if deps.State != nil {
		cmds = append(cmds, ShipCommand(deps))
	}
	if deps.VCS != nil {
		cmds = append(cmds, RepoCommand(deps), CommentCommand(deps))
	}
	if deps.Checks != nil {
		cmds = append(cmds, HealthCommand(deps))
	}
	if deps.Conversations != nil {
		cmds = append(cmds, ConversationsCommand(deps), ConversationCommand(deps))
	}
	for _, c := range cmds {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// HelpCommand lists the registered commands.
func HelpCommand(reg *dispatcher.Registry) dispatcher.Command {
	return dispatcher.Command{
		Name:        "help",
		Description: "List available commands",
		Handler: dispatcher.HandlerFunc(func(context.Context, *dispatcher.Interaction) (*dispatcher.Response, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "- /%s: %s\n", c.Name, c.Description)
			}
			return dispatcher.Ephemeral(strings.TrimRight(b.String(), "\n")), nil
		}),
	}
}

// vcsError picks the wording for a failed VCS call.
func vcsError(err error, what string) error {
	switch {
	case retry.StatusCode(err) == http.StatusNotFound:
		return dispatcher.NewUserError(fmt.Sprintf("%s was not found.", what), err)
	case retry.StatusCode(err) == http.StatusUnauthorized, retry.StatusCode(err) == http.StatusForbidden:
		return dispatcher.NewUserError("The bot is not allowed to access "+what+".", err)
	case errors.Is(err, retry.ErrExhausted):
		return dispatcher.NewUserError("GitHub is not responding right now. Please try again later.", err)
	}
	return err
}

// splitRepo reads an optional "owner/name" option, falling back to the defaults.
func splitRepo(in *dispatcher.Interaction, owner, repo string) (string, string, error) {
	v := in.StringOptionOr("repo", "")
	if v == "" {
		if owner == "" || repo == "" {
			return "", "", dispatcher.NewUserError("No repository configured. Pass repo:owner/name.", nil)
		}
		return owner, repo, nil
	}
	o, r, ok := strings.Cut(v, "/")
	if !ok || o == "" || r == "" || strings.Contains(r, "/") {
		return "", "", dispatcher.NewUserError(fmt.Sprintf("%q is not an owner/name repository.", v), nil)
	}
	return o, r, nil
}
