package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
)

// maxListedPRs is how many open pull requests the repo summary names.
const maxListedPRs = 5

const repoOptionsSchema = `{
  "type": "object",
  "properties": {
    "repo": {"type": "string", "pattern": "^[^/\\s]+/[^/\\s]+$"}
  }
}`

const commentOptionsSchema = `{
  "type": "object",
  "properties": {
    "repo": {"type": "string", "pattern": "^[^/\\s]+/[^/\\s]+$"},
    "number": {"type": "integer", "minimum": 1},
    "body": {"type": "string", "minLength": 1, "maxLength": 65536}
  },
  "required": ["number", "body"]
}`

// RepoCommand summarizes a repository and its open pull requests.
func RepoCommand(deps Deps) dispatcher.Command {
	deps.defaults()
	return dispatcher.Command{
		Name:          "repo",
		Description:   "Show repository details and open pull requests",
		OptionsSchema: repoOptionsSchema,
		Handler: dispatcher.HandlerFunc(func(_ context.Context, in *dispatcher.Interaction) (*dispatcher.Response, error) {
			owner, name, err := splitRepo(in, deps.Owner, deps.Repo)
			if err != nil {
				return nil, err
			}
			return dispatcher.Deferred(false, func(ctx context.Context) (*dispatcher.Message, error) {
				full := owner + "/" + name
				repo, err := deps.VCS.GetRepository(ctx, owner, name)
				if err != nil {
					return nil, vcsError(err, full)
				}
				prs, err := deps.VCS.ListPullRequests(ctx, owner, name, "open", 100)
				if err != nil {
					return nil, vcsError(err, full)
				}

				var b strings.Builder
				fmt.Fprintf(&b, "**%s**", repo.FullName)
				if repo.Description != "" {
					fmt.Fprintf(&b, ": %s", repo.Description)
				}
				fmt.Fprintf(&b, "\nDefault branch: `%s`", repo.DefaultBranch)
				if !repo.PushedAt.IsZero() {
					fmt.Fprintf(&b, "\nLast push: %s", repo.PushedAt.UTC().Format("2006-01-02 15:04 MST"))
				}
				fmt.Fprintf(&b, "\nOpen pull requests: %d", len(prs))
				for i, pr := range prs {
					if i == maxListedPRs {
						fmt.Fprintf(&b, "\n- and %d more", len(prs)-maxListedPRs)
						break
					}
					draft := ""
					if pr.Draft {
						draft = " (draft)"
					}
					fmt.Fprintf(&b, "\n- #%d %s%s by %s", pr.Number, pr.Title, draft, pr.User.Login)
				}
				return &dispatcher.Message{Content: b.String()}, nil
			}), nil
		}),
	}
}

// CommentCommand posts a comment on a pull request.
func CommentCommand(deps Deps) dispatcher.Command {
	deps.defaults()
	return dispatcher.Command{
		Name:          "comment",
		Description:   "Comment on a pull request",
		OptionsSchema: commentOptionsSchema,
		Handler: dispatcher.HandlerFunc(func(_ context.Context, in *dispatcher.Interaction) (*dispatcher.Response, error) {
			owner, name, err := splitRepo(in, deps.Owner, deps.Repo)
			if err != nil {
				return nil, err
			}
			number, ok := in.IntOption("number")
			if !ok || number < 1 {
				return nil, dispatcher.NewUserError("number must be a pull request number.", nil)
			}
			body := in.StringOptionOr("body", "")
			if body == "" {
				return nil, dispatcher.NewUserError("body must not be empty.", nil)
			}
			body = fmt.Sprintf("%s\n\n_Posted from chat by %s_", body, in.UserID)

			return dispatcher.Deferred(true, func(ctx context.Context) (*dispatcher.Message, error) {
				c, err := deps.VCS.CreateIssueComment(ctx, owner, name, number, body)
				if err != nil {
					return nil, vcsError(err, fmt.Sprintf("%s/%s#%d", owner, name, number))
				}
				deps.Logger.InfoContext(ctx, "comment posted",
					"repo", owner+"/"+name, "number", number, "comment_id", c.ID, "user_id", in.UserID)
				return &dispatcher.Message{Content: "Comment posted: " + c.HTMLURL, Ephemeral: true}, nil
			}), nil
		}),
	}
}
