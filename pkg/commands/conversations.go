package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Mindburn-Labs/chatops/pkg/conversation"
	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
)

const conversationsOptionsSchema = `{
  "type": "object",
  "properties": {
    "status": {"type": "string"},
    "limit": {"type": "integer", "minimum": 1, "maximum": 100}
  }
}`

const conversationOptionsSchema = `{
  "type": "object",
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "action": {"enum": ["show", "close"]}
  },
  "required": ["id"]
}`

// defaultListed is how many conversations are listed without a limit option.
const defaultListed = 10

// ConversationsCommand lists active agent conversations.
func ConversationsCommand(deps Deps) dispatcher.Command {
	deps.defaults()
	return dispatcher.Command{
		Name:          "conversations",
		Description:   "List active agent conversations",
		OptionsSchema: conversationsOptionsSchema,
		Handler: dispatcher.HandlerFunc(func(ctx context.Context, in *dispatcher.Interaction) (*dispatcher.Response, error) {
			opts := conversation.ListOptions{MaxResults: defaultListed}
			if n, ok := in.IntOption("limit"); ok {
				opts.MaxResults = n
			}
			if raw := in.StringOptionOr("status", ""); raw != "" {
				for _, part := range strings.Split(raw, ",") {
					s, err := conversation.ParseStatus(part)
					if err != nil {
						return nil, dispatcher.NewUserError(fmt.Sprintf("Unknown status %q.", strings.TrimSpace(part)), err)
					}
					opts.Statuses = append(opts.Statuses, s)
				}
			}

			records, err := deps.Conversations.ListConversations(ctx, opts)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return dispatcher.Ephemeral("No active conversations."), nil
			}
			now := deps.Now()
			var b strings.Builder
			fmt.Fprintf(&b, "Active conversations (%d):", len(records))
			for _, r := range records {
				fmt.Fprintf(&b, "\n- `%s` %s [%s] %s", r.ConversationID, displayName(r), r.Status,
					humanize.RelTime(r.LastActivityAt, now, "ago", "from now"))
			}
			return dispatcher.Ephemeral(b.String()), nil
		}),
	}
}

// ConversationCommand shows or closes one conversation.
func ConversationCommand(deps Deps) dispatcher.Command {
	deps.defaults()
	return dispatcher.Command{
		Name:          "conversation",
		Description:   "Show or close one agent conversation",
		OptionsSchema: conversationOptionsSchema,
		Handler: dispatcher.HandlerFunc(func(ctx context.Context, in *dispatcher.Interaction) (*dispatcher.Response, error) {
			id := in.StringOptionOr("id", "")
			r, ok, err := deps.Conversations.GetConversation(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				return dispatcher.Ephemeral(fmt.Sprintf("Conversation `%s` not found.", id)), nil
			}

			if in.StringOptionOr("action", "show") == "close" {
				if r.Status == conversation.StatusCompleted {
					return dispatcher.Ephemeral(fmt.Sprintf("Conversation `%s` is already closed.", id)), nil
				}
				r.Status = conversation.StatusCompleted
				if err := deps.Conversations.SaveConversation(ctx, r); err != nil {
					return nil, err
				}
				deps.Logger.InfoContext(ctx, "conversation closed", "conversation_id", id, "user_id", in.UserID)
				return dispatcher.Ephemeral(fmt.Sprintf("Conversation `%s` closed.", id)), nil
			}
			return dispatcher.Ephemeral(renderConversation(r, deps)), nil
		}),
	}
}

func displayName(r *conversation.Record) string {
	if r.TaskName != "" {
		return r.TaskName
	}
	if r.TaskID != "" {
		return r.TaskID
	}
	return "(untitled)"
}

func renderConversation(r *conversation.Record, deps Deps) string {
	now := deps.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** `%s`\nStatus: %s", displayName(r), r.ConversationID, r.Status)
	if r.TaskType != "" {
		fmt.Fprintf(&b, "\nType: %s", r.TaskType)
	}
	if r.ChecksStatus != "" {
		fmt.Fprintf(&b, "\nChecks: %s", r.ChecksStatus)
	}
	fmt.Fprintf(&b, "\nPreview ready: %t\nDraft PR payload: %t", r.PreviewReady, r.DraftPRPayloadExists)
	fmt.Fprintf(&b, "\nStarted %s, last active %s",
		humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
		humanize.RelTime(r.LastActivityAt, now, "ago", "from now"))
	for _, u := range r.ArtifactURLs {
		fmt.Fprintf(&b, "\n- %s", u)
	}
	return b.String()
}
