package dispatcher

import "context"

// ResponseKind is how the platform should treat a reply.
type ResponseKind string

const (
	// KindMessage is an immediate reply.
	KindMessage ResponseKind = "message"
	// KindDeferred acknowledges now; the follow-up message is sent later.
	KindDeferred ResponseKind = "deferred"
	// KindUpdate replaces the message that carried the clicked component.
	KindUpdate ResponseKind = "update"
)

type ButtonStyle string

const (
	StylePrimary   ButtonStyle = "primary"
	StyleSecondary ButtonStyle = "secondary"
	StyleDanger    ButtonStyle = "danger"
)

type Button struct {
	Label    string      `json:"label"`
	CustomID string      `json:"customId"`
	Style    ButtonStyle `json:"style"`
}

type Message struct {
	Content    string   `json:"content"`
	Ephemeral  bool     `json:"ephemeral,omitempty"`
	Components []Button `json:"components,omitempty"`
}

// FollowUpFunc produces the follow-up message of a deferred response.
type FollowUpFunc func(ctx context.Context) (*Message, error)

// Response is what a handler returns for one interaction.
type Response struct {
	Kind    ResponseKind `json:"kind"`
	Message *Message     `json:"message,omitempty"`
	// FollowUp runs after the acknowledgement when Kind is KindDeferred.
	FollowUp FollowUpFunc `json:"-"`
}

func Reply(content string) *Response {
	return &Response{Kind: KindMessage, Message: &Message{Content: content}}
}

// Ephemeral is a reply only the invoking user sees.
func Ephemeral(content string) *Response {
	return &Response{Kind: KindMessage, Message: &Message{Content: content, Ephemeral: true}}
}

// Deferred acknowledges immediately and runs fn afterwards.
func Deferred(ephemeral bool, fn FollowUpFunc) *Response {
	return &Response{Kind: KindDeferred, Message: &Message{Ephemeral: ephemeral}, FollowUp: fn}
}

func Update(msg *Message) *Response {
	return &Response{Kind: KindUpdate, Message: msg}
}
