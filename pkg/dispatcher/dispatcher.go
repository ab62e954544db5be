// Package dispatcher routes inbound interactions to compiled-in commands.
//
// Dispatch never returns an error and never panics: every path, including
// unknown commands, denied callers, handler failures and handler panics,
// ends in a reply the platform can deliver.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/chatops/pkg/authz"
	"github.com/Mindburn-Labs/chatops/pkg/conversation"
	"github.com/Mindburn-Labs/chatops/pkg/observability"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
)

// User-facing texts. Failure detail goes to the logs, never to the user.
const (
	UnknownCommandMessage = "Unknown command."
	ErrorMessage          = "Something went wrong while running this command. Please try again."
	UnavailableMessage    = "State storage is temporarily unavailable. Please try again in a moment."
	InvalidOptionsMessage = "Invalid options for this command. Run /help for usage."
)

// Authorizer decides whether a caller may run a command.
type Authorizer interface {
	Authorize(command, userID string, roleIDs []string, env string) authz.Decision
}

// FollowUpSender delivers the follow-up message of a deferred response.
type FollowUpSender interface {
	SendFollowUp(ctx context.Context, in *Interaction, msg *Message) error
}

// UserError carries wording a handler chose for the user. The wrapped error
// is only logged.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }

// NewUserError wraps err with a user-facing message.
func NewUserError(msg string, err error) error {
	return &UserError{Message: msg, Err: err}
}

// PanicError is a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

type Dispatcher struct {
	registry        *Registry
	authorizer      Authorizer
	obs             *observability.Provider
	logger          *slog.Logger
	followUpTimeout time.Duration
	now             func() time.Time
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithObservability(p *observability.Provider) Option {
	return func(d *Dispatcher) { d.obs = p }
}

// WithFollowUpTimeout bounds deferred work. Zero means no bound.
func WithFollowUpTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.followUpTimeout = t }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(registry *Registry, authorizer Authorizer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:        registry,
		authorizer:      authorizer,
		logger:          slog.Default().With("component", "dispatcher"),
		followUpTimeout: 10 * time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.obs == nil {
		d.obs = observability.Noop()
	}
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch resolves, authorizes and runs one interaction.
func (d *Dispatcher) Dispatch(ctx context.Context, in *Interaction) (resp *Response) {
	if in == nil {
		return Ephemeral(ErrorMessage)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = d.now()
	}
	log := d.logger.With("interaction_id", in.ID, "type", string(in.Type), "target", in.Target(), "user_id", in.UserID)

	ctx, finish := d.obs.TrackOperation(ctx, "chatops.dispatch",
		observability.InteractionOperation(string(in.Type), in.Target(), in.Environment)...)
	var failure error
	defer func() { finish(failure) }()

	cmd, err := d.resolve(in)
	if err != nil {
		log.InfoContext(ctx, "unknown command")
		return Ephemeral(UnknownCommandMessage)
	}

	decision := d.authorizer.Authorize(cmd.Name, in.UserID, in.RoleIDs, in.Environment)
	if !decision.Allowed {
		log.WarnContext(ctx, "authorization denied",
			"command", cmd.Name,
			"roles", in.RoleIDs,
			"environment", in.Environment,
			"reason", string(decision.Reason),
		)
		observability.AddSpanEvent(ctx, "authorization_denied", observability.AttrAuthzReason.String(string(decision.Reason)))
		d.obs.RecordDenial(ctx, cmd.Name, string(decision.Reason))
		return Ephemeral(authz.DeniedMessage)
	}
	log.DebugContext(ctx, "authorized", "command", cmd.Name, "reason", string(decision.Reason))

	if in.Type == TypeCommand {
		if err := d.registry.ValidateOptions(cmd.Name, in.Options); err != nil {
			log.InfoContext(ctx, "rejected options", "command", cmd.Name, "error", err)
			return Ephemeral(InvalidOptionsMessage)
		}
	}

	resp, err = d.invoke(ctx, cmd, in)
	if err != nil {
		failure = err
		return d.failureResponse(ctx, log, cmd.Name, err)
	}
	if resp == nil {
		failure = errors.New("handler returned no response")
		log.ErrorContext(ctx, "handler returned no response", "command", cmd.Name)
		return Ephemeral(ErrorMessage)
	}
	return resp
}

// Complete runs the follow-up of a deferred response and sends exactly one
// follow-up message, which is an error text when the work failed.
// Non-deferred responses are ignored.
func (d *Dispatcher) Complete(ctx context.Context, in *Interaction, resp *Response, sender FollowUpSender) error {
	if resp == nil || resp.Kind != KindDeferred {
		return nil
	}
	log := d.logger.With("interaction_id", in.ID, "target", in.Target(), "user_id", in.UserID)

	ctx, finish := d.obs.TrackOperation(ctx, "chatops.followup",
		observability.InteractionOperation(string(in.Type), in.Target(), in.Environment)...)

	msg, err := d.runFollowUp(ctx, resp.FollowUp)
	finish(err)

	ephemeral := resp.Message != nil && resp.Message.Ephemeral
	switch {
	case err != nil:
		msg = d.failureResponse(ctx, log, in.Target(), err).Message
	case msg == nil:
		log.ErrorContext(ctx, "follow-up produced no message")
		msg = &Message{Content: ErrorMessage, Ephemeral: true}
	default:
		msg.Ephemeral = msg.Ephemeral || ephemeral
	}

	if err := sender.SendFollowUp(ctx, in, msg); err != nil {
		log.ErrorContext(ctx, "follow-up delivery failed", "error", err)
		return fmt.Errorf("dispatcher: send follow-up: %w", err)
	}
	return nil
}

func (d *Dispatcher) resolve(in *Interaction) (Command, error) {
	switch in.Type {
	case TypeCommand:
		return d.registry.Resolve(in.Name)
	case TypeComponent:
		return d.registry.ResolveComponent(in.CustomID)
	}
	return Command{}, ErrCommandNotFound
}

func (d *Dispatcher) invoke(ctx context.Context, cmd Command, in *Interaction) (resp *Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			resp, err = nil, &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	if in.Type == TypeComponent {
		ch, ok := cmd.Handler.(ComponentHandler)
		if !ok {
			return nil, fmt.Errorf("%w: %s cannot handle components", ErrInvalidCommand, cmd.Name)
		}
		return ch.HandleComponent(ctx, in)
	}
	return cmd.Handler.Execute(ctx, in)
}

func (d *Dispatcher) runFollowUp(ctx context.Context, fn FollowUpFunc) (msg *Message, err error) {
	if fn == nil {
		return nil, errors.New("deferred response has no follow-up")
	}
	if d.followUpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.followUpTimeout)
		defer cancel()
	}
	defer func() {
		if v := recover(); v != nil {
			msg, err = nil, &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// failureResponse maps a handler error onto the reply the user sees.
func (d *Dispatcher) failureResponse(ctx context.Context, log *slog.Logger, command string, err error) *Response {
	var pe *PanicError
	if errors.As(err, &pe) {
		log.ErrorContext(ctx, "handler panicked", "command", command, "panic", fmt.Sprint(pe.Value), "stack", string(pe.Stack))
		return Ephemeral(ErrorMessage)
	}

	log.ErrorContext(ctx, "handler failed", "command", command, "error", err)
	var ue *UserError
	switch {
	case errors.Is(err, statestore.ErrUnavailable), errors.Is(err, conversation.ErrUnavailable):
		return Ephemeral(UnavailableMessage)
	case errors.As(err, &ue) && ue.Message != "":
		return Ephemeral(ue.Message)
	default:
		return Ephemeral(ErrorMessage)
	}
}
