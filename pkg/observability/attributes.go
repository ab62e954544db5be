package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	AttrInteractionType = attribute.Key("chatops.interaction.type")
	AttrCommand         = attribute.Key("chatops.command")
	AttrEnvironment     = attribute.Key("chatops.environment")
	AttrAuthzReason     = attribute.Key("chatops.authz.reason")
	AttrBackend         = attribute.Key("chatops.store.backend")
)

// InteractionOperation describes one dispatched interaction.
func InteractionOperation(interactionType, command, environment string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInteractionType.String(interactionType),
		AttrCommand.String(command),
		AttrEnvironment.String(environment),
	}
}

// SweepOperation describes one cleanup pass over the given backends.
func SweepOperation(stateBackend, conversationBackend string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBackend.String(stateBackend + "," + conversationBackend),
	}
}

// AddSpanEvent adds an event to the span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
