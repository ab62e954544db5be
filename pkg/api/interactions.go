package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
)

const maxBodyBytes = 1 << 20

// Handler serves POST /interactions and GET /healthz.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	sender     dispatcher.FollowUpSender
	replay     *ReplayCache
	limiter    *RateLimiter
	backends   map[string]string
	logger     *slog.Logger

	// base outlives individual requests so follow-ups finish after the
	// acknowledgement has been written.
	base    context.Context
	pending sync.WaitGroup
}

type HandlerOption func(*Handler)

func WithReplayCache(c *ReplayCache) HandlerOption {
	return func(h *Handler) { h.replay = c }
}

func WithRateLimiter(rl *RateLimiter) HandlerOption {
	return func(h *Handler) { h.limiter = rl }
}

// WithBackend reports a storage backend on /healthz.
func WithBackend(name, backend string) HandlerOption {
	return func(h *Handler) { h.backends[name] = backend }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithBaseContext sets the parent context of follow-up work.
func WithBaseContext(ctx context.Context) HandlerOption {
	return func(h *Handler) { h.base = ctx }
}

func NewHandler(d *dispatcher.Dispatcher, sender dispatcher.FollowUpSender, opts ...HandlerOption) *Handler {
	h := &Handler{
		dispatcher: d,
		sender:     sender,
		backends:   make(map[string]string),
		logger:     slog.Default().With("component", "api"),
		base:       context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the HTTP handler with middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /interactions", h.handleInteraction)
	mux.HandleFunc("GET /healthz", h.handleHealth)

	var handler http.Handler = mux
	if h.limiter != nil {
		handler = h.limiter.Middleware(handler)
	}
	return RequestID(Recover(h.logger)(handler))
}

// Wait blocks until every running follow-up has been sent.
func (h *Handler) Wait() {
	h.pending.Wait()
}

func (h *Handler) handleInteraction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var in dispatcher.Interaction
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	switch {
	case in.Type != dispatcher.TypeCommand && in.Type != dispatcher.TypeComponent:
		WriteBadRequest(w, r, `type must be "command" or "component"`)
		return
	case in.UserID == "":
		WriteBadRequest(w, r, "Missing required field: userId")
		return
	case in.Target() == "":
		WriteBadRequest(w, r, "Missing command name or customId")
		return
	}

	ctx := r.Context()
	replayable := h.replay != nil && in.ID != ""
	if replayable {
		cached, ok, err := h.replay.Lookup(ctx, in.ID)
		switch {
		case err != nil:
			h.logger.WarnContext(ctx, "replay lookup failed", "interaction_id", in.ID, "error", err)
		case ok:
			h.logger.InfoContext(ctx, "replaying response", "interaction_id", in.ID)
			w.Header().Set("X-Replayed", "true")
			writeJSON(w, cached)
			return
		}
	}

	resp := h.dispatcher.Dispatch(ctx, &in)
	if replayable {
		if err := h.replay.Remember(ctx, in.ID, resp); err != nil {
			h.logger.WarnContext(ctx, "replay store failed", "interaction_id", in.ID, "error", err)
		}
	}
	if resp.Kind != dispatcher.KindDeferred {
		writeJSON(w, resp)
		return
	}

	h.pending.Add(1)
	writeJSON(w, resp)
	go func() {
		defer h.pending.Done()
		// Errors are logged by Complete.
		_ = h.dispatcher.Complete(h.base, &in, resp, h.sender)
	}()
}

type healthResponse struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends,omitempty"`
	Commands int               `json:"commands"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, healthResponse{
		Status:   "ok",
		Backends: h.backends,
		Commands: len(h.dispatcher.Registry().List()),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
