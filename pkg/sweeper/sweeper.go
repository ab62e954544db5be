// Package sweeper removes expired state entries and inactive conversations.
//
// A sweep only runs when something asks for it: the cleanup CLI command, an
// external scheduler, or the optional ticker started by the long-running
// server when CLEANUP_INTERVAL is set.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/conversation"
	"github.com/Mindburn-Labs/chatops/pkg/observability"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
)

// Report is the outcome of one sweep.
type Report struct {
	StateRemoved        int           `json:"stateRemoved"`
	ConversationRemoved int           `json:"conversationRemoved"`
	Duration            time.Duration `json:"duration"`
}

type Sweeper struct {
	State           statestore.Store
	Conversations   conversation.Store
	ConversationTTL time.Duration

	Logger *slog.Logger
	Obs    *observability.Provider
}

// RunOnce sweeps both stores. Either store may be nil. A failure in one
// store does not stop the other; the errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	log := s.logger()
	obs := s.Obs
	if obs == nil {
		obs = observability.Noop()
	}
	ctx, finish := obs.TrackOperation(ctx, "chatops.sweep", observability.SweepOperation(backend(s.State), backend(s.Conversations))...)

	start := time.Now()
	var (
		rep  Report
		errs []error
	)
	if s.State != nil {
		n, err := s.State.CleanupExpired(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		rep.StateRemoved = n
		obs.RecordSwept(ctx, s.State.Backend(), "state", n)
	}
	if s.Conversations != nil {
		n, err := s.Conversations.CleanupExpired(ctx, s.ConversationTTL)
		if err != nil {
			errs = append(errs, err)
		}
		rep.ConversationRemoved = n
		obs.RecordSwept(ctx, s.Conversations.Backend(), "conversation", n)
	}
	rep.Duration = time.Since(start)

	err := errors.Join(errs...)
	finish(err)
	if err != nil {
		log.ErrorContext(ctx, "sweep failed", "error", err, "state_removed", rep.StateRemoved, "conversations_removed", rep.ConversationRemoved)
		return rep, err
	}
	log.InfoContext(ctx, "sweep finished", "state_removed", rep.StateRemoved, "conversations_removed", rep.ConversationRemoved, "duration", rep.Duration)
	return rep, nil
}

// Start sweeps every interval until ctx is done. It blocks; run it in its
// own goroutine.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default().With("component", "sweeper")
}

func backend(b interface{ Backend() string }) string {
	if b == nil {
		return "none"
	}
	return b.Backend()
}
