package sweeper_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chatops/pkg/conversation"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
	"github.com/Mindburn-Labs/chatops/pkg/sweeper"
)

type brokenConversations struct {
	conversation.Store
	calls atomic.Int32
}

func (b *brokenConversations) CleanupExpired(context.Context, time.Duration) (int, error) {
	b.calls.Add(1)
	return 0, &conversation.UnavailableError{Backend: "dynamodb", Op: "scan", Err: errors.New("throttled")}
}

func (b *brokenConversations) Backend() string { return "dynamodb" }

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	state := statestore.NewMemoryStore(statestore.WithClock(clock))
	convs := conversation.NewMemoryStore(conversation.WithClock(clock))

	require.NoError(t, state.Put(ctx, "ship-staging-1", []byte("x"), time.Minute))
	require.NoError(t, state.Put(ctx, "ship-staging-2", []byte("x"), time.Hour))
	require.NoError(t, convs.SaveConversation(ctx, &conversation.Record{ConversationID: "old", Status: conversation.StatusWaiting}))

	now = now.Add(2 * time.Hour)
	require.NoError(t, convs.SaveConversation(ctx, &conversation.Record{ConversationID: "new", Status: conversation.StatusWaiting}))

	s := &sweeper.Sweeper{State: state, Conversations: convs, ConversationTTL: time.Hour}
	rep, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.StateRemoved)
	assert.Equal(t, 1, rep.ConversationRemoved)

	_, ok, err := convs.GetConversation(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunOnce_ContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := statestore.NewMemoryStore(statestore.WithClock(func() time.Time { return now }))
	require.NoError(t, state.Put(ctx, "k", []byte("v"), 0))

	broken := &brokenConversations{}
	rep, err := (&sweeper.Sweeper{State: state, Conversations: broken}).RunOnce(ctx)
	assert.ErrorIs(t, err, conversation.ErrUnavailable)
	assert.Equal(t, 1, rep.StateRemoved)
	assert.Equal(t, int32(1), broken.calls.Load())
}

func TestRunOnce_NilStores(t *testing.T) {
	rep, err := (&sweeper.Sweeper{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.StateRemoved+rep.ConversationRemoved)
}

func TestStart_StopsWithContext(t *testing.T) {
	broken := &brokenConversations{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&sweeper.Sweeper{Conversations: broken}).Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return broken.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestStart_DisabledInterval(t *testing.T) {
	broken := &brokenConversations{}
	(&sweeper.Sweeper{Conversations: broken}).Start(context.Background(), 0)
	assert.Zero(t, broken.calls.Load())
}
