package api

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
)

// DefaultReplayTTL covers the platform's redelivery window.
const DefaultReplayTTL = 15 * time.Minute

// ReplayCache remembers the response sent for each interaction id so a
// redelivered interaction is answered without running the handler twice.
type ReplayCache struct {
	store statestore.Store
	ttl   time.Duration
}

func NewReplayCache(store statestore.Store, ttl time.Duration) *ReplayCache {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &ReplayCache{store: store, ttl: ttl}
}

func replayKey(id string) string {
	return statestore.Key("interaction", id)
}

// Lookup returns the cached response for id.
func (c *ReplayCache) Lookup(ctx context.Context, id string) (*dispatcher.Response, bool, error) {
	var resp dispatcher.Response
	ok, err := statestore.GetJSON(ctx, c.store, replayKey(id), &resp)
	if err != nil || !ok {
		return nil, false, err
	}
	return &resp, true, nil
}

// Remember caches resp for id. Follow-up work is not cached; a replayed
// deferred response only repeats the acknowledgement.
func (c *ReplayCache) Remember(ctx context.Context, id string, resp *dispatcher.Response) error {
	return statestore.PutJSON(ctx, c.store, replayKey(id), resp, c.ttl)
}
