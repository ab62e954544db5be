package statestore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chatops/pkg/database"
	"github.com/Mindburn-Labs/chatops/pkg/dynamo/dynamotest"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backendFactory func(t *testing.T, clock *fakeClock) statestore.Store

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T, clock *fakeClock) statestore.Store {
			return statestore.NewMemoryStore(statestore.WithClock(clock.Now))
		},
		"sqlite": func(t *testing.T, clock *fakeClock) statestore.Store {
			db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			s, err := statestore.NewSQLStore(context.Background(), db, statestore.WithClock(clock.Now))
			require.NoError(t, err)
			return s
		},
		"dynamodb": func(t *testing.T, clock *fakeClock) statestore.Store {
			return statestore.NewDynamoStore(dynamotest.New("key"), "chatops-state", statestore.WithClock(clock.Now))
		},
	}
}

type shipState struct {
	Status string `json:"status"`
	Ref    string `json:"ref,omitempty"`
}

// The TTL contract is identical for every backend; none of these cases
// branch on the backend under test.
func TestStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("round trip", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				value := []byte{0x00, 0x01, 0xff, '{', '}'}
				require.NoError(t, s.Put(ctx, "k1", value, 15*time.Minute))

				got, ok, err := s.Get(ctx, "k1")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, value, got)
			})

			t.Run("json entry expires after its ttl", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				key := statestore.Key("ship", "staging", "123")
				require.NoError(t, statestore.PutJSON(ctx, s, key, shipState{Status: "started"}, 900*time.Second))

				var got shipState
				ok, err := statestore.GetJSON(ctx, s, key, &got)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, shipState{Status: "started"}, got)

				clock.Advance(901 * time.Second)
				ok, err = statestore.GetJSON(ctx, s, key, &got)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("zero ttl is already expired", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				require.NoError(t, s.Put(ctx, "k0", []byte("v"), 0))
				clock.Advance(time.Millisecond)

				_, ok, err := s.Get(ctx, "k0")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("negative ttl is already expired", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				require.NoError(t, s.Put(ctx, "kneg", []byte("v"), -time.Hour))

				_, ok, err := s.Get(ctx, "kneg")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("expiry boundary is exclusive", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				require.NoError(t, s.Put(ctx, "kb", []byte("v"), 10*time.Second))

				clock.Advance(10*time.Second - time.Millisecond)
				_, ok, err := s.Get(ctx, "kb")
				require.NoError(t, err)
				assert.True(t, ok)

				clock.Advance(time.Millisecond)
				_, ok, err = s.Get(ctx, "kb")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("last writer wins", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				require.NoError(t, s.Put(ctx, "kw", []byte("first"), time.Minute))
				require.NoError(t, s.Put(ctx, "kw", []byte("second"), time.Hour))

				clock.Advance(2 * time.Minute)
				got, ok, err := s.Get(ctx, "kw")
				require.NoError(t, err)
				require.True(t, ok, "overwrite extends the expiry")
				assert.Equal(t, "second", string(got))
			})

			t.Run("expired key can be rewritten", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				require.NoError(t, s.Put(ctx, "kr", []byte("old"), time.Second))
				clock.Advance(time.Minute)
				require.NoError(t, s.Put(ctx, "kr", []byte("new"), time.Minute))

				got, ok, err := s.Get(ctx, "kr")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "new", string(got))
			})

			t.Run("delete", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				require.NoError(t, s.Put(ctx, "kd", []byte("v"), time.Minute))
				require.NoError(t, s.Delete(ctx, "kd"))
				require.NoError(t, s.Delete(ctx, "never-written"))

				_, ok, err := s.Get(ctx, "kd")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("missing key", func(t *testing.T) {
				s := factory(t, newFakeClock())
				got, ok, err := s.Get(ctx, "nope")
				require.NoError(t, err)
				assert.False(t, ok)
				assert.Nil(t, got)
			})

			t.Run("empty value", func(t *testing.T) {
				s := factory(t, newFakeClock())
				require.NoError(t, s.Put(ctx, "ke", nil, time.Minute))
				got, ok, err := s.Get(ctx, "ke")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Empty(t, got)
			})

			t.Run("invalid key", func(t *testing.T) {
				s := factory(t, newFakeClock())
				assert.ErrorIs(t, s.Put(ctx, " ", []byte("v"), time.Minute), statestore.ErrInvalidKey)
				_, _, err := s.Get(ctx, "")
				assert.ErrorIs(t, err, statestore.ErrInvalidKey)
			})

			t.Run("cleanup leaves live entries readable", func(t *testing.T) {
				clock := newFakeClock()
				s := factory(t, clock)
				require.NoError(t, s.Put(ctx, "live", []byte("v"), time.Hour))
				require.NoError(t, s.Put(ctx, "dead", []byte("v"), time.Second))
				clock.Advance(time.Minute)

				n, err := s.CleanupExpired(ctx)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, n, 0)

				_, ok, err := s.Get(ctx, "live")
				require.NoError(t, err)
				assert.True(t, ok)
				_, ok, err = s.Get(ctx, "dead")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			require.NoError(t, factory(t, newFakeClock()).Close())
		})
	}
}

func TestCleanupExpired_SweepingBackendsReportCount(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			s := backends()[name](t, clock)
			require.NoError(t, s.Put(ctx, "a", []byte("1"), time.Second))
			require.NoError(t, s.Put(ctx, "b", []byte("2"), time.Second))
			require.NoError(t, s.Put(ctx, "c", []byte("3"), time.Hour))
			clock.Advance(time.Minute)

			n, err := s.CleanupExpired(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = s.CleanupExpired(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestDynamoStore_StoresNativeTTLAttribute(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	fake := dynamotest.New("key")
	s := statestore.NewDynamoStore(fake, "chatops-state", statestore.WithClock(clock.Now))

	require.NoError(t, s.Put(ctx, "ship-prod-1", []byte("{}"), 90*time.Second+500*time.Millisecond))

	item, ok := fake.Item("ship-prod-1")
	require.True(t, ok)
	ttl, ok := item["ttl"]
	require.True(t, ok)
	want := clock.Now().Add(91 * time.Second).Unix()
	assert.Equal(t, want, mustN(t, ttl))

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDynamoStore_UnavailableIsNotAbsent(t *testing.T) {
	ctx := context.Background()
	fake := dynamotest.New("key")
	fake.Err = errors.New("ProvisionedThroughputExceededException")
	s := statestore.NewDynamoStore(fake, "chatops-state")

	_, ok, err := s.Get(ctx, "k")
	assert.False(t, ok)
	assert.ErrorIs(t, err, statestore.ErrUnavailable)

	var ue *statestore.UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "dynamodb", ue.Backend)
	assert.Equal(t, "get", ue.Op)

	assert.ErrorIs(t, s.Put(ctx, "k", []byte("v"), time.Minute), statestore.ErrUnavailable)
	assert.ErrorIs(t, s.Delete(ctx, "k"), statestore.ErrUnavailable)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ship-staging-1700000000", statestore.Key("ship", "staging", "1700000000"))
	assert.Equal(t, "ship-inflight-prod", statestore.Key("ship", "inflight", "prod"))
}

func TestGetJSON_DecodeError(t *testing.T) {
	ctx := context.Background()
	s := statestore.NewMemoryStore()
	require.NoError(t, s.Put(ctx, "k", []byte("not json"), time.Minute))

	var out shipState
	ok, err := statestore.GetJSON(ctx, s, "k", &out)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, statestore.ErrUnavailable)
}
