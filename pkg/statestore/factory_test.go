package statestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chatops/pkg/config"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
)

func TestSelectAdapter(t *testing.T) {
	all := config.PersistenceConfig{
		StateTable:  "state",
		RedisAddr:   "redis:6379",
		DatabaseURL: "postgres://db",
		SQLitePath:  "data/state.db",
	}

	tests := []struct {
		name string
		cfg  config.PersistenceConfig
		want string
	}{
		{"explicit wins", config.PersistenceConfig{Adapter: config.AdapterSQLite, StateTable: "state"}, config.AdapterSQLite},
		{"dynamodb first", all, config.AdapterDynamoDB},
		{"redis next", config.PersistenceConfig{RedisAddr: "r:6379", DatabaseURL: "postgres://db", SQLitePath: "x.db"}, config.AdapterRedis},
		{"postgres next", config.PersistenceConfig{DatabaseURL: "postgres://db", SQLitePath: "x.db"}, config.AdapterPostgres},
		{"sqlite next", config.PersistenceConfig{SQLitePath: "x.db"}, config.AdapterSQLite},
		{"memory fallback", config.PersistenceConfig{}, config.AdapterMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statestore.SelectAdapter(tt.cfg))
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := statestore.Open(context.Background(), config.PersistenceConfig{}, "development")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "memory", s.Backend())
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := statestore.Open(ctx, config.PersistenceConfig{SQLitePath: path}, "production")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Backend())

	require.NoError(t, s.Put(ctx, "k", []byte("durable"), time.Hour))
	require.NoError(t, s.Close())

	// A second process sees the entry.
	s2, err := statestore.Open(ctx, config.PersistenceConfig{SQLitePath: path}, "production")
	require.NoError(t, err)
	defer s2.Close()
	got, ok, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "durable", string(got))
}

func TestOpen_MisconfiguredAdapters(t *testing.T) {
	ctx := context.Background()

	_, err := statestore.Open(ctx, config.PersistenceConfig{Adapter: config.AdapterDynamoDB}, "production")
	assert.Error(t, err)

	_, err = statestore.Open(ctx, config.PersistenceConfig{Adapter: config.AdapterRedis}, "production")
	assert.Error(t, err)

	_, err = statestore.Open(ctx, config.PersistenceConfig{Adapter: "mongodb"}, "production")
	assert.Error(t, err)
}
