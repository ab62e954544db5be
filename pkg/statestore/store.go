// Package statestore persists short-lived interaction state (button flows,
// in-flight deploy markers) outside the process so a follow-up interaction
// handled by a different instance can pick it up.
//
// Every backend honors the same TTL contract: an entry is live while
// now < expiresAt, and a read of an expired entry reports it absent.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrUnavailable marks backend I/O failures. Callers must surface it and
	// never treat it as a missing entry.
	ErrUnavailable = errors.New("statestore: backend unavailable")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("statestore: invalid key")
)

// Store is a key/value store with per-entry expiry.
type Store interface {
	// Put writes value under key. ttl <= 0 stores an entry that is already expired.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the live value for key. Expired and missing keys both return ok=false.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// CleanupExpired removes expired entries and reports how many were removed.
	// Backends with native expiry return 0.
	CleanupExpired(ctx context.Context) (int, error)
	Backend() string
	Close() error
}

// UnavailableError wraps a backend failure. It matches ErrUnavailable.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("statestore: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

func unavailable(backend, op string, err error) error {
	return &UnavailableError{Backend: backend, Op: op, Err: err}
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// Key joins namespaced key parts with "-", e.g. Key("ship", "staging", "1700000000").
func Key(parts ...string) string {
	return strings.Join(parts, "-")
}

// PutJSON stores v encoded as JSON.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("statestore: encode %q: %w", key, err)
	}
	return s.Put(ctx, key, data, ttl)
}

// GetJSON decodes the live value for key into out.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("statestore: decode %q: %w", key, err)
	}
	return true, nil
}

type options struct {
	now         func() time.Time
	logger      *slog.Logger
	redisPrefix string
}

// Option configures a backend.
type Option func(*options)

// WithClock overrides the time source used for expiry (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRedisPrefix namespaces keys written to Redis.
func WithRedisPrefix(prefix string) Option {
	return func(o *options) { o.redisPrefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{
		now:         time.Now,
		logger:      slog.Default().With("component", "statestore"),
		redisPrefix: "chatops:state:",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
