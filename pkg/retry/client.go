// Package retry wraps calls to the rate-limited external API with exponential
// backoff, jitter, server wait hints and credential rotation.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/credentials"
)

// Operation is one attempt against the external API using the given credential.
type Operation func(ctx context.Context, token string) error

// Client runs operations with retries, rotating credentials between attempts.
type Client struct {
	pool           *credentials.TokenPool
	policy         Policy
	sleep          func(ctx context.Context, d time.Duration) error
	rnd            func() float64
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSleeper overrides how the client waits between attempts (tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithRand overrides the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(c *Client) { c.rnd = fn }
}

// WithAttemptTimeout bounds each individual attempt. Zero means no bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. The pool must contain at least one credential.
func New(pool *credentials.TokenPool, policy Policy, opts ...Option) (*Client, error) {
	if pool == nil {
		return nil, credentials.ErrEmptyPool
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		pool:   pool,
		policy: policy,
		sleep:  Sleep,
		rnd:    rand.Float64,
		logger: slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Policy returns the client's retry policy.
func (c *Client) Policy() Policy { return c.policy }

// Pool returns the credential pool backing the client.
func (c *Client) Pool() *credentials.TokenPool { return c.pool }

// Do runs op until it succeeds, fails terminally, or the attempt budget is spent.
func (c *Client) Do(ctx context.Context, name string, op Operation) error {
	var last error
	for attempt := 0; attempt < c.policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return &TerminalError{Op: name, Err: errors.Join(err, last)}
			}
			return &TerminalError{Op: name, Err: err}
		}

		token := c.pool.Acquire()
		err := c.attempt(ctx, op, token.Value)
		if err == nil {
			return nil
		}
		last = err

		if !IsRetryable(ctx, err) {
			return &TerminalError{Op: name, Err: err}
		}
		c.pool.RecordFailure(token)

		if attempt == c.policy.MaxRetries-1 {
			break
		}

		delay := c.waitFor(attempt, err)
		c.logger.WarnContext(ctx, "external call failed, retrying",
			"op", name,
			"attempt", attempt+1,
			"max_attempts", c.policy.MaxRetries,
			"token_slot", token.Index,
			"status", StatusCode(err),
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return &TerminalError{Op: name, Err: errors.Join(err, last)}
		}
	}

	c.logger.ErrorContext(ctx, "external call exhausted retries",
		"op", name, "attempts", c.policy.MaxRetries, "error", last)
	return &ExhaustedError{Op: name, Attempts: c.policy.MaxRetries, Last: last}
}

// Call is Do for operations that produce a value.
func Call[T any](ctx context.Context, c *Client, name string, op func(ctx context.Context, token string) (T, error)) (T, error) {
	var out T
	err := c.Do(ctx, name, func(ctx context.Context, token string) error {
		v, err := op(ctx, token)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (c *Client) attempt(ctx context.Context, op Operation, token string) error {
	if c.attemptTimeout <= 0 {
		return op(ctx, token)
	}
	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()
	return op(actx, token)
}

func (c *Client) waitFor(attempt int, err error) time.Duration {
	return c.policy.WaitFor(attempt, err, c.rnd)
}

// WaitFor picks the delay before the attempt after attempt. A 429 carrying a
// wait hint uses the hint verbatim.
func (p Policy) WaitFor(attempt int, err error, rnd func() float64) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests && se.HasRetryAfter {
		return se.RetryAfter
	}
	return p.JitteredDelay(attempt, rnd)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
