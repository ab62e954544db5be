// Package vcs is a small client for a GitHub-shaped REST API. Every request
// goes through retry.Client so it gets backoff, wait-hint handling and token
// rotation.
package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/chatops/pkg/config"
	"github.com/Mindburn-Labs/chatops/pkg/credentials"
	"github.com/Mindburn-Labs/chatops/pkg/retry"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	apiVersion   = "2022-11-28"
	userAgent    = "chatops-orchestrator"
	maxBodyBytes = 1 << 20
	maxErrorBody = 512
)

// Client talks to the VCS REST API.
type Client struct {
	baseURL string
	http    *http.Client
	retry   *retry.Client
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit paces outgoing requests to rps with a burst of one.
// rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, rc *retry.Client, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   rc,
		now:     time.Now,
		logger:  slog.Default().With("component", "vcs"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig wires the token pool, retry policy and pacing from cfg.
func NewFromConfig(cfg config.VCSConfig, opts ...Option) (*Client, error) {
	pool, err := credentials.NewTokenPool(cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("vcs: %w", err)
	}
	rc, err := retry.New(pool, retry.Policy{
		MaxRetries:      cfg.MaxRetries,
		BaseDelay:       cfg.BaseDelay,
		MaxDelay:        cfg.MaxDelay,
		ExponentialBase: cfg.ExponentialBase,
		Jitter:          cfg.Jitter,
	})
	if err != nil {
		return nil, fmt.Errorf("vcs: %w", err)
	}
	opts = append([]Option{WithRateLimit(cfg.RPS)}, opts...)
	return New(cfg.APIURL, rc, opts...), nil
}

// Retry exposes the underlying retry client.
func (c *Client) Retry() *retry.Client { return c.retry }

func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var out Repository
	if err := c.do(ctx, "vcs.get_repository", http.MethodGet, repoPath(owner, repo), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPullRequests returns one page of pull requests. state is open, closed
// or all (open when empty); limit is capped at 100.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo, state string, limit int) ([]PullRequest, error) {
	if state == "" {
		state = "open"
	}
	if limit <= 0 {
		limit = 30
	}
	if limit > 100 {
		limit = 100
	}
	q := url.Values{}
	q.Set("state", state)
	q.Set("per_page", strconv.Itoa(limit))

	out := []PullRequest{}
	path := repoPath(owner, repo) + "/pulls?" + q.Encode()
	if err := c.do(ctx, "vcs.list_pull_requests", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateIssueComment comments on an issue or pull request.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	var out Comment
	path := fmt.Sprintf("%s/issues/%d/comments", repoPath(owner, repo), number)
	if err := c.do(ctx, "vcs.create_issue_comment", http.MethodPost, path, map[string]string{"body": body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) (*Comment, error) {
	var out Comment
	path := fmt.Sprintf("%s/issues/comments/%d", repoPath(owner, repo), commentID)
	if err := c.do(ctx, "vcs.update_issue_comment", http.MethodPatch, path, map[string]string{"body": body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDispatchEvent fires a repository_dispatch event.
func (c *Client) CreateDispatchEvent(ctx context.Context, owner, repo, eventType string, payload map[string]any) error {
	body := map[string]any{"event_type": eventType}
	if len(payload) > 0 {
		body["client_payload"] = payload
	}
	if err := c.do(ctx, "vcs.create_dispatch_event", http.MethodPost, repoPath(owner, repo)+"/dispatches", body, nil); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "dispatch event sent", "repo", owner+"/"+repo, "event_type", eventType)
	return nil
}

func (c *Client) do(ctx context.Context, name, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%s: encode request: %w", name, err)
		}
	}

	return c.retry.Do(ctx, name, func(ctx context.Context, token string) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", apiVersion)
		req.Header.Set("User-Agent", userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return retry.NewStatusError(resp, errorBody(data), c.now())
		}
		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// errorBody extracts the API's message field, falling back to the raw text.
func errorBody(data []byte) string {
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &msg) == nil && msg.Message != "" {
		return msg.Message
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
