package vcs_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chatops/pkg/config"
	"github.com/Mindburn-Labs/chatops/pkg/credentials"
	"github.com/Mindburn-Labs/chatops/pkg/retry"
	"github.com/Mindburn-Labs/chatops/pkg/vcs"
)

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = append(s.d, d)
	return nil
}

func newClient(t *testing.T, srv *httptest.Server, tokens ...string) (*vcs.Client, *sleeps) {
	t.Helper()
	if len(tokens) == 0 {
		tokens = []string{"tok-a"}
	}
	pool, err := credentials.NewTokenPool(tokens)
	require.NoError(t, err)
	s := &sleeps{}
	rc, err := retry.New(pool, retry.Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2,
	}, retry.WithSleeper(s.sleep))
	require.NoError(t, err)
	return vcs.New(srv.URL, rc, vcs.WithHTTPClient(srv.Client())), s
}

func TestGetRepository(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/repos/acme/widgets", r.URL.Path)
		assert.Equal(t, "Bearer tok-a", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, `{"full_name":"acme/widgets","default_branch":"main","open_issues_count":4,"private":true}`)
	}))
	defer srv.Close()

	c, _ := newClient(t, srv)
	repo, err := c.GetRepository(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", repo.FullName)
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.Equal(t, 4, repo.OpenIssuesCount)
	assert.True(t, repo.Private)
}

func TestListPullRequests_QueryAndCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/pulls", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		_, _ = io.WriteString(w, `[{"number":7,"title":"Add ship","state":"open","user":{"login":"dev"},"head":{"ref":"feat"}}]`)
	}))
	defer srv.Close()

	c, _ := newClient(t, srv)
	prs, err := c.ListPullRequests(context.Background(), "acme", "widgets", "", 500)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, 7, prs[0].Number)
	assert.Equal(t, "dev", prs[0].User.Login)
	assert.Equal(t, "feat", prs[0].Head.Ref)
}

func TestCreateIssueComment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/widgets/issues/12/comments", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "LGTM", body["body"])
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":99,"body":"LGTM","html_url":"https://example.test/c/99"}`)
	}))
	defer srv.Close()

	c, _ := newClient(t, srv)
	got, err := c.CreateIssueComment(context.Background(), "acme", "widgets", 12, "LGTM")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.ID)
	assert.Equal(t, "https://example.test/c/99", got.HTMLURL)
}

func TestUpdateIssueComment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/repos/acme/widgets/issues/comments/99", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":99,"body":"edited"}`)
	}))
	defer srv.Close()

	c, _ := newClient(t, srv)
	got, err := c.UpdateIssueComment(context.Background(), "acme", "widgets", 99, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Body)
}

func TestCreateDispatchEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/dispatches", r.URL.Path)
		var body struct {
			EventType     string         `json:"event_type"`
			ClientPayload map[string]any `json:"client_payload"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chatops-deploy", body.EventType)
		assert.Equal(t, "staging", body.ClientPayload["env"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newClient(t, srv)
	err := c.CreateDispatchEvent(context.Background(), "acme", "widgets", "chatops-deploy", map[string]any{"env": "staging"})
	require.NoError(t, err)
}

func TestRateLimitedResponseHonoursHintAndRotatesToken(t *testing.T) {
	var (
		mu   sync.Mutex
		auth []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		n := len(auth)
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "37")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"message":"API rate limit exceeded"}`)
			return
		}
		_, _ = io.WriteString(w, `{"full_name":"acme/widgets"}`)
	}))
	defer srv.Close()

	c, s := newClient(t, srv, "tok-a", "tok-b")
	repo, err := c.GetRepository(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", repo.FullName)
	assert.Equal(t, []time.Duration{37 * time.Second}, s.d)
	assert.Equal(t, []string{"Bearer tok-a", "Bearer tok-b"}, auth)
}

func TestNotFoundIsTerminal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"Not Found"}`)
	}))
	defer srv.Close()

	c, s := newClient(t, srv)
	_, err := c.GetRepository(context.Background(), "acme", "missing")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.d)
	assert.Equal(t, http.StatusNotFound, retry.StatusCode(err))
	assert.Contains(t, err.Error(), "Not Found")
}

func TestServerErrorsExhaustBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, s := newClient(t, srv)
	_, err := c.ListPullRequests(context.Background(), "acme", "widgets", "all", 5)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.d)
}

func TestNewFromConfig(t *testing.T) {
	_, err := vcs.NewFromConfig(config.VCSConfig{MaxRetries: 3, ExponentialBase: 2})
	assert.ErrorIs(t, err, credentials.ErrEmptyPool)

	c, err := vcs.NewFromConfig(config.VCSConfig{
		Tokens:          []string{"a", "b"},
		MaxRetries:      4,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2,
		RPS:             5,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Retry().Pool().Len())
	assert.Equal(t, 4, c.Retry().Policy().MaxRetries)
}
