package commands_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chatops/pkg/artifacts"
	"github.com/Mindburn-Labs/chatops/pkg/authz"
	"github.com/Mindburn-Labs/chatops/pkg/checks"
	"github.com/Mindburn-Labs/chatops/pkg/commands"
	"github.com/Mindburn-Labs/chatops/pkg/conversation"
	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
	"github.com/Mindburn-Labs/chatops/pkg/retry"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
	"github.com/Mindburn-Labs/chatops/pkg/vcs"
)

type fakeVCS struct {
	repo     *vcs.Repository
	prs      []vcs.PullRequest
	err      error
	comments []string
}

func (f *fakeVCS) GetRepository(_ context.Context, owner, repo string) (*vcs.Repository, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.repo, nil
}

func (f *fakeVCS) ListPullRequests(context.Context, string, string, string, int) ([]vcs.PullRequest, error) {
	return f.prs, f.err
}

func (f *fakeVCS) CreateIssueComment(_ context.Context, owner, repo string, number int, body string) (*vcs.Comment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.comments = append(f.comments, body)
	return &vcs.Comment{ID: 7, Body: body, HTMLURL: "https://example.test/" + owner + "/" + repo + "/pull/1#c7"}, nil
}

type fakeChecks struct {
	results []checks.Result
}

func (f fakeChecks) Run(context.Context) ([]checks.Result, error) { return f.results, nil }
func (f fakeChecks) Mode() string                                 { return "real" }

type recordingTrigger struct {
	mu   sync.Mutex
	reqs []commands.DeployRequest
	err  error
}

func (r *recordingTrigger) TriggerDeploy(_ context.Context, req commands.DeployRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.err
}

type sink struct {
	msgs []*dispatcher.Message
}

func (s *sink) SendFollowUp(_ context.Context, _ *dispatcher.Interaction, msg *dispatcher.Message) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

type harness struct {
	d       *dispatcher.Dispatcher
	state   *statestore.MemoryStore
	convs   *conversation.MemoryStore
	vcs     *fakeVCS
	trigger *recordingTrigger
	now     time.Time
	sink    *sink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		vcs:     &fakeVCS{repo: &vcs.Repository{FullName: "acme/app", DefaultBranch: "main", Description: "The app"}},
		trigger: &recordingTrigger{},
		now:     time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		sink:    &sink{},
	}
	clock := func() time.Time { return h.now }
	h.state = statestore.NewMemoryStore(statestore.WithClock(clock))
	h.convs = conversation.NewMemoryStore(conversation.WithClock(clock))
	files, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	reg := dispatcher.NewRegistry()
	require.NoError(t, commands.RegisterAll(reg, commands.Deps{
		State:         h.state,
		Conversations: h.convs,
		VCS:           h.vcs,
		Owner:         "acme",
		Repo:          "app",
		Checks: fakeChecks{results: []checks.Result{
			{Name: "lint", Status: checks.StatusPass, Duration: 1500 * time.Millisecond},
			{Name: "test", Status: checks.StatusFail, ExitCode: 1, Output: "--- FAIL: TestThing"},
			{Name: "build", Status: checks.StatusPass, Mocked: true},
		}},
		Artifacts: files,
		Deploy:    h.trigger,
		Now:       clock,
	}))
	h.d = dispatcher.New(reg, authz.NewEngine(nil, authz.WithEnabled(false)))
	return h
}

func (h *harness) run(t *testing.T, in *dispatcher.Interaction) *dispatcher.Response {
	t.Helper()
	resp := h.d.Dispatch(context.Background(), in)
	require.NotNil(t, resp)
	require.NoError(t, h.d.Complete(context.Background(), in, resp, h.sink))
	return resp
}

func (h *harness) lastFollowUp(t *testing.T) *dispatcher.Message {
	t.Helper()
	require.NotEmpty(t, h.sink.msgs)
	return h.sink.msgs[len(h.sink.msgs)-1]
}

func command(user, name string, opts map[string]any) *dispatcher.Interaction {
	return &dispatcher.Interaction{Type: dispatcher.TypeCommand, Name: name, UserID: user, Options: opts, Environment: "production"}
}

func click(user, customID string) *dispatcher.Interaction {
	return &dispatcher.Interaction{Type: dispatcher.TypeComponent, CustomID: customID, UserID: user, Environment: "production"}
}

func TestRegisterAll_SkipsMissingDeps(t *testing.T) {
	reg := dispatcher.NewRegistry()
	require.NoError(t, commands.RegisterAll(reg, commands.Deps{}))
	var names []string
	for _, c := range reg.List() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"help"}, names)
}

func TestHelp(t *testing.T) {
	h := newHarness(t)
	resp := h.run(t, command("u1", "/help", nil))
	content := resp.Message.Content
	assert.True(t, resp.Message.Ephemeral)
	for _, name := range []string{"/comment", "/conversation:", "/conversations", "/health", "/help", "/repo", "/ship"} {
		assert.Contains(t, content, name)
	}
	assert.Less(t, strings.Index(content, "/comment"), strings.Index(content, "/ship"))
}

func TestRepo(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 7; i++ {
		h.vcs.prs = append(h.vcs.prs, vcs.PullRequest{Number: i, Title: "change", User: vcs.User{Login: "dev"}, Draft: i == 1})
	}

	resp := h.run(t, command("u1", "repo", nil))
	assert.Equal(t, dispatcher.KindDeferred, resp.Kind)
	msg := h.lastFollowUp(t)
	assert.Contains(t, msg.Content, "**acme/app**: The app")
	assert.Contains(t, msg.Content, "Open pull requests: 7")
	assert.Contains(t, msg.Content, "#1 change (draft) by dev")
	assert.Contains(t, msg.Content, "and 2 more")
}

func TestRepo_Errors(t *testing.T) {
	h := newHarness(t)

	h.vcs.err = &retry.StatusError{StatusCode: http.StatusNotFound}
	h.run(t, command("u1", "repo", map[string]any{"repo": "acme/gone"}))
	assert.Equal(t, "acme/gone was not found.", h.lastFollowUp(t).Content)

	h.vcs.err = &retry.ExhaustedError{Op: "vcs.get_repository", Attempts: 3, Last: errors.New("502")}
	h.run(t, command("u1", "repo", nil))
	assert.Contains(t, h.lastFollowUp(t).Content, "not responding")

	resp := h.run(t, command("u1", "repo", map[string]any{"repo": "not-a-repo"}))
	assert.Equal(t, dispatcher.InvalidOptionsMessage, resp.Message.Content)
}

func TestComment(t *testing.T) {
	h := newHarness(t)
	resp := h.run(t, command("u1", "comment", map[string]any{"number": 12, "body": "LGTM"}))
	assert.Equal(t, dispatcher.KindDeferred, resp.Kind)
	require.Len(t, h.vcs.comments, 1)
	assert.True(t, strings.HasPrefix(h.vcs.comments[0], "LGTM"))
	assert.Contains(t, h.vcs.comments[0], "u1")
	msg := h.lastFollowUp(t)
	assert.True(t, msg.Ephemeral)
	assert.Contains(t, msg.Content, "pull/1#c7")

	resp = h.run(t, command("u1", "comment", map[string]any{"number": 0, "body": "x"}))
	assert.Equal(t, dispatcher.InvalidOptionsMessage, resp.Message.Content)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	h.run(t, command("u1", "health", nil))
	msg := h.lastFollowUp(t)
	assert.Contains(t, msg.Content, "Health: ❌ fail (mode real)")
	assert.Contains(t, msg.Content, "lint: pass in 1.5s")
	assert.Contains(t, msg.Content, "build: pass (mocked)")
	assert.Contains(t, msg.Content, "--- FAIL: TestThing")
	assert.Contains(t, msg.Content, "Full log: ")
}

func TestConversations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.convs.SaveConversation(ctx, &conversation.Record{ConversationID: "c1", TaskName: "Fix login", Status: conversation.StatusWaiting}))
	h.now = h.now.Add(2 * time.Hour)
	require.NoError(t, h.convs.SaveConversation(ctx, &conversation.Record{ConversationID: "c2", TaskID: "T-2", Status: conversation.StatusInterrupted}))
	require.NoError(t, h.convs.SaveConversation(ctx, &conversation.Record{ConversationID: "c3", Status: conversation.StatusCompleted}))

	resp := h.run(t, command("u1", "conversations", nil))
	content := resp.Message.Content
	assert.Contains(t, content, "Active conversations (2)")
	assert.Contains(t, content, "`c1` Fix login [waiting] 2 hours ago")
	assert.Contains(t, content, "`c2` T-2 [interrupted]")
	assert.NotContains(t, content, "c3")
	assert.Less(t, strings.Index(content, "c2"), strings.Index(content, "c1"))

	resp = h.run(t, command("u1", "conversations", map[string]any{"status": "waiting"}))
	assert.NotContains(t, resp.Message.Content, "c2")

	resp = h.run(t, command("u1", "conversations", map[string]any{"status": "completed"}))
	assert.Equal(t, "No active conversations.", resp.Message.Content)

	resp = h.run(t, command("u1", "conversations", map[string]any{"status": "bogus"}))
	assert.Equal(t, `Unknown status "bogus".`, resp.Message.Content)
}

func TestConversation_ShowAndClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.convs.SaveConversation(ctx, &conversation.Record{
		ConversationID: "c1", TaskName: "Fix login", Status: conversation.StatusDraftPreview,
		PreviewReady: true, ArtifactURLs: []string{"https://ci.example.test/1"},
	}))

	resp := h.run(t, command("u1", "conversation", map[string]any{"id": "c1"}))
	assert.Contains(t, resp.Message.Content, "Status: draft-preview")
	assert.Contains(t, resp.Message.Content, "Preview ready: true")
	assert.Contains(t, resp.Message.Content, "https://ci.example.test/1")

	resp = h.run(t, command("u1", "conversation", map[string]any{"id": "c1", "action": "close"}))
	assert.Equal(t, "Conversation `c1` closed.", resp.Message.Content)
	r, ok, err := h.convs.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, conversation.StatusCompleted, r.Status)

	resp = h.run(t, command("u1", "conversations", nil))
	assert.Equal(t, "No active conversations.", resp.Message.Content)

	resp = h.run(t, command("u1", "conversation", map[string]any{"id": "nope"}))
	assert.Equal(t, "Conversation `nope` not found.", resp.Message.Content)
}
