// Package conversation persists the long-lived records that automation agents
// keep per task. Records are retained for days, can be listed and filtered,
// and completed conversations never appear in listings.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

var (
	// ErrUnavailable marks backend I/O failures.
	ErrUnavailable = errors.New("conversation: backend unavailable")
	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("conversation: invalid record")
)

const (
	// DefaultRetention is how long an inactive conversation is kept.
	DefaultRetention = 168 * time.Hour
	// DefaultMaxResults caps ListConversations when no limit is given.
	DefaultMaxResults = 50
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusInProgress   Status = "in-progress"
	StatusWaiting      Status = "waiting"
	StatusInterrupted  Status = "interrupted"
	StatusDraftPreview Status = "draft-preview"
	StatusCompleted    Status = "completed"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusInProgress, StatusWaiting, StatusInterrupted, StatusDraftPreview, StatusCompleted}
}

func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusWaiting, StatusInterrupted, StatusDraftPreview, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus accepts the canonical names plus underscore spellings.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), "_", "-"))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, v)
	}
	return s, nil
}

// Record is one agent conversation.
type Record struct {
	ConversationID       string    `json:"conversationId"`
	TaskID               string    `json:"taskId"`
	TaskName             string    `json:"taskName"`
	TaskType             string    `json:"taskType"`
	Status               Status    `json:"status"`
	PreviewReady         bool      `json:"previewReady"`
	ChecksStatus         string    `json:"checksStatus"`
	DraftPRPayloadExists bool      `json:"draftPrPayloadExists"`
	ArtifactURLs         []string  `json:"artifactUrls"`
	CreatedAt            time.Time `json:"createdAt"`
	LastActivityAt       time.Time `json:"lastActivityAt"`
}

// Validate checks the fields every backend requires.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	return nil
}

// Clone returns a deep copy. ArtifactURLs is never nil in the copy.
func (r *Record) Clone() *Record {
	c := *r
	c.ArtifactURLs = append([]string{}, r.ArtifactURLs...)
	return &c
}

// Store persists conversation records.
type Store interface {
	// SaveConversation upserts r. It stamps CreatedAt on first save and
	// LastActivityAt on every save.
	SaveConversation(ctx context.Context, r *Record) error
	GetConversation(ctx context.Context, id string) (*Record, bool, error)
	DeleteConversation(ctx context.Context, id string) error
	// ListConversations returns active conversations, most recent first.
	// Completed conversations are never returned.
	ListConversations(ctx context.Context, opts ListOptions) ([]*Record, error)
	// CleanupExpired deletes conversations inactive for longer than ttl
	// (DefaultRetention when ttl <= 0) and reports how many were removed.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int, error)
	Backend() string
	Close() error
}

// ListOptions filters ListConversations.
type ListOptions struct {
	// Statuses restricts results to these statuses. Empty means every active status.
	Statuses   []Status
	MaxResults int
}

// activeFilter resolves the requested statuses with completed removed.
// ok is false when nothing can match.
func (o ListOptions) activeFilter() (set map[Status]bool, ok bool) {
	if len(o.Statuses) == 0 {
		return nil, true
	}
	set = make(map[Status]bool, len(o.Statuses))
	for _, s := range o.Statuses {
		if s != StatusCompleted && s.Valid() {
			set[s] = true
		}
	}
	return set, len(set) > 0
}

func (o ListOptions) limit() int {
	if o.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return o.MaxResults
}

func matches(r *Record, set map[Status]bool) bool {
	if r.Status == StatusCompleted {
		return false
	}
	return set == nil || set[r.Status]
}

// sortAndTruncate orders by LastActivityAt descending, then caps the result.
// Ties fall back to the id so results are stable.
func sortAndTruncate(records []*Record, limit int) []*Record {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ConversationID < b.ConversationID
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// UnavailableError wraps a backend failure. It matches ErrUnavailable.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("conversation: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

func unavailable(backend, op string, err error) error {
	return &UnavailableError{Backend: backend, Op: op, Err: err}
}

type options struct {
	now       func() time.Time
	logger    *slog.Logger
	retention time.Duration
}

// Option configures a backend.
type Option func(*options)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetention sets how long a saved record stays readable. Backends with
// native TTL also write it as the item expiry.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:       time.Now,
		logger:    slog.Default().With("component", "conversation"),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare canonicalizes r the same way for every backend and validates it.
func prepare(r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.ConversationID = strings.TrimSpace(r.ConversationID)
	r.ArtifactURLs = nonNilStrings(r.ArtifactURLs)
	return nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// stamp applies the save-time timestamps to r.
func stamp(r *Record, now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.LastActivityAt = now
}

func cleanupTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultRetention
	}
	return ttl
}
