package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/database"
)

const conversationColumns = `conversation_id, task_id, task_name, task_type, status, preview_ready,
	checks_status, draft_pr_payload_exists, artifact_urls, created_at, last_activity_at, ttl`

// SQLStore keeps conversations in a relational table. Timestamps are stored
// as unix milliseconds and ttl as the unix second the record expires; reads
// skip expired rows until cleanup removes them.
type SQLStore struct {
	db        *database.DB
	now       func() time.Time
	retention time.Duration
	ownsDB    bool
}

// NewSQLStore creates the table if needed. The caller keeps ownership of db.
func NewSQLStore(ctx context.Context, db *database.DB, opts ...Option) (*SQLStore, error) {
	o := buildOptions(opts)
	s := &SQLStore{db: db, now: o.now, retention: o.retention}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	it := s.db.Dialect.IntType()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL DEFAULT '',
			task_name TEXT NOT NULL DEFAULT '',
			task_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			preview_ready %[1]s NOT NULL DEFAULT 0,
			checks_status TEXT NOT NULL DEFAULT '',
			draft_pr_payload_exists %[1]s NOT NULL DEFAULT 0,
			artifact_urls TEXT NOT NULL DEFAULT '[]',
			created_at %[1]s NOT NULL,
			last_activity_at %[1]s NOT NULL,
			ttl %[1]s NOT NULL
		)`, it),
		`CREATE INDEX IF NOT EXISTS idx_conversations_status_activity ON conversations (status, last_activity_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_activity ON conversations (last_activity_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailable(s.Backend(), "migrate", err)
		}
	}
	return nil
}

func (s *SQLStore) Backend() string { return string(s.db.Dialect) }

func (s *SQLStore) SaveConversation(ctx context.Context, r *Record) error {
	if err := prepare(r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		if prev, ok, err := s.GetConversation(ctx, r.ConversationID); err != nil {
			return err
		} else if ok {
			r.CreatedAt = prev.CreatedAt
		}
	}
	now := s.now()
	stamp(r, now)

	urls, err := json.Marshal(r.ArtifactURLs)
	if err != nil {
		return fmt.Errorf("conversation: encode artifact urls: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO conversations (%s) VALUES (%s)
		ON CONFLICT (conversation_id) DO UPDATE SET
			task_id = excluded.task_id,
			task_name = excluded.task_name,
			task_type = excluded.task_type,
			status = excluded.status,
			preview_ready = excluded.preview_ready,
			checks_status = excluded.checks_status,
			draft_pr_payload_exists = excluded.draft_pr_payload_exists,
			artifact_urls = excluded.artifact_urls,
			created_at = excluded.created_at,
			last_activity_at = excluded.last_activity_at,
			ttl = excluded.ttl`,
		conversationColumns, s.db.Dialect.Placeholders(1, 12))

	_, err = s.db.ExecContext(ctx, query,
		r.ConversationID, r.TaskID, r.TaskName, r.TaskType, string(r.Status), boolInt(r.PreviewReady),
		r.ChecksStatus, boolInt(r.DraftPRPayloadExists), string(urls),
		r.CreatedAt.UnixMilli(), r.LastActivityAt.UnixMilli(), now.Add(s.retention).Unix(),
	)
	if err != nil {
		return unavailable(s.Backend(), "save", err)
	}
	return nil
}

func (s *SQLStore) GetConversation(ctx context.Context, id string) (*Record, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE conversation_id = %s AND ttl > %s`,
		conversationColumns, s.db.Dialect.Placeholder(1), s.db.Dialect.Placeholder(2))
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, strings.TrimSpace(id), s.now().Unix()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(s.Backend(), "get", err)
	}
	return r, true, nil
}

func (s *SQLStore) DeleteConversation(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM conversations WHERE conversation_id = %s`, s.db.Dialect.Placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, strings.TrimSpace(id)); err != nil {
		return unavailable(s.Backend(), "delete", err)
	}
	return nil
}

func (s *SQLStore) ListConversations(ctx context.Context, opts ListOptions) ([]*Record, error) {
	set, ok := opts.activeFilter()
	if !ok {
		return []*Record{}, nil
	}
	d := s.db.Dialect

	where := []string{"status <> " + d.Placeholder(1), "ttl > " + d.Placeholder(2)}
	args := []any{string(StatusCompleted), s.now().Unix()}
	if set != nil {
		in := make([]string, 0, len(set))
		for _, st := range Statuses() {
			if set[st] {
				args = append(args, string(st))
				in = append(in, d.Placeholder(len(args)))
			}
		}
		where = append(where, "status IN ("+strings.Join(in, ", ")+")")
	}
	args = append(args, opts.limit())
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE %s
		ORDER BY last_activity_at DESC, conversation_id ASC LIMIT %s`,
		conversationColumns, strings.Join(where, " AND "), d.Placeholder(len(args)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(s.Backend(), "list", err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(s.Backend(), "list", err)
		}
		if matches(r, set) {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(s.Backend(), "list", err)
	}
	return sortAndTruncate(out, opts.limit()), nil
}

func (s *SQLStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-cleanupTTL(ttl)).UnixMilli()
	query := fmt.Sprintf(`DELETE FROM conversations WHERE last_activity_at < %s`, s.db.Dialect.Placeholder(1))
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, unavailable(s.Backend(), "cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(s.Backend(), "cleanup", err)
	}
	return int(n), nil
}

func (s *SQLStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r                     Record
		status, urls          string
		preview, draft        int64
		createdMs, activityMs int64
		ttl                   int64
	)
	err := row.Scan(&r.ConversationID, &r.TaskID, &r.TaskName, &r.TaskType, &status, &preview,
		&r.ChecksStatus, &draft, &urls, &createdMs, &activityMs, &ttl)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.PreviewReady = preview != 0
	r.DraftPRPayloadExists = draft != 0
	if urls != "" {
		if err := json.Unmarshal([]byte(urls), &r.ArtifactURLs); err != nil {
			return nil, fmt.Errorf("decode artifact urls: %w", err)
		}
	}
	r.ArtifactURLs = nonNilStrings(r.ArtifactURLs)
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	r.LastActivityAt = time.UnixMilli(activityMs).UTC()
	return &r, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
