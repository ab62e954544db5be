package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/database"
)

// SQLStore keeps entries in a relational table with an explicit expiry
// column (unix milliseconds). Reads filter on expiry; CleanupExpired sweeps.
type SQLStore struct {
	db     *database.DB
	now    func() time.Time
	ownsDB bool
}

// NewSQLStore creates the table if needed. The caller keeps ownership of db.
func NewSQLStore(ctx context.Context, db *database.DB, opts ...Option) (*SQLStore, error) {
	o := buildOptions(opts)
	s := &SQLStore{db: db, now: o.now}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	d := s.db.Dialect
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS state_entries (
			key TEXT PRIMARY KEY,
			value %s,
			expires_at %s NOT NULL
		)`, d.BlobType(), d.IntType()),
		`CREATE INDEX IF NOT EXISTS idx_state_entries_expires_at ON state_entries (expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailable(s.Backend(), "migrate", err)
		}
	}
	return nil
}

func (s *SQLStore) Backend() string { return string(s.db.Dialect) }

func (s *SQLStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKey(key); err != nil {
		return err
	}
	d := s.db.Dialect
	expiresAt := s.now().Add(max(ttl, 0)).UnixMilli()
	query := fmt.Sprintf(`INSERT INTO state_entries (key, value, expires_at) VALUES (%s)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		d.Placeholders(1, 3))
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return unavailable(s.Backend(), "put", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	d := s.db.Dialect
	query := fmt.Sprintf(`SELECT value FROM state_entries WHERE key = %s AND expires_at > %s`,
		d.Placeholder(1), d.Placeholder(2))

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(s.Backend(), "get", err)
	}
	return value, true, nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM state_entries WHERE key = %s`, s.db.Dialect.Placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return unavailable(s.Backend(), "delete", err)
	}
	return nil
}

func (s *SQLStore) CleanupExpired(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM state_entries WHERE expires_at <= %s`, s.db.Dialect.Placeholder(1))
	res, err := s.db.ExecContext(ctx, query, s.now().UnixMilli())
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
