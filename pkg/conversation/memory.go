package conversation

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps conversations in process memory (development only).
// A record expires retention after its last save, like the ttl column of
// the other backends.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*Record
	now       func() time.Time
	retention time.Duration
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{records: make(map[string]*Record), now: o.now, retention: o.retention}
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) SaveConversation(_ context.Context, r *Record) error {
	if err := prepare(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[r.ConversationID]; ok && !s.expired(prev) && r.CreatedAt.IsZero() {
		r.CreatedAt = prev.CreatedAt
	}
	stamp(r, s.now())
	s.records[r.ConversationID] = r.Clone()
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[strings.TrimSpace(id)]
	if !ok || s.expired(r) {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, strings.TrimSpace(id))
	return nil
}

func (s *MemoryStore) ListConversations(_ context.Context, opts ListOptions) ([]*Record, error) {
	set, ok := opts.activeFilter()
	if !ok {
		return []*Record{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		if !s.expired(r) && matches(r, set) {
			out = append(out, r.Clone())
		}
	}
	return sortAndTruncate(out, opts.limit()), nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-cleanupTTL(ttl))
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.records {
		if r.LastActivityAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) expired(r *Record) bool {
	return !s.now().Before(r.LastActivityAt.Add(s.retention))
}
