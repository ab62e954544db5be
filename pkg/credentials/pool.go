// Package credentials holds the external API token pool.
//
// The pool rotates among a fixed set of API credentials, preferring the one
// with the fewest recorded failures.
package credentials

import (
	"errors"
	"strings"
	"sync"
)

// ErrEmptyPool is returned when a pool is built without any usable credential.
var ErrEmptyPool = errors.New("credentials: token pool is empty")

// Token is a credential handed out by the pool. Index identifies the slot the
// token came from so failures can be attributed back to it.
type Token struct {
	Index int
	Value string
}

// TokenStat is the public view of one slot. The secret itself is never included.
type TokenStat struct {
	Index    int `json:"index"`
	Failures int `json:"failures"`
}

type poolEntry struct {
	credential string
	failures   int
}

// TokenPool selects the credential with the lowest failure count, breaking
// ties round-robin. Failure counts only ever increase until Reset is called.
type TokenPool struct {
	mu      sync.Mutex
	entries []poolEntry
	next    int // slot at which the next tie-break scan starts
}

// NewTokenPool builds a pool from raw credentials. Blank and duplicate
// credentials are dropped.
func NewTokenPool(tokens []string) (*TokenPool, error) {
	seen := make(map[string]struct{}, len(tokens))
	entries := make([]poolEntry, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		entries = append(entries, poolEntry{credential: t})
	}
	if len(entries) == 0 {
		return nil, ErrEmptyPool
	}
	return &TokenPool{entries: entries}, nil
}

// ParseTokenList splits a comma-separated credential list.
func ParseTokenList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Acquire returns the least-failed credential. Among equally-failed
// credentials the scan starts just after the previous pick, so ties are
// handed out in slot order and wrap around.
func (p *TokenPool) Acquire() Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	best := -1
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		if best == -1 || p.entries[idx].failures < p.entries[best].failures {
			best = idx
		}
	}
	p.next = (best + 1) % n
	return Token{Index: best, Value: p.entries[best].credential}
}

// RecordFailure attributes one retryable failure to the token's slot.
// Tokens that did not come from this pool are ignored.
func (p *TokenPool) RecordFailure(t Token) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.Index < 0 || t.Index >= len(p.entries) {
		return
	}
	if p.entries[t.Index].credential != t.Value {
		return
	}
	p.entries[t.Index].failures++
}

// Reset clears all failure counters and restarts the rotation.
func (p *TokenPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.entries {
		p.entries[i].failures = 0
	}
	p.next = 0
}

// Stats returns a snapshot of failure counts in slot order.
func (p *TokenPool) Stats() []TokenStat {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]TokenStat, len(p.entries))
	for i, e := range p.entries {
		stats[i] = TokenStat{Index: i, Failures: e.failures}
	}
	return stats
}

// Len reports the number of credentials in the pool.
func (p *TokenPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
