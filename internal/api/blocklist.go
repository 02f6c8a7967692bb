package api

import (
	"sync"
	"time"
)

// Blocklist is a concurrent-safe soft-ban tracker for usernames that
// repeatedly fail authentication. A username is
// soft-banned once its failure count reaches banThreshold, and stays banned
// until banDuration elapses since its last failure. Failures are not aged
// out by time; the count resets only on a successful auth or on the first
// failure after a ban has expired.
//
// Concurrency: sync.RWMutex allows concurrent Allowed() lookups during the
// hot submit_work path while RecordFailure() writes are serialized, the
// same read/write split used elsewhere in this codebase for a
// frequently-read, rarely-written watchlist.
type Blocklist struct {
	mu            sync.RWMutex
	entries       map[string]*banEntry
	banThreshold  int
	banDuration   time.Duration
}

type banEntry struct {
	failures  int
	lastFail  time.Time
	bannedAt  time.Time
	isBanned  bool
}

// NewBlocklist creates a blocklist that soft-bans a username after
// threshold consecutive auth failures, for duration.
func NewBlocklist(threshold int, duration time.Duration) *Blocklist {
	return &Blocklist{
		entries:      make(map[string]*banEntry),
		banThreshold: threshold,
		banDuration:  duration,
	}
}

// Allowed reports whether username is currently permitted to attempt
// authentication.
func (b *Blocklist) Allowed(username string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[username]
	if !ok || !e.isBanned {
		return true
	}
	return time.Since(e.bannedAt) > b.banDuration
}

// RecordFailure increments username's failure count and soft-bans it once
// the threshold is crossed.
func (b *Blocklist) RecordFailure(username string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[username]
	if !ok {
		e = &banEntry{}
		b.entries[username] = e
	}
	// A ban that has since expired resets the counter instead of
	// accumulating forever.
	if e.isBanned && time.Since(e.bannedAt) > b.banDuration {
		e.isBanned = false
		e.failures = 0
	}

	e.failures++
	e.lastFail = time.Now()
	if e.failures >= b.banThreshold {
		e.isBanned = true
		e.bannedAt = time.Now()
	}
}

// RecordSuccess clears username's failure count after a successful auth.
func (b *Blocklist) RecordSuccess(username string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, username)
}
