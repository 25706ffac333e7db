package cache

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-analytics/internal/model"
)

type heldLease struct {
	token   string
	expires time.Time
}

// MemoryLocker is a Locker for a single process.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]heldLease
	now    func() time.Time
}

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]heldLease), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.leases[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}
	lease := newLease(key, ttl, now)
	l.leases[key] = heldLease{token: lease.Token, expires: now.Add(ttl)}
	return lease, true, nil
}

func (l *MemoryLocker) Extend(_ context.Context, lease *Lease, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	h, ok := l.leases[lease.Key]
	if !ok || h.token != lease.Token || !now.Before(h.expires) {
		return ErrLeaseLost
	}
	h.expires = now.Add(ttl)
	l.leases[lease.Key] = h
	lease.TTL = ttl
	return nil
}

func (l *MemoryLocker) Release(_ context.Context, lease *Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.leases[lease.Key]; ok && h.token == lease.Token {
		delete(l.leases, lease.Key)
	}
	return nil
}

type storedEntry struct {
	entry   model.CommentaryEntry
	expires time.Time
}

// MemoryCommentaryStore is a CommentaryStore for a single process.
type MemoryCommentaryStore struct {
	mu      sync.RWMutex
	entries map[string]storedEntry
	now     func() time.Time
}

// NewMemoryCommentaryStore creates a MemoryCommentaryStore.
func NewMemoryCommentaryStore() *MemoryCommentaryStore {
	return &MemoryCommentaryStore{entries: make(map[string]storedEntry), now: time.Now}
}

func (s *MemoryCommentaryStore) Get(_ context.Context, key string) (*model.CommentaryEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expires) {
		return nil, false, nil
	}
	entry := e.entry
	return &entry, true, nil
}

func (s *MemoryCommentaryStore) Set(_ context.Context, entry model.CommentaryEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Key] = storedEntry{entry: entry, expires: s.now().Add(ttl)}
	return nil
}
