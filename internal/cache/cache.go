// Package cache holds the coach's shared state: short-lived generation leases
// and the commentary store. Both come in an in-process and a Redis flavour.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-analytics/internal/model"
)

// ErrLeaseLost is returned when a lease expired or was taken over.
var ErrLeaseLost = errors.New("lease lost")

// Lease is a held in-flight lock. Only the holder of Token may extend or
// release it.
type Lease struct {
	Key        string        `json:"key"`
	Token      string        `json:"token"`
	AcquiredAt time.Time     `json:"acquired_at"`
	TTL        time.Duration `json:"ttl"`
}

// Locker grants at most one live lease per key.
type Locker interface {
	// Acquire takes the lease if it is free or expired. ok is false when
	// someone else holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease *Lease, ok bool, err error)
	// Extend pushes the expiry of a held lease to now+ttl.
	Extend(ctx context.Context, lease *Lease, ttl time.Duration) error
	// Release frees a held lease. Releasing a lost lease is not an error.
	Release(ctx context.Context, lease *Lease) error
}

// CommentaryStore caches generated commentary by content key.
type CommentaryStore interface {
	Get(ctx context.Context, key string) (*model.CommentaryEntry, bool, error)
	Set(ctx context.Context, entry model.CommentaryEntry, ttl time.Duration) error
}

func newLease(key string, ttl time.Duration, now time.Time) *Lease {
	return &Lease{
		Key:        key,
		Token:      uuid.NewString(),
		AcquiredAt: now,
		TTL:        ttl,
	}
}
