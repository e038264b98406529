// Package storage defines the store contracts the gateway core depends
// on. All mutable state (identity records, counters, settings) lives
// behind these interfaces in an external document store and must be
// treated as racing with concurrent requests from the same identity.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("storage: not found")

// IdentityStore holds identity records keyed by identity id.
// Implementations must support atomic field increments and a
// transactional multi-document write for Link.
type IdentityStore interface {
	Get(ctx context.Context, id string) (*domain.Identity, error)
	Create(ctx context.Context, identity *domain.Identity) error

	// IncrementAnonymousCount atomically adds delta to the identity's
	// anonymous request counter and returns the resulting value. delta
	// may be negative to undo an admission that was then rejected.
	IncrementAnonymousCount(ctx context.Context, id string, delta int) (int, error)

	// MarkPersistent clears isAnonymous. It never sets it back.
	MarkPersistent(ctx context.Context, id string) error

	// SetTier records a tier change. Called by the billing integration
	// when a subscription starts or lapses; every admission decision
	// reads the stored tier on its next request.
	SetTier(ctx context.Context, id string, tier domain.Tier) error
	SetThrottleUnlocked(ctx context.Context, id string, unlocked bool) error

	// Link atomically copies the old identity's mutable fields onto the
	// new record (isAnonymous=false, anonymous counter zeroed) and marks
	// the old record with a forwarding pointer. Both writes land in one
	// transactional batch; a partial link must not be observable.
	Link(ctx context.Context, oldID, newID string) error
}

// SettingsStore holds each identity's saved LLM settings.
type SettingsStore interface {
	Get(ctx context.Context, identityID string) (*domain.ModelSettings, error)
	Put(ctx context.Context, identityID string, settings *domain.ModelSettings) error
}

// CounterStore provides the atomic counter primitives the rate limiter
// and quota guard run on. A read-compare-write sequence over a whole
// document is not safe under concurrency; these operations are.
type CounterStore interface {
	// IncrementWindow atomically increments a fixed-window counter,
	// restarting the window when the stored window has lapsed. It
	// returns the post-increment count and the time remaining until the
	// window boundary.
	IncrementWindow(ctx context.Context, key string, window time.Duration) (count int, resetIn time.Duration, err error)

	// IncrementTotal atomically increments a cumulative counter that
	// never expires and returns the resulting value.
	IncrementTotal(ctx context.Context, key string) (int, error)

	// Decrement atomically undoes one increment, so a rejected request
	// leaves the stored count at the cap instead of beyond it.
	Decrement(ctx context.Context, key string) error
}

// AuditStore records completed gateway dispatches. Writes are
// best-effort: a failed audit write never fails the request it records.
type AuditStore interface {
	RecordDispatch(ctx context.Context, rec *DispatchRecord) error
	Close() error
}

// DispatchRecord is one audited chat dispatch.
type DispatchRecord struct {
	ID         string
	IdentityID string
	Provider   string
	ModelID    string
	Outcome    string // "ok" or the error code
	LatencyMS  int64
	CreatedAt  time.Time
}
