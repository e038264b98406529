package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/storage"
)

// TrialLimit is how many requests an anonymous identity may make before
// it must sign in.
const TrialLimit = 5

// Guard authenticates callers and enforces the anonymous trial.
type Guard struct {
	store    storage.IdentityStore
	verifier *Verifier
	logger   *slog.Logger
}

func NewGuard(store storage.IdentityStore, verifier *Verifier, logger *slog.Logger) *Guard {
	return &Guard{store: store, verifier: verifier, logger: logger}
}

// Admission is the result of a successful authentication.
type Admission struct {
	Identity *domain.Identity

	// TrialRemaining is how many anonymous requests remain after this
	// one, or -1 when the identity is not anonymous.
	TrialRemaining int
}

// Admit verifies the token, loads or lazily creates the identity
// record, and charges the anonymous trial when it applies.
//
// The trial counter is incremented first and read back; if the result
// exceeds the limit the increment is undone, so the stored count
// settles at exactly the limit no matter how many rejected requests
// follow. A stored isAnonymous=false always wins over the token's
// anonymous claim: once an identity has signed in it never becomes
// anonymous again.
func (g *Guard) Admit(ctx context.Context, rawToken string) (*Admission, error) {
	if rawToken == "" {
		return nil, domain.ErrAuthenticationRequired()
	}
	claims, err := g.verifier.Verify(rawToken)
	if err != nil {
		return nil, err
	}

	identity, err := g.store.Get(ctx, claims.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		if err := g.store.Create(ctx, &domain.Identity{
			ID:          claims.Subject,
			Tier:        domain.TierFree,
			IsAnonymous: claims.Anonymous,
		}); err != nil {
			return nil, err
		}
		// Re-read so a concurrent creator's record wins.
		identity, err = g.store.Get(ctx, claims.Subject)
	}
	if err != nil {
		return nil, err
	}

	if !claims.Anonymous && identity.IsAnonymous {
		if err := g.store.MarkPersistent(ctx, identity.ID); err != nil {
			return nil, err
		}
		identity.IsAnonymous = false
	}

	if !identity.IsAnonymous {
		return &Admission{Identity: identity, TrialRemaining: -1}, nil
	}

	count, err := g.store.IncrementAnonymousCount(ctx, identity.ID, 1)
	if err != nil {
		return nil, err
	}
	if count > TrialLimit {
		if _, err := g.store.IncrementAnonymousCount(ctx, identity.ID, -1); err != nil {
			g.logger.WarnContext(ctx, "failed to undo trial increment",
				slog.String("identity_id", identity.ID), slog.Any("error", err))
		}
		return nil, domain.ErrAnonymousTrialExpired(TrialLimit, TrialLimit)
	}

	identity.AnonymousRequestCount = count
	return &Admission{Identity: identity, TrialRemaining: TrialLimit - count}, nil
}

// CanLink reports whether oldID may be linked to newID, without
// performing the link. A link that already points at newID is allowed
// so retries stay idempotent.
func (g *Guard) CanLink(ctx context.Context, oldID, newID string) error {
	if oldID == "" || newID == "" {
		return domain.ErrInvalidRequest("both identity ids are required")
	}
	if oldID == newID {
		return domain.ErrInvalidRequest("cannot link an identity to itself")
	}

	old, err := g.store.Get(ctx, oldID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrInvalidRequest("unknown source identity")
	}
	if err != nil {
		return err
	}
	if old.LinkedTo != "" && old.LinkedTo != newID {
		return domain.ErrInvalidRequest("identity is already linked to a different account")
	}
	if old.LinkedTo == "" && !old.IsAnonymous {
		return domain.ErrInvalidRequest("only anonymous identities can be linked")
	}
	return nil
}

// Link migrates the anonymous identity oldID onto the persistent
// identity newID. Repeating a completed link is a no-op.
func (g *Guard) Link(ctx context.Context, oldID, newID string) error {
	if err := g.CanLink(ctx, oldID, newID); err != nil {
		return err
	}

	old, err := g.store.Get(ctx, oldID)
	if err != nil {
		return err
	}
	if old.LinkedTo == newID {
		return nil
	}

	if err := g.store.Link(ctx, oldID, newID); err != nil {
		return err
	}
	g.logger.InfoContext(ctx, "identity linked",
		slog.String("from", oldID), slog.String("to", newID))
	return nil
}

// Unlock sets the throttle override on an identity after the caller
// presents the configured unlock password.
func (g *Guard) Unlock(ctx context.Context, id, password, want string) error {
	if want == "" || subtle.ConstantTimeCompare([]byte(password), []byte(want)) != 1 {
		return domain.ErrInvalidUnlockPassword()
	}
	if err := g.store.SetThrottleUnlocked(ctx, id, true); err != nil {
		return err
	}
	g.logger.InfoContext(ctx, "throttle unlocked", slog.String("identity_id", id))
	return nil
}
