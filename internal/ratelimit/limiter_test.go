package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/storage/memory"
)

func newTestLimiter(t *testing.T, opts ...Option) (*Limiter, *memory.Store) {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger, opts...), store
}

func freeIdentity(id string) *domain.Identity {
	return &domain.Identity{ID: id, Tier: domain.TierFree, IsAnonymous: true}
}

func wantThrottle(t *testing.T, err error, code domain.ErrorCode) *domain.Error {
	t.Helper()
	var ge *domain.Error
	if !errors.As(err, &ge) || ge.Code != code {
		t.Fatalf("error = %v, want code %s", err, code)
	}
	if ge.Type != domain.ErrorTypeThrottle {
		t.Errorf("type = %s, want throttle", ge.Type)
	}
	return ge
}

func TestConversationCapIsCumulative(t *testing.T) {
	// High minute limit so only the conversation budget binds.
	l, _ := newTestLimiter(t, WithMinuteLimit(1000))
	ctx := context.Background()
	id := freeIdentity("user-1")

	for i := 1; i <= 4; i++ {
		if err := l.Admit(ctx, id, "conv-a"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	ge := wantThrottle(t, l.Admit(ctx, id, "conv-a"), domain.CodeRateLimitConversation)
	if ge.CurrentUsage != 4 || ge.Limit != 4 {
		t.Errorf("usage/limit = %d/%d, want 4/4", ge.CurrentUsage, ge.Limit)
	}
	if !ge.UpgradeRequired {
		t.Error("UpgradeRequired not set")
	}

	// The budget never resets: still rejected, and usage still reads 4.
	ge = wantThrottle(t, l.Admit(ctx, id, "conv-a"), domain.CodeRateLimitConversation)
	if ge.CurrentUsage != 4 {
		t.Errorf("usage after repeat rejection = %d, want 4", ge.CurrentUsage)
	}

	// A different conversation has its own budget.
	if err := l.Admit(ctx, id, "conv-b"); err != nil {
		t.Errorf("fresh conversation rejected: %v", err)
	}
}

func TestMinuteWindowResets(t *testing.T) {
	l, store := newTestLimiter(t)
	ctx := context.Background()
	id := freeIdentity("user-2")

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	for i := 1; i <= 3; i++ {
		if err := l.Admit(ctx, id, ""); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	ge := wantThrottle(t, l.Admit(ctx, id, ""), domain.CodeRateLimitMinuteExceeded)
	if ge.RetryAfterSeconds <= 0 || ge.RetryAfterSeconds > 60 {
		t.Errorf("RetryAfterSeconds = %d, want within (0, 60]", ge.RetryAfterSeconds)
	}
	// Minute rejections carry the upgrade option alongside the backoff.
	if !ge.UpgradeRequired {
		t.Error("UpgradeRequired not set on minute rejection")
	}

	// The window resets lazily once it has lapsed.
	now = now.Add(61 * time.Second)
	if err := l.Admit(ctx, id, ""); err != nil {
		t.Errorf("request after window lapse rejected: %v", err)
	}
}

func TestMinuteRejectionRefundsConversationBudget(t *testing.T) {
	l, store := newTestLimiter(t, WithMinuteLimit(1))
	ctx := context.Background()
	id := freeIdentity("user-3")

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	if err := l.Admit(ctx, id, "conv-a"); err != nil {
		t.Fatal(err)
	}
	// Window-limited rejections must not consume conversation budget.
	wantThrottle(t, l.Admit(ctx, id, "conv-a"), domain.CodeRateLimitMinuteExceeded)
	wantThrottle(t, l.Admit(ctx, id, "conv-a"), domain.CodeRateLimitMinuteExceeded)

	// After the windows lapse, exactly three conversation slots remain.
	for i := 0; i < 3; i++ {
		now = now.Add(61 * time.Second)
		if err := l.Admit(ctx, id, "conv-a"); err != nil {
			t.Fatalf("slot %d after refund: %v", i+2, err)
		}
	}
	now = now.Add(61 * time.Second)
	wantThrottle(t, l.Admit(ctx, id, "conv-a"), domain.CodeRateLimitConversation)
}

func TestPaidAndUnlockedBypass(t *testing.T) {
	l, _ := newTestLimiter(t, WithConversationLimit(1), WithMinuteLimit(1))
	ctx := context.Background()

	paid := &domain.Identity{ID: "payer", Tier: domain.TierPaid}
	for i := 0; i < 10; i++ {
		if err := l.Admit(ctx, paid, "conv-x"); err != nil {
			t.Fatalf("paid identity throttled: %v", err)
		}
	}

	unlocked := &domain.Identity{ID: "vip", Tier: domain.TierFree, ThrottleUnlocked: true}
	for i := 0; i < 10; i++ {
		if err := l.Admit(ctx, unlocked, "conv-x"); err != nil {
			t.Fatalf("unlocked identity throttled: %v", err)
		}
	}
}
