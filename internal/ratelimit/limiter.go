// Package ratelimit enforces the free-tier request caps: a cumulative
// per-conversation budget and a short fixed-window global budget.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/storage"
)

const (
	defaultConversationLimit = 4
	defaultMinuteLimit       = 3
	defaultWindow            = time.Minute
)

// Limiter admits or rejects chat requests for an identity. Counters are
// incremented atomically and read back; a rejected request's increment
// is undone, so stored counts never drift past their caps under
// concurrent requests from the same identity.
type Limiter struct {
	counters          storage.CounterStore
	logger            *slog.Logger
	conversationLimit int
	minuteLimit       int
	window            time.Duration
}

type Option func(*Limiter)

// WithConversationLimit overrides the per-conversation budget.
func WithConversationLimit(n int) Option {
	return func(l *Limiter) { l.conversationLimit = n }
}

// WithMinuteLimit overrides the per-window global budget.
func WithMinuteLimit(n int) Option {
	return func(l *Limiter) { l.minuteLimit = n }
}

// WithWindow overrides the global window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

func New(counters storage.CounterStore, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		counters:          counters,
		logger:            logger,
		conversationLimit: defaultConversationLimit,
		minuteLimit:       defaultMinuteLimit,
		window:            defaultWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func conversationKey(identityID, conversationID string) string {
	return identityID + "_conv_" + conversationID
}

func globalKey(identityID string) string {
	return identityID + "_global"
}

// Admit charges one request against the identity's budgets. Paid and
// throttle-unlocked identities bypass both checks. The conversation
// budget is cumulative for the life of the conversation and never
// resets; the global budget resets when its window lapses.
func (l *Limiter) Admit(ctx context.Context, identity *domain.Identity, conversationID string) error {
	if identity.Tier == domain.TierPaid || identity.ThrottleUnlocked {
		return nil
	}

	charged := false
	convKey := conversationKey(identity.ID, conversationID)
	if conversationID != "" {
		count, err := l.counters.IncrementTotal(ctx, convKey)
		if err != nil {
			return err
		}
		if count > l.conversationLimit {
			l.refund(ctx, convKey)
			return domain.NewError(domain.ErrorTypeThrottle, domain.CodeRateLimitConversation,
				fmt.Sprintf("This conversation has used its %d free requests. Start a new conversation or upgrade.", l.conversationLimit)).
				WithUsage(l.conversationLimit, l.conversationLimit).
				WithUpgradeRequired().
				WithTier(identity.Tier)
		}
		charged = true
	}

	count, resetIn, err := l.counters.IncrementWindow(ctx, globalKey(identity.ID), l.window)
	if err != nil {
		return err
	}
	if count > l.minuteLimit {
		l.refund(ctx, globalKey(identity.ID))
		// A rejected request must not consume conversation budget either.
		if charged {
			l.refund(ctx, convKey)
		}
		retryAfter := int(math.Ceil(resetIn.Seconds()))
		return domain.NewError(domain.ErrorTypeThrottle, domain.CodeRateLimitMinuteExceeded,
			fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter)).
			WithUsage(l.minuteLimit, l.minuteLimit).
			WithUpgradeRequired().
			WithRetryAfter(retryAfter).
			WithTier(identity.Tier)
	}

	return nil
}

func (l *Limiter) refund(ctx context.Context, key string) {
	if err := l.counters.Decrement(ctx, key); err != nil {
		l.logger.WarnContext(ctx, "failed to refund rate-limit counter",
			slog.String("key", key), slog.Any("error", err))
	}
}
