// Package quota enforces the per-feature usage budgets for free-tier
// identities: analyses per journal entry and turns per chat thread.
package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/storage"
)

const (
	defaultAnalysisLimit = 4
	defaultChatLimit     = 200
)

// Guard charges feature usage against cumulative counters. Like the
// rate limiter, it increments first and refunds on rejection so the
// stored count settles at the limit.
type Guard struct {
	counters      storage.CounterStore
	logger        *slog.Logger
	analysisLimit int
	chatLimit     int
}

type Option func(*Guard)

// WithAnalysisLimit overrides the per-entry analysis budget.
func WithAnalysisLimit(n int) Option {
	return func(g *Guard) { g.analysisLimit = n }
}

// WithChatLimit overrides the per-thread turn budget.
func WithChatLimit(n int) Option {
	return func(g *Guard) { g.chatLimit = n }
}

func New(counters storage.CounterStore, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		counters:      counters,
		logger:        logger,
		analysisLimit: defaultAnalysisLimit,
		chatLimit:     defaultChatLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ChargeAnalysis admits one analysis of the given entry. Paid
// identities are never charged.
func (g *Guard) ChargeAnalysis(ctx context.Context, identity *domain.Identity, entryID string) error {
	if identity.Tier == domain.TierPaid {
		return nil
	}
	key := identity.ID + "_analysis_" + entryID
	count, err := g.counters.IncrementTotal(ctx, key)
	if err != nil {
		return err
	}
	if count > g.analysisLimit {
		g.refund(ctx, key)
		return domain.NewError(domain.ErrorTypeThrottle, domain.CodeAnalysisLimitReached,
			fmt.Sprintf("This entry has used its %d free analyses. Upgrade for unlimited analyses.", g.analysisLimit)).
			WithUsage(g.analysisLimit, g.analysisLimit).
			WithUpgradeRequired().
			WithTier(identity.Tier)
	}
	return nil
}

// ChargeChatTurn admits one turn in the given chat thread. Paid
// identities are never charged.
func (g *Guard) ChargeChatTurn(ctx context.Context, identity *domain.Identity, threadID string) error {
	if identity.Tier == domain.TierPaid {
		return nil
	}
	key := identity.ID + "_chat_" + threadID
	count, err := g.counters.IncrementTotal(ctx, key)
	if err != nil {
		return err
	}
	if count > g.chatLimit {
		g.refund(ctx, key)
		return domain.NewError(domain.ErrorTypeThrottle, domain.CodeChatLimitReached,
			fmt.Sprintf("This thread has reached its %d-turn limit. Start a new thread or upgrade.", g.chatLimit)).
			WithUsage(g.chatLimit, g.chatLimit).
			WithUpgradeRequired().
			WithTier(identity.Tier)
	}
	return nil
}

func (g *Guard) refund(ctx context.Context, key string) {
	if err := g.counters.Decrement(ctx, key); err != nil {
		g.logger.WarnContext(ctx, "failed to refund quota counter",
			slog.String("key", key), slog.Any("error", err))
	}
}
