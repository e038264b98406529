// Package gateway is the composition root: it wires the auth guard,
// rate limiter, quota guard, settings service, and protocol adapter
// behind the HTTP surface.
package gateway

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/identity"
	"github.com/orbitalai/lumara-gateway/internal/quota"
	"github.com/orbitalai/lumara-gateway/internal/ratelimit"
	"github.com/orbitalai/lumara-gateway/internal/settings"
	"github.com/orbitalai/lumara-gateway/internal/storage"
)

// ChatAdapter dispatches a chat request to the resolved provider.
type ChatAdapter interface {
	CompleteChat(ctx context.Context, req *domain.ChatRequest) (string, error)
}

// Gateway holds the wired components and exposes the HTTP handlers.
type Gateway struct {
	guard          *identity.Guard
	limiter        *ratelimit.Limiter
	quotas         *quota.Guard
	settings       *settings.Service
	adapter        ChatAdapter
	audit          storage.AuditStore
	logger         *slog.Logger
	unlockPassword string
}

type Config struct {
	Guard          *identity.Guard
	Limiter        *ratelimit.Limiter
	Quotas         *quota.Guard
	Settings       *settings.Service
	Adapter        ChatAdapter
	Audit          storage.AuditStore
	Logger         *slog.Logger
	UnlockPassword string
}

func New(cfg Config) *Gateway {
	return &Gateway{
		guard:          cfg.Guard,
		limiter:        cfg.Limiter,
		quotas:         cfg.Quotas,
		settings:       cfg.Settings,
		adapter:        cfg.Adapter,
		audit:          cfg.Audit,
		logger:         cfg.Logger,
		unlockPassword: cfg.UnlockPassword,
	}
}

// Mount registers the gateway routes on the router.
func (g *Gateway) Mount(r chi.Router) {
	r.Post("/v1/chat", g.handleChat)
	r.Put("/v1/settings/llm", g.handleSaveSettings)
	r.Post("/v1/identity/link", g.handleLink)
	r.Post("/v1/throttle/unlock", g.handleUnlock)
}
