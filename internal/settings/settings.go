// Package settings saves and resolves each identity's LLM
// configuration. User-supplied API keys are validated against the
// provider before anything is written, then stored encrypted; the
// plaintext key exists only in memory for the duration of a request.
package settings

import (
	"context"
	"errors"
	"log/slog"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/provider"
	"github.com/orbitalai/lumara-gateway/internal/storage"
	"github.com/orbitalai/lumara-gateway/internal/vault"
)

// KeyValidator checks a credential against the live provider.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context, providerName, modelID, credential, accountID string) error
}

// Service manages saved model settings.
type Service struct {
	store         storage.SettingsStore
	validator     KeyValidator
	encryptionKey string
	projectKeys   map[string]string
	logger        *slog.Logger
}

// New creates the settings service. projectKeys maps provider ids to
// the gateway's own API keys for the providers served on the project
// key.
func New(store storage.SettingsStore, validator KeyValidator, encryptionKey string, projectKeys map[string]string, logger *slog.Logger) *Service {
	return &Service{
		store:         store,
		validator:     validator,
		encryptionKey: encryptionKey,
		projectKeys:   projectKeys,
		logger:        logger,
	}
}

// SaveRequest is the caller's desired configuration. Exactly one of
// APIKey or UseProjectKey should be set.
type SaveRequest struct {
	Provider      string
	ModelID       string
	APIKey        string
	UseProjectKey bool
	AccountID     string
}

// Save validates and persists an identity's model settings. Nothing is
// written unless every check passes, so a failed save leaves any prior
// settings untouched.
func (s *Service) Save(ctx context.Context, identityID string, req *SaveRequest) (*domain.ModelSettings, error) {
	providerID, modelID := provider.Route(req.Provider, req.ModelID)
	cfg, err := provider.Resolve(providerID)
	if err != nil {
		return nil, err
	}
	if modelID == "" {
		modelID = cfg.DefaultModelID
	}

	saved := &domain.ModelSettings{
		Provider:  cfg.ID,
		ModelID:   modelID,
		AccountID: req.AccountID,
	}

	if req.UseProjectKey {
		if !provider.ProjectKeyAllowed(cfg.ID) {
			return nil, domain.ErrProjectKeyNotSupported(cfg.ID)
		}
		if s.projectKeys[cfg.ID] == "" {
			return nil, domain.NewError(domain.ErrorTypeServer, domain.CodeInternal,
				"project key is not configured for this provider")
		}
		saved.UseProjectKey = true
	} else {
		if req.APIKey == "" {
			return nil, domain.ErrInvalidRequest("an API key is required unless useProjectKey is set")
		}
		if err := s.validator.ValidateAPIKey(ctx, cfg.ID, modelID, req.APIKey, req.AccountID); err != nil {
			return nil, err
		}
		encrypted, err := vault.Encrypt(req.APIKey, s.encryptionKey)
		if err != nil {
			return nil, err
		}
		saved.APIKeyEncrypted = encrypted
	}

	if err := s.store.Put(ctx, identityID, saved); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "model settings saved",
		slog.String("identity_id", identityID),
		slog.String("provider", saved.Provider),
		slog.String("model_id", saved.ModelID),
		slog.Bool("project_key", saved.UseProjectKey))
	return saved, nil
}

// Load returns the identity's saved settings and the plaintext
// credential to dispatch with.
func (s *Service) Load(ctx context.Context, identityID string) (*domain.ModelSettings, string, error) {
	saved, err := s.store.Get(ctx, identityID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", domain.ErrInvalidRequest("no saved model settings; configure a provider first")
	}
	if err != nil {
		return nil, "", err
	}

	if saved.UseProjectKey {
		key := s.projectKeys[saved.Provider]
		if key == "" {
			return nil, "", domain.NewError(domain.ErrorTypeServer, domain.CodeInternal,
				"project key is not configured for this provider")
		}
		return saved, key, nil
	}

	plaintext, err := vault.Decrypt(saved.APIKeyEncrypted, s.encryptionKey)
	if err != nil {
		return nil, "", err
	}
	return saved, plaintext, nil
}
