package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/server"
	"github.com/orbitalai/lumara-gateway/internal/settings"
	"github.com/orbitalai/lumara-gateway/internal/storage"
)

type chatPayload struct {
	Provider       string        `json:"provider"`
	Model          string        `json:"model"`
	System         string        `json:"system"`
	Message        string        `json:"message"`
	History        []domain.Turn `json:"history"`
	ConversationID string        `json:"conversationId"`
	EntryID        string        `json:"entryId"`
	ThreadID       string        `json:"threadId"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"maxTokens"`
}

type chatResponse struct {
	Text           string `json:"text"`
	TrialRemaining *int   `json:"trialRemaining,omitempty"`
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	adm, err := g.guard.Admit(ctx, bearerToken(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	server.AddLogField(ctx, "identity_id", adm.Identity.ID)

	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		g.writeError(w, r, domain.ErrInvalidRequest("malformed JSON body"))
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		g.writeError(w, r, domain.ErrInvalidRequest("message is required"))
		return
	}

	if err := g.limiter.Admit(ctx, adm.Identity, payload.ConversationID); err != nil {
		g.writeError(w, r, err)
		return
	}
	if payload.EntryID != "" {
		if err := g.quotas.ChargeAnalysis(ctx, adm.Identity, payload.EntryID); err != nil {
			g.writeError(w, r, err)
			return
		}
	}
	if payload.ThreadID != "" {
		if err := g.quotas.ChargeChatTurn(ctx, adm.Identity, payload.ThreadID); err != nil {
			g.writeError(w, r, err)
			return
		}
	}

	saved, credential, err := g.settings.Load(ctx, adm.Identity.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	req := &domain.ChatRequest{
		Provider:    saved.Provider,
		ModelID:     saved.ModelID,
		System:      payload.System,
		User:        payload.Message,
		History:     payload.History,
		Credential:  credential,
		AccountID:   saved.AccountID,
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
	}
	// The request may narrow the saved configuration, never the credential.
	if payload.Provider != "" {
		req.Provider = payload.Provider
	}
	if payload.Model != "" {
		req.ModelID = payload.Model
	}
	server.AddLogField(ctx, "provider", req.Provider)
	server.AddLogField(ctx, "model", req.ModelID)

	start := time.Now()
	text, err := g.adapter.CompleteChat(ctx, req)
	g.recordDispatch(r, adm.Identity.ID, req, err, time.Since(start))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := chatResponse{Text: text}
	if adm.TrialRemaining >= 0 {
		remaining := adm.TrialRemaining
		resp.TrialRemaining = &remaining
	}
	g.writeJSON(w, http.StatusOK, resp)
}

type saveSettingsPayload struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	APIKey        string `json:"apiKey"`
	UseProjectKey bool   `json:"useProjectKey"`
	AccountID     string `json:"accountId"`
}

type saveSettingsResponse struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	UseProjectKey bool   `json:"useProjectKey"`
}

func (g *Gateway) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	adm, err := g.guard.Admit(ctx, bearerToken(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	var payload saveSettingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		g.writeError(w, r, domain.ErrInvalidRequest("malformed JSON body"))
		return
	}

	saved, err := g.settings.Save(ctx, adm.Identity.ID, &settings.SaveRequest{
		Provider:      payload.Provider,
		ModelID:       payload.Model,
		APIKey:        payload.APIKey,
		UseProjectKey: payload.UseProjectKey,
		AccountID:     payload.AccountID,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	// The encrypted key never leaves the store.
	g.writeJSON(w, http.StatusOK, saveSettingsResponse{
		Provider:      saved.Provider,
		Model:         saved.ModelID,
		UseProjectKey: saved.UseProjectKey,
	})
}

type linkPayload struct {
	OldAnonymousID string `json:"oldAnonymousId"`
}

func (g *Gateway) handleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	adm, err := g.guard.Admit(ctx, bearerToken(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	var payload linkPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		g.writeError(w, r, domain.ErrInvalidRequest("malformed JSON body"))
		return
	}

	if err := g.guard.Link(ctx, payload.OldAnonymousID, adm.Identity.ID); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]bool{"linked": true})
}

type unlockPayload struct {
	Password string `json:"password"`
}

func (g *Gateway) handleUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	adm, err := g.guard.Admit(ctx, bearerToken(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	var payload unlockPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		g.writeError(w, r, domain.ErrInvalidRequest("malformed JSON body"))
		return
	}

	if err := g.guard.Unlock(ctx, adm.Identity.ID, payload.Password, g.unlockPassword); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]bool{"throttleUnlocked": true})
}

// recordDispatch writes the audit row. Best-effort: a failed write is
// logged and the request proceeds.
func (g *Gateway) recordDispatch(r *http.Request, identityID string, req *domain.ChatRequest, dispatchErr error, latency time.Duration) {
	if g.audit == nil {
		return
	}
	outcome := "ok"
	if dispatchErr != nil {
		outcome = string(domain.AsError(dispatchErr).Code)
	}
	rec := &storage.DispatchRecord{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		Provider:   req.Provider,
		ModelID:    req.ModelID,
		Outcome:    outcome,
		LatencyMS:  latency.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := g.audit.RecordDispatch(r.Context(), rec); err != nil {
		g.logger.WarnContext(r.Context(), "audit write failed",
			"identity_id", identityID, "error", err)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ge := domain.AsError(err)
	server.AddError(r.Context(), err)
	if ge.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ge.RetryAfterSeconds))
	}
	g.writeJSON(w, ge.HTTPStatusCode(), map[string]*domain.Error{"error": ge})
}
