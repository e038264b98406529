package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

// defaultTimeout bounds every outbound provider call with a single
// wall-clock deadline. On expiry the in-flight request is aborted.
const defaultTimeout = 85 * time.Second

// maxErrorBody caps how much of an upstream error body is carried back.
const maxErrorBody = 4096

// AdapterOption configures the adapter.
type AdapterOption func(*Adapter)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) AdapterOption {
	return func(a *Adapter) {
		a.httpClient = client
	}
}

// WithTimeout overrides the per-call wall-clock timeout.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithBaseURL overrides one provider's base URL, for tests and
// self-hosted compatible endpoints.
func WithBaseURL(providerID, baseURL string) AdapterOption {
	return func(a *Adapter) {
		a.baseURLs[providerID] = baseURL
	}
}

// Adapter dispatches logical chat requests to the provider selected by
// the registry. It is stateless and safe for concurrent use.
type Adapter struct {
	httpClient *http.Client
	timeout    time.Duration
	baseURLs   map[string]string
}

// NewAdapter creates a protocol adapter.
func NewAdapter(opts ...AdapterOption) *Adapter {
	a := &Adapter{
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		baseURLs:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CompleteChat resolves the provider, builds its wire-specific request,
// performs the bounded HTTP call, and extracts the assistant's text.
// A success status with no usable content is not treated as success.
func (a *Adapter) CompleteChat(ctx context.Context, req *domain.ChatRequest) (string, error) {
	// Routing aliasing runs before registry lookup so the dispatched
	// provider is the one the registry invariants hold for.
	providerID, modelID := Route(req.Provider, req.ModelID)

	cfg, err := Resolve(providerID)
	if err != nil {
		return "", err
	}

	baseURL, err := cfg.BaseURL(req.AccountID)
	if err != nil {
		return "", err
	}
	if override, ok := a.baseURLs[cfg.ID]; ok {
		baseURL = override
	}

	dispatched := *req
	dispatched.ModelID = modelID
	if dispatched.ModelID == "" {
		dispatched.ModelID = cfg.DefaultModelID
	}
	if dispatched.Temperature == 0 {
		dispatched.Temperature = cfg.DefaultTemperature
	}
	if dispatched.MaxTokens == 0 {
		dispatched.MaxTokens = cfg.DefaultMaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := codecs[cfg.Shape].buildRequest(ctx, baseURL, &dispatched)
	if err != nil {
		return "", err
	}
	injectCredential(httpReq, cfg.Auth, dispatched.Credential)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", domain.ErrUpstreamTimeout()
		}
		return "", domain.ErrUpstreamRejected(0, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", domain.ErrUpstreamTimeout()
		}
		return "", domain.ErrUpstreamRejected(resp.StatusCode, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", domain.ErrUpstreamRejected(resp.StatusCode, truncate(body))
	}

	text, ok := codecs[cfg.Shape].parseResponse(body)
	if !ok {
		return "", domain.ErrMalformedUpstreamResponse(cfg.ID)
	}
	return text, nil
}

// ValidateAPIKey performs one minimal live call with the given
// credential. Any failure surfaces as INVALID_CREDENTIAL so bad keys are
// never persisted.
func (a *Adapter) ValidateAPIKey(ctx context.Context, providerID, modelID, credential, accountID string) error {
	_, err := a.CompleteChat(ctx, &domain.ChatRequest{
		Provider:   providerID,
		ModelID:    modelID,
		User:       "Reply with exactly: OK",
		Credential: credential,
		AccountID:  accountID,
		MaxTokens:  10,
	})
	if err != nil {
		var ge *domain.Error
		if errors.As(err, &ge) && (ge.Code == domain.CodeUnknownProvider || ge.Code == domain.CodeMissingAccountID) {
			return err
		}
		return domain.ErrInvalidCredential(providerID)
	}
	return nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
