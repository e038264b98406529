// Package provider translates logical chat-completion requests into
// provider-specific wire formats and parses the heterogeneous responses.
//
// The registry is a compiled-in data table: adding a provider with an
// existing API shape is a table edit, not a new code path. Only a
// genuinely new wire shape requires a new codec.
package provider

import (
	"strings"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

// APIShape selects the request-builder/response-parser pair.
type APIShape string

const (
	ShapeOpenAIChat            APIShape = "openai-chat"
	ShapeAnthropicMessages     APIShape = "anthropic-messages"
	ShapeGeminiGenerateContent APIShape = "gemini-generateContent"
)

// AuthType selects the credential-injection strategy.
type AuthType string

const (
	AuthBearerHeader AuthType = "bearer-header"
	AuthCustomHeader AuthType = "custom-header"
	AuthQueryParam   AuthType = "query-param"
)

// Config describes one provider. Immutable after build time.
type Config struct {
	ID                 string
	DisplayName        string
	BaseURLTemplate    string // may contain {accountId}
	Shape              APIShape
	Auth               AuthType
	DefaultModelID     string
	RequiresAccountID  bool
	DefaultTemperature float64
	DefaultMaxTokens   int
}

// registry holds every supported provider. Model IDs stay user-supplied:
// when a provider ships a new model, users just enter the new id.
var registry = map[string]Config{
	"groq": {
		ID:                 "groq",
		DisplayName:        "Groq",
		BaseURLTemplate:    "https://api.groq.com/openai/v1",
		Shape:              ShapeOpenAIChat,
		Auth:               AuthBearerHeader,
		DefaultModelID:     "openai/gpt-oss-120b",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
	},
	"openai": {
		ID:                 "openai",
		DisplayName:        "OpenAI",
		BaseURLTemplate:    "https://api.openai.com/v1",
		Shape:              ShapeOpenAIChat,
		Auth:               AuthBearerHeader,
		DefaultModelID:     "gpt-4o",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
	},
	"anthropic": {
		ID:                 "anthropic",
		DisplayName:        "Anthropic (Claude)",
		BaseURLTemplate:    "https://api.anthropic.com/v1",
		Shape:              ShapeAnthropicMessages,
		Auth:               AuthCustomHeader,
		DefaultModelID:     "claude-3-5-sonnet-20241022",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
	},
	"gemini": {
		ID:                 "gemini",
		DisplayName:        "Google (Gemini)",
		BaseURLTemplate:    "https://generativelanguage.googleapis.com/v1beta",
		Shape:              ShapeGeminiGenerateContent,
		Auth:               AuthQueryParam,
		DefaultModelID:     "gemini-3-flash-preview",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
	},
	"cloudflare": {
		ID:                 "cloudflare",
		DisplayName:        "Cloudflare Workers AI",
		BaseURLTemplate:    "https://api.cloudflare.com/client/v4/accounts/{accountId}/ai/v1",
		Shape:              ShapeOpenAIChat,
		Auth:               AuthBearerHeader,
		DefaultModelID:     "@cf/meta/llama-3.1-8b-instruct",
		RequiresAccountID:  true,
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
	},
	"swarmspace": {
		ID:                 "swarmspace",
		DisplayName:        "SwarmSpace (LLM plugins)",
		BaseURLTemplate:    "https://generativelanguage.googleapis.com/v1beta",
		Shape:              ShapeGeminiGenerateContent,
		Auth:               AuthQueryParam,
		DefaultModelID:     "gemini-flash",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
	},
}

// aliases maps names users commonly type to registry ids.
var aliases = map[string]string{
	"claude":  "anthropic",
	"gpt":     "openai",
	"chatgpt": "openai",
	"google":  "gemini",
	"cf":      "cloudflare",
	"workers": "cloudflare",
	"swarm":   "swarmspace",
}

// projectKeyProviders are the providers the gateway is willing to pay
// for directly; only these may be saved with useProjectKey.
var projectKeyProviders = map[string]bool{
	"groq":   true,
	"gemini": true,
}

// Resolve looks up a provider id or alias, case-insensitively. Unknown
// identifiers fail closed rather than silently defaulting.
func Resolve(name string) (Config, error) {
	id := strings.ToLower(strings.TrimSpace(name))
	if target, ok := aliases[id]; ok {
		id = target
	}
	cfg, ok := registry[id]
	if !ok {
		return Config{}, domain.ErrUnknownProvider(name)
	}
	return cfg, nil
}

// Route applies provider redirection before registry lookup, so registry
// invariants hold for the provider that is actually dispatched. The
// swarmspace plugin entry is backed by Gemini.
func Route(providerName, modelID string) (string, string) {
	id := strings.ToLower(strings.TrimSpace(providerName))
	if target, ok := aliases[id]; ok {
		id = target
	}
	if id == "swarmspace" {
		if modelID == "" || modelID == "gemini-flash" {
			modelID = "gemini-3-flash-preview"
		}
		return "gemini", modelID
	}
	return id, modelID
}

// BaseURL renders the provider's base URL, substituting {accountId}
// where the template requires one.
func (c Config) BaseURL(accountID string) (string, error) {
	if c.RequiresAccountID {
		if accountID == "" {
			return "", domain.ErrMissingAccountID(c.ID)
		}
		return strings.Replace(c.BaseURLTemplate, "{accountId}", accountID, 1), nil
	}
	return c.BaseURLTemplate, nil
}

// ProjectKeyAllowed reports whether the provider may be used with the
// gateway's own API key instead of a user-supplied one.
func ProjectKeyAllowed(providerID string) bool {
	return projectKeyProviders[strings.ToLower(providerID)]
}
