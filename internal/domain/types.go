package domain

// Tier classifies an identity for quota purposes.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPaid Tier = "PAID"
)

// Turn is one prior exchange in a conversation, in original role order.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is the logical chat-completion request the adapter dispatches.
// Credential is the already-resolved plaintext API key for the target
// provider; it never appears in logs or error messages.
type ChatRequest struct {
	Provider    string
	ModelID     string
	System      string
	User        string
	History     []Turn
	Credential  string
	AccountID   string
	Temperature float64
	MaxTokens   int
}

// Identity is the caller principal quotas are enforced against.
type Identity struct {
	ID                    string `json:"id"`
	Tier                  Tier   `json:"tier"`
	IsAnonymous           bool   `json:"isAnonymous"`
	AnonymousRequestCount int    `json:"anonymousRequestCount"`
	ThrottleUnlocked      bool   `json:"throttleUnlocked"`
	// LinkedTo is the forwarding pointer set when an anonymous identity
	// is linked to a persistent one. Empty until linked.
	LinkedTo string `json:"linkedTo,omitempty"`
}

// ModelSettings is an identity's saved LLM configuration. Exactly one of
// UseProjectKey or APIKeyEncrypted is meaningful: either the gateway pays
// with its own key for an allow-listed provider, or the user supplied a
// key which is stored encrypted.
type ModelSettings struct {
	Provider        string `json:"provider"`
	ModelID         string `json:"modelId"`
	UseProjectKey   bool   `json:"useProjectKey,omitempty"`
	APIKeyEncrypted string `json:"apiKeyEncrypted,omitempty"`
	AccountID       string `json:"accountId,omitempty"`
}
