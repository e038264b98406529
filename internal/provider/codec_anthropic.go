package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

const anthropicVersion = "2023-06-01"

// anthropicCodec speaks the Anthropic Messages API. The system prompt is
// a dedicated top-level field, never a message.
type anthropicCodec struct{}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text *string `json:"text"`
	} `json:"content"`
}

func (anthropicCodec) buildRequest(ctx context.Context, baseURL string, req *domain.ChatRequest) (*http.Request, error) {
	messages := make([]anthropicMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, anthropicMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, anthropicMessage{Role: "user", Content: req.User})

	httpReq, err := newJSONRequest(ctx, baseURL+"/messages", anthropicRequest{
		Model:       req.ModelID,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    messages,
	})
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}

func (anthropicCodec) parseResponse(body []byte) (string, bool) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return "", false
	}
	return *resp.Content[0].Text, true
}
