package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

// openaiCodec speaks the OpenAI-compatible chat completions API, used by
// OpenAI itself and the OpenAI-compatible hosts (Groq, Cloudflare).
type openaiCodec struct{}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (openaiCodec) buildRequest(ctx context.Context, baseURL string, req *domain.ChatRequest) (*http.Request, error) {
	messages := make([]openaiMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, turn := range req.History {
		messages = append(messages, openaiMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.User})

	return newJSONRequest(ctx, baseURL+"/chat/completions", openaiRequest{
		Model:       req.ModelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
}

func (openaiCodec) parseResponse(body []byte) (string, bool) {
	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return "", false
	}
	return *resp.Choices[0].Message.Content, true
}
