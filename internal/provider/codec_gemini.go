package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

// geminiCodec speaks the Gemini generateContent API. Roles translate
// user->user and assistant->model; the system prompt becomes a dedicated
// systemInstruction field; the credential travels as a query parameter.
type geminiCodec struct{}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (geminiCodec) buildRequest(ctx context.Context, baseURL string, req *domain.ChatRequest) (*http.Request, error) {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := "model"
		if turn.Role == "user" {
			role = "user"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: turn.Content}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: req.User}},
	})

	payload := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	return newJSONRequest(ctx, baseURL+"/models/"+req.ModelID+":generateContent", payload)
}

func (geminiCodec) parseResponse(body []byte) (string, bool) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", false
	}
	text := resp.Candidates[0].Content.Parts[0].Text
	if text == nil {
		return "", false
	}
	return *text, true
}
