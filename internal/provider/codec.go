package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

// codec is one request-builder/response-parser pair. Exactly one concrete
// codec exists per APIShape value.
type codec interface {
	// buildRequest constructs the outbound HTTP request, excluding the
	// credential, which injectCredential applies afterwards.
	buildRequest(ctx context.Context, baseURL string, req *domain.ChatRequest) (*http.Request, error)

	// parseResponse extracts the single assistant text field from a
	// success-status body. ok is false when the field is null or absent.
	parseResponse(body []byte) (text string, ok bool)
}

// codecs maps each wire shape to its codec.
var codecs = map[APIShape]codec{
	ShapeOpenAIChat:            openaiCodec{},
	ShapeAnthropicMessages:     anthropicCodec{},
	ShapeGeminiGenerateContent: geminiCodec{},
}

// injectCredential applies the single credential-injection strategy for
// the given auth type.
func injectCredential(httpReq *http.Request, auth AuthType, credential string) {
	switch auth {
	case AuthBearerHeader:
		httpReq.Header.Set("Authorization", "Bearer "+credential)
	case AuthCustomHeader:
		httpReq.Header.Set("x-api-key", credential)
	case AuthQueryParam:
		q := httpReq.URL.Query()
		q.Set("key", credential)
		httpReq.URL.RawQuery = q.Encode()
	}
}

func newJSONRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}
