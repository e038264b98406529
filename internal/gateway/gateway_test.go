package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orbitalai/lumara-gateway/internal/domain"
	"github.com/orbitalai/lumara-gateway/internal/identity"
	"github.com/orbitalai/lumara-gateway/internal/quota"
	"github.com/orbitalai/lumara-gateway/internal/ratelimit"
	"github.com/orbitalai/lumara-gateway/internal/settings"
	"github.com/orbitalai/lumara-gateway/internal/storage"
	"github.com/orbitalai/lumara-gateway/internal/storage/memory"
)

const (
	testSecret   = "handler-test-secret"
	testVaultKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

// fakeAdapter stands in for the provider adapter in both roles: chat
// dispatch and key validation.
type fakeAdapter struct {
	text        string
	chatErr     error
	validateErr error
	lastChat    *domain.ChatRequest
}

func (f *fakeAdapter) CompleteChat(ctx context.Context, req *domain.ChatRequest) (string, error) {
	cp := *req
	f.lastChat = &cp
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.text, nil
}

func (f *fakeAdapter) ValidateAPIKey(ctx context.Context, providerName, modelID, credential, accountID string) error {
	return f.validateErr
}

type failingAudit struct{}

func (failingAudit) RecordDispatch(ctx context.Context, rec *storage.DispatchRecord) error {
	return errors.New("audit store down")
}
func (failingAudit) Close() error { return nil }

type testEnv struct {
	router  *chi.Mux
	store   *memory.Store
	adapter *fakeAdapter
}

func newTestEnv(t *testing.T, audit storage.AuditStore) *testEnv {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := &fakeAdapter{text: "assistant says hi"}

	guard := identity.NewGuard(store, identity.NewVerifier(testSecret), logger)
	projectKeys := map[string]string{"groq": "gsk-project"}
	svc := settings.New(store.Settings(), adapter, testVaultKey, projectKeys, logger)

	g := New(Config{
		Guard:          guard,
		Limiter:        ratelimit.New(store, logger),
		Quotas:         quota.New(store, logger),
		Settings:       svc,
		Adapter:        adapter,
		Audit:          audit,
		Logger:         logger,
		UnlockPassword: "opensesame",
	})

	router := chi.NewRouter()
	g.Mount(router)
	return &testEnv{router: router, store: store, adapter: adapter}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func mintToken(t *testing.T, subject string, anonymous bool) string {
	t.Helper()
	token, err := identity.Mint(testSecret, subject, anonymous, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *domain.Error {
	t.Helper()
	var body struct {
		Error *domain.Error `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	if body.Error == nil {
		t.Fatalf("no error field in %q", rec.Body.String())
	}
	return body.Error
}

func saveGroqSettings(t *testing.T, e *testEnv, token string) {
	t.Helper()
	rec := e.do(t, http.MethodPut, "/v1/settings/llm", token, map[string]any{
		"provider": "groq", "apiKey": "gsk-user-key",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("saving settings: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestChatRequiresAuth(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/v1/chat", "", map[string]any{"message": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ge := decodeError(t, rec); ge.Code != domain.CodeAuthenticationRequired {
		t.Errorf("code = %s", ge.Code)
	}
}

func TestChatDispatchesWithDecryptedCredential(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "user-1", false)
	saveGroqSettings(t, e, token)

	rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{
		"message":        "hello there",
		"conversationId": "conv-1",
		"system":         "be brief",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Text != "assistant says hi" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.TrialRemaining != nil {
		t.Errorf("trialRemaining = %v for signed-in identity, want omitted", *resp.TrialRemaining)
	}

	// The adapter received the plaintext key, not the stored ciphertext.
	if e.adapter.lastChat.Credential != "gsk-user-key" {
		t.Errorf("credential = %q", e.adapter.lastChat.Credential)
	}
	if e.adapter.lastChat.Provider != "groq" || e.adapter.lastChat.System != "be brief" {
		t.Errorf("dispatched request = %+v", e.adapter.lastChat)
	}
}

func TestChatReportsTrialRemaining(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "anon-1", true)
	saveGroqSettings(t, e, token)

	// Settings save consumed one trial request, so the first chat is #2.
	rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TrialRemaining == nil || *resp.TrialRemaining != identity.TrialLimit-2 {
		t.Errorf("trialRemaining = %v, want %d", resp.TrialRemaining, identity.TrialLimit-2)
	}
}

func TestChatMinuteCapReturns429(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "user-2", false)
	saveGroqSettings(t, e, token)

	// The global window (3/min) binds before the conversation cap (4).
	for i := 0; i < 3; i++ {
		rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{
			"message": "hi", "conversationId": "conv-a",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}

	rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{
		"message": "hi", "conversationId": "conv-a",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("no Retry-After header on throttle response")
	}
	ge := decodeError(t, rec)
	if ge.Code != domain.CodeRateLimitMinuteExceeded {
		t.Errorf("code = %s", ge.Code)
	}
}

func TestChatQuotaGuardOnFeatureResources(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "user-3", false)
	saveGroqSettings(t, e, token)

	// Analysis quota is 4 per entry; each request uses a fresh
	// conversation so only the quota binds. The minute window would bind
	// first, so lift it by unlocking the throttle.
	unlock := e.do(t, http.MethodPost, "/v1/throttle/unlock", token, map[string]any{"password": "opensesame"})
	if unlock.Code != http.StatusOK {
		t.Fatalf("unlock failed: %d", unlock.Code)
	}

	for i := 0; i < 4; i++ {
		rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{
			"message": "analyze", "entryId": "entry-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("analysis %d: status %d body %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{
		"message": "analyze", "entryId": "entry-1",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if ge := decodeError(t, rec); ge.Code != domain.CodeAnalysisLimitReached || !ge.UpgradeRequired {
		t.Errorf("error = %+v", ge)
	}
}

func TestChatPaidTierBypassesLimits(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "payer-1", false)
	saveGroqSettings(t, e, token)

	// Tier changes land through the store, as the billing integration
	// applies them; the next admission reads the stored tier.
	if err := e.store.SetTier(context.Background(), "payer-1", domain.TierPaid); err != nil {
		t.Fatal(err)
	}

	// Well past the minute window (3), conversation cap (4), and the
	// analysis quota (4): paid identities are never throttled.
	for i := 0; i < 6; i++ {
		rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{
			"message": "hi", "conversationId": "conv-a", "entryId": "entry-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d body %s", i+1, rec.Code, rec.Body.String())
		}
	}
}

func TestChatUpstreamErrorPassthrough(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "user-4", false)
	saveGroqSettings(t, e, token)

	e.adapter.chatErr = domain.ErrUpstreamRejected(http.StatusServiceUnavailable, "overloaded")
	rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "hi"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	ge := decodeError(t, rec)
	if ge.UpstreamStatus != http.StatusServiceUnavailable {
		t.Errorf("upstreamStatus = %d", ge.UpstreamStatus)
	}
}

func TestChatAuditFailureDoesNotFailRequest(t *testing.T) {
	e := newTestEnv(t, failingAudit{})
	token := mintToken(t, "user-5", false)
	saveGroqSettings(t, e, token)

	rec := e.do(t, http.MethodPost, "/v1/chat", token, map[string]any{"message": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite audit failure", rec.Code)
	}
}

func TestSaveSettingsNeverEchoesKeyMaterial(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "user-6", false)

	rec := e.do(t, http.MethodPut, "/v1/settings/llm", token, map[string]any{
		"provider": "groq", "apiKey": "gsk-secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("gsk-secret")) {
		t.Error("response echoed the plaintext key")
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("apiKeyEncrypted")) {
		t.Error("response included the encrypted key")
	}
}

func TestSaveSettingsProjectKeyRejectedOffAllowList(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "user-7", false)

	rec := e.do(t, http.MethodPut, "/v1/settings/llm", token, map[string]any{
		"provider": "openai", "useProjectKey": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ge := decodeError(t, rec); ge.Code != domain.CodeProjectKeyNotSupported {
		t.Errorf("code = %s", ge.Code)
	}
}

func TestLinkEndpointIsIdempotent(t *testing.T) {
	e := newTestEnv(t, nil)
	anonToken := mintToken(t, "anon-8", true)
	userToken := mintToken(t, "user-8", false)

	// Materialize the anonymous identity.
	if rec := e.do(t, http.MethodPost, "/v1/chat", anonToken, map[string]any{"message": "hi"}); rec.Code == http.StatusUnauthorized {
		t.Fatalf("anonymous chat rejected: %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/v1/identity/link", userToken, map[string]any{
			"oldAnonymousId": "anon-8",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("link attempt %d: status %d body %s", i+1, rec.Code, rec.Body.String())
		}
	}

	old, err := e.store.Get(context.Background(), "anon-8")
	if err != nil {
		t.Fatal(err)
	}
	if old.LinkedTo != "user-8" {
		t.Errorf("forwarding pointer = %q", old.LinkedTo)
	}
}

func TestUnlockWrongPassword(t *testing.T) {
	e := newTestEnv(t, nil)
	token := mintToken(t, "user-9", false)

	rec := e.do(t, http.MethodPost, "/v1/throttle/unlock", token, map[string]any{"password": "guess"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	stored, err := e.store.Get(context.Background(), "user-9")
	if err != nil {
		t.Fatal(err)
	}
	if stored.ThrottleUnlocked {
		t.Error("wrong password mutated the identity")
	}
}
