// Package domain provides the gateway's core types and its canonical
// error surface. Every failure crosses package boundaries as an *Error
// with a stable string code so callers can branch without parsing prose.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of a gateway error.
type ErrorType string

const (
	// ErrorTypeAuth covers authentication failures: no identity, expired
	// anonymous trial. Terminal, never retried by the gateway.
	ErrorTypeAuth ErrorType = "auth"

	// ErrorTypeValidation covers caller mistakes: unknown provider,
	// missing account id, bad credential. Surfaced verbatim.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeThrottle covers rate and quota rejections. Terminal for
	// this request but carries retry/upgrade data for the caller.
	ErrorTypeThrottle ErrorType = "throttle"

	// ErrorTypeUpstream covers provider-side failures: non-2xx, timeout,
	// malformed payload. The gateway performs zero internal retries.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeCrypto covers vault failures. Always fatal to the
	// operation, never logged with plaintext or key material.
	ErrorTypeCrypto ErrorType = "crypto"

	// ErrorTypeServer covers internal faults.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode identifies the specific failure.
type ErrorCode string

const (
	CodeAuthenticationRequired    ErrorCode = "AUTHENTICATION_REQUIRED"
	CodeAnonymousTrialExpired     ErrorCode = "ANONYMOUS_TRIAL_EXPIRED"
	CodeUnknownProvider           ErrorCode = "UNKNOWN_PROVIDER"
	CodeMissingAccountID          ErrorCode = "MISSING_ACCOUNT_ID"
	CodeInvalidCredential         ErrorCode = "INVALID_CREDENTIAL"
	CodeProjectKeyNotSupported    ErrorCode = "PROJECT_KEY_NOT_SUPPORTED"
	CodeUpstreamRejected          ErrorCode = "UPSTREAM_REJECTED"
	CodeUpstreamTimeout           ErrorCode = "UPSTREAM_TIMEOUT"
	CodeMalformedUpstreamResponse ErrorCode = "MALFORMED_UPSTREAM_RESPONSE"
	CodeRateLimitMinuteExceeded   ErrorCode = "RATE_LIMIT_MINUTE_EXCEEDED"
	CodeRateLimitConversation     ErrorCode = "RATE_LIMIT_CONVERSATION_EXCEEDED"
	CodeAnalysisLimitReached      ErrorCode = "ANALYSIS_LIMIT_REACHED"
	CodeChatLimitReached          ErrorCode = "CHAT_LIMIT_REACHED"
	CodeInvalidKeyFormat          ErrorCode = "INVALID_KEY_FORMAT"
	CodeAuthenticationFailed      ErrorCode = "AUTHENTICATION_FAILED"
	CodeInvalidPayload            ErrorCode = "INVALID_PAYLOAD"
	CodeInvalidRequest            ErrorCode = "INVALID_REQUEST"
	CodeInvalidUnlockPassword     ErrorCode = "INVALID_UNLOCK_PASSWORD"
	CodeInternal                  ErrorCode = "INTERNAL"
)

// Error is the canonical gateway error. Throttle errors carry enough
// data for the client to render a specific upgrade or backoff prompt
// without additional round-trips.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	CurrentUsage      int  `json:"currentUsage,omitempty"`
	Limit             int  `json:"limit,omitempty"`
	UpgradeRequired   bool `json:"upgradeRequired,omitempty"`
	Tier              Tier `json:"tier,omitempty"`
	RetryAfterSeconds int  `json:"retryAfterSeconds,omitempty"`

	// UpstreamStatus and UpstreamBody are populated for UPSTREAM_REJECTED.
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
	UpstreamBody   string `json:"upstreamBody,omitempty"`

	// StatusCode is the suggested HTTP status; zero means derive from Type.
	StatusCode int `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
}

// HTTPStatusCode returns the HTTP status to surface for this error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeThrottle:
		return http.StatusTooManyRequests
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeCrypto:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a gateway error.
func NewError(errType ErrorType, code ErrorCode, message string) *Error {
	return &Error{Type: errType, Code: code, Message: message}
}

// WithUsage attaches the current counter value and its limit.
func (e *Error) WithUsage(current, limit int) *Error {
	e.CurrentUsage = current
	e.Limit = limit
	return e
}

// WithTier records the tier the decision was made for.
func (e *Error) WithTier(tier Tier) *Error {
	e.Tier = tier
	return e
}

// WithUpgradeRequired marks the failure as resolvable by upgrading.
func (e *Error) WithUpgradeRequired() *Error {
	e.UpgradeRequired = true
	return e
}

// WithRetryAfter records seconds until the caller may retry.
func (e *Error) WithRetryAfter(seconds int) *Error {
	if seconds < 0 {
		seconds = 0
	}
	e.RetryAfterSeconds = seconds
	return e
}

// WithStatusCode overrides the suggested HTTP status.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// AsError extracts a *Error from err, wrapping unknown errors as internal.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return NewError(ErrorTypeServer, CodeInternal, err.Error())
}

// Convenience constructors for the errors named throughout the gateway.

func ErrAuthenticationRequired() *Error {
	return NewError(ErrorTypeAuth, CodeAuthenticationRequired,
		"Authentication required. Please sign in to continue.")
}

func ErrAnonymousTrialExpired(current, limit int) *Error {
	return NewError(ErrorTypeAuth, CodeAnonymousTrialExpired,
		fmt.Sprintf("Anonymous trial of %d requests is used up. Sign in to continue.", limit)).
		WithUsage(current, limit).WithTier(TierFree)
}

func ErrUnknownProvider(name string) *Error {
	return NewError(ErrorTypeValidation, CodeUnknownProvider,
		fmt.Sprintf("Unknown provider %q", name))
}

func ErrMissingAccountID(provider string) *Error {
	return NewError(ErrorTypeValidation, CodeMissingAccountID,
		fmt.Sprintf("Provider %q requires an account id", provider))
}

func ErrInvalidCredential(provider string) *Error {
	return NewError(ErrorTypeValidation, CodeInvalidCredential,
		fmt.Sprintf("API key validation against %q failed", provider))
}

func ErrUpstreamRejected(status int, body string) *Error {
	e := NewError(ErrorTypeUpstream, CodeUpstreamRejected,
		fmt.Sprintf("Upstream provider rejected the request with status %d", status))
	e.UpstreamStatus = status
	e.UpstreamBody = body
	return e
}

func ErrUpstreamTimeout() *Error {
	return NewError(ErrorTypeUpstream, CodeUpstreamTimeout,
		"Upstream provider did not respond in time").
		WithStatusCode(http.StatusGatewayTimeout)
}

func ErrMalformedUpstreamResponse(provider string) *Error {
	return NewError(ErrorTypeUpstream, CodeMalformedUpstreamResponse,
		fmt.Sprintf("Provider %q returned a success status with no usable content", provider))
}

func ErrInvalidKeyFormat() *Error {
	return NewError(ErrorTypeCrypto, CodeInvalidKeyFormat,
		"Encryption key must be a 64-character hex string (32 bytes)")
}

func ErrAuthenticationFailed() *Error {
	return NewError(ErrorTypeCrypto, CodeAuthenticationFailed,
		"Ciphertext failed authentication")
}

func ErrInvalidPayload() *Error {
	return NewError(ErrorTypeCrypto, CodeInvalidPayload,
		"Invalid encrypted payload")
}

func ErrInvalidRequest(message string) *Error {
	return NewError(ErrorTypeValidation, CodeInvalidRequest, message)
}

func ErrInvalidUnlockPassword() *Error {
	return NewError(ErrorTypeValidation, CodeInvalidUnlockPassword,
		"Unlock password does not match").
		WithStatusCode(http.StatusForbidden)
}

func ErrProjectKeyNotSupported(provider string) *Error {
	return NewError(ErrorTypeValidation, CodeProjectKeyNotSupported,
		fmt.Sprintf("Provider %q is not available on the project key", provider))
}
