package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies gateway errors. Each kind maps to one HTTP status on the
// client-facing side; the upstream kind may carry the upstream's own status.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindPermission     Kind = "permission"
	KindValidation     Kind = "validation"
	KindRateLimit      Kind = "rate_limit"
	KindTimeout        Kind = "timeout"
	KindUpstream       Kind = "upstream"
	KindTokenRefresh   Kind = "token_refresh"
	KindInternal       Kind = "internal"
)

// ErrFirstTokenTimeout signals that the upstream produced no byte within the
// first-token window. The translation pipeline retries the whole HTTP attempt
// on this sentinel.
var ErrFirstTokenTimeout = errors.New("first token timeout")

// AppError is the gateway's tagged error value.
type AppError struct {
	Kind    Kind
	Message string
	Status  int // explicit upstream status; 0 = derive from Kind
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status the client should see for this error.
func (e *AppError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindAuthentication, KindTokenRefresh:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAuthenticationError reports an unrecognized or missing client credential.
func NewAuthenticationError(message string) *AppError {
	return &AppError{Kind: KindAuthentication, Message: message}
}

// NewValidationError reports a malformed client request.
func NewValidationError(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

// NewRateLimitError reports upstream throttling after retries were exhausted.
func NewRateLimitError(message string) *AppError {
	return &AppError{Kind: KindRateLimit, Message: message}
}

// NewTimeoutError reports an exhausted timeout budget.
func NewTimeoutError(message string) *AppError {
	return &AppError{Kind: KindTimeout, Message: message}
}

// NewTokenRefreshError reports a failed credential refresh.
func NewTokenRefreshError(message string, cause error) *AppError {
	return &AppError{Kind: KindTokenRefresh, Message: message, Err: cause}
}

// NewUpstreamError reports a non-retriable upstream response. The upstream
// status is preserved so the client sees it verbatim.
func NewUpstreamError(status int, message string) *AppError {
	return &AppError{Kind: KindUpstream, Message: message, Status: status}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Err: cause}
}

// KindOf extracts the Kind from any error, defaulting to internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsRetriable reports whether the condition is worth another upstream attempt.
func IsRetriable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case KindRateLimit, KindTimeout:
			return true
		case KindUpstream:
			return appErr.Status >= 500
		}
	}
	return false
}

// IsClientError reports whether the client caused the failure.
func IsClientError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case KindAuthentication, KindValidation:
			return true
		}
	}
	return false
}
