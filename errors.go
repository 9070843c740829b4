package authguard

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	TextCodeAccountExists      = "AUTH_ACCOUNT_EXISTS"
	TextCodeWeakPassword       = "AUTH_WEAK_PASSWORD"
	TextCodeInvalidInput       = "AUTH_INVALID_INPUT"
	TextCodeNotAuthenticated   = "AUTH_NOT_AUTHENTICATED"
	TextCodeRateLimited        = "AUTH_RATE_LIMITED"
	TextCodeTransient          = "AUTH_PROVIDER_UNAVAILABLE"
	TextCodeForbidden          = "AUTH_FORBIDDEN"
	TextCodeUnexpected         = "AUTH_UNEXPECTED"
)

// ErrInvalidCredentials is returned when the provider rejects email/password.
var ErrInvalidCredentials = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountExists is returned on sign up for an already registered email.
var ErrAccountExists = goerrors.New("user already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeAccountExists).
	WithCode(goerrors.CodeConflict)

// ErrWeakPassword is returned when the provider rejects a password as too weak.
var ErrWeakPassword = goerrors.New("password is too weak", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidInput is returned when credentials fail local validation.
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrNotAuthenticated is returned by operations that need a live session.
var ErrNotAuthenticated = goerrors.New("not authenticated", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrRateLimited is returned when the provider throttles requests.
var ErrRateLimited = goerrors.New("too many requests, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

// ErrTransient is returned when the provider cannot be reached.
var ErrTransient = goerrors.New("unable to reach the authentication service, please try again", goerrors.CategoryOperation).
	WithTextCode(TextCodeTransient).
	WithCode(http.StatusServiceUnavailable)

// ErrForbidden marks an authenticated user without the required role.
// It is only ever used as a redirect reason, never shown to users.
var ErrForbidden = goerrors.New("insufficient role", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrUnexpected wraps provider failures that fit no other category.
var ErrUnexpected = goerrors.New("an unexpected error occurred", goerrors.CategoryInternal).
	WithTextCode(TextCodeUnexpected).
	WithCode(goerrors.CodeInternal)

// NewAuthError clones base and replaces its message with the provider message.
func NewAuthError(base *goerrors.Error, message string, source error) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	if message != "" {
		clone.Message = message
	}
	clone.Source = source
	return clone
}

// IsAuthError reports errors whose message is safe to show verbatim.
func IsAuthError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch richErr.Category {
	case goerrors.CategoryAuth,
		goerrors.CategoryValidation,
		goerrors.CategoryBadInput,
		goerrors.CategoryConflict,
		goerrors.CategoryRateLimit:
		return true
	default:
		return false
	}
}

// IsTransientError reports provider connectivity failures.
func IsTransientError(err error) bool {
	return hasTextCode(err, TextCodeTransient)
}

// IsAuthorizationError reports insufficient role failures.
func IsAuthorizationError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuthz
}

// UserMessage returns the message to show next to the triggering action.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && (IsAuthError(err) || IsTransientError(err)) {
		return richErr.Message
	}

	return ErrUnexpected.Message
}

// TextCode returns the text code of a taxonomy error, or "" for other errors.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return ""
	}
	return richErr.TextCode
}

func hasTextCode(err error, code string) bool {
	return err != nil && TextCode(err) == code
}

// normalizeError maps anything the provider returns onto the error taxonomy.
func normalizeError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}

	meta := map[string]any{"operation": operation}

	if isTransport(err) {
		return NewAuthError(ErrTransient, "", err).WithMetadata(meta)
	}

	meta["cause"] = err.Error()
	return NewAuthError(ErrUnexpected, "", err).WithMetadata(meta)
}

func isTransport(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

// StatusCode returns the HTTP status carried by a taxonomy error, 500 otherwise.
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Code == 0 {
		return http.StatusInternalServerError
	}
	return richErr.Code
}
