package gotrue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-authguard"
	goerrors "github.com/goliatone/go-errors"
)

// errorResponse covers both error shapes GoTrue returns:
// {"error","error_description"} for the token endpoint and
// {"code","error_code","msg"} everywhere else.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) message(status int) string {
	for _, candidate := range []string{e.Msg, e.ErrorDescription, e.Message, e.Error} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return http.StatusText(status)
}

func (e errorResponse) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return e.Error
}

// mapError turns an error response into the authguard error taxonomy.
func mapError(status int, body []byte) *goerrors.Error {
	var payload errorResponse
	_ = json.Unmarshal(body, &payload)

	msg := payload.message(status)
	code := payload.code()

	base := classify(status, code, msg)

	err := authguard.NewAuthError(base, msg, fmt.Errorf("gotrue: status %d: %s", status, code))
	if base == authguard.ErrTransient || base == authguard.ErrUnexpected {
		// provider text for these is not meant for end users
		err.Message = base.Message
	}

	return err.WithMetadata(map[string]any{
		"status":     status,
		"error_code": code,
		"provider":   msg,
	})
}

func classify(status int, code, msg string) *goerrors.Error {
	switch {
	case status == http.StatusTooManyRequests,
		strings.HasPrefix(code, "over_") && strings.HasSuffix(code, "_rate_limit"):
		return authguard.ErrRateLimited
	case status >= http.StatusInternalServerError:
		return authguard.ErrTransient
	}

	switch code {
	case "invalid_grant", "invalid_credentials":
		return authguard.ErrInvalidCredentials
	case "user_already_exists", "email_exists":
		return authguard.ErrAccountExists
	case "weak_password":
		return authguard.ErrWeakPassword
	case "bad_jwt", "session_not_found", "session_expired", "refresh_token_not_found", "refresh_token_already_used":
		return authguard.ErrNotAuthenticated
	}

	switch status {
	case http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(msg), "already registered") {
			return authguard.ErrAccountExists
		}
		return authguard.ErrInvalidInput
	case http.StatusBadRequest:
		return authguard.ErrInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return authguard.ErrNotAuthenticated
	}

	return authguard.ErrUnexpected
}

// transportError wraps failures that never produced a response.
func transportError(operation string, err error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	return authguard.NewAuthError(authguard.ErrTransient, "", err).
		WithMetadata(map[string]any{"operation": operation})
}
