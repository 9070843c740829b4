package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAccount struct {
	password string
	role     string
	fullName string
}

// fakeGoTrue is a minimal GoTrue API with a fixed set of accounts.
type fakeGoTrue struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]fakeAccount
	calls    []string
}

func newFakeGoTrue(t *testing.T) *fakeGoTrue {
	t.Helper()

	f := &fakeGoTrue{
		accounts: map[string]fakeAccount{
			"jane@example.com": {password: "secret123", role: "user", fullName: "Jane Doe"},
			"root@example.com": {password: "secret123", role: "admin"},
		},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGoTrue) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGoTrue) reply(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (f *fakeGoTrue) serve(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	email, _ := body["email"].(string)
	password, _ := body["password"].(string)

	switch r.Method + " " + r.URL.Path {
	case "POST /auth/v1/token":
		account, ok := f.accounts[email]
		if !ok || account.password != password {
			f.reply(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		f.reply(w, http.StatusOK, map[string]any{
			"access_token":  fmt.Sprintf("token-%s", email),
			"refresh_token": "refresh-" + email,
			"token_type":    "bearer",
			"expires_at":    time.Now().Add(time.Hour).Unix(),
			"user": map[string]any{
				"id":    "id-" + email,
				"email": email,
				"user_metadata": map[string]any{
					"role":      account.role,
					"full_name": account.fullName,
				},
			},
		})
	case "POST /auth/v1/signup":
		f.reply(w, http.StatusOK, map[string]any{
			"id":            "id-" + email,
			"email":         email,
			"user_metadata": body["data"],
		})
	case "POST /auth/v1/recover":
		f.reply(w, http.StatusOK, map[string]any{})
	case "PUT /auth/v1/user":
		f.reply(w, http.StatusOK, map[string]any{"id": "id-jane@example.com", "email": "jane@example.com"})
	case "POST /auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)
	default:
		f.reply(w, http.StatusNotFound, map[string]any{"msg": "not found"})
	}
}

// writeConfig writes a config file using file storage under dir.
func writeConfig(t *testing.T, dir, gotrueURL string, extra string) string {
	t.Helper()

	content := fmt.Sprintf(`gotrue:
  url: %s
  api_key: anon-key
  jwt_secret: super-secret-jwt-token-with-at-least-32-characters
  auto_refresh: false
storage:
  backend: file
  path: %s
logging:
  level: disabled
%s`, gotrueURL, filepath.Join(dir, "session.json"), extra)

	path := filepath.Join(dir, "authguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
