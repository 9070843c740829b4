package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-authguard/internal/server"
	"github.com/goliatone/go-authguard/metrics"
	"github.com/goliatone/go-authguard/provider/gotrue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "super-secret-jwt-token-with-at-least-32-characters"
	testKey    = "anon-key"
)

var accounts = map[string]struct {
	password string
	role     string
}{
	"jane@example.com":  {"secret123", "user"},
	"root@example.com":  {"secret123", "admin"},
	"under@example.com": {"secret123", "underwriter"},
}

type backend struct {
	t     *testing.T
	mu    sync.Mutex
	calls []string
}

func (b *backend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func signToken(t *testing.T, email, role string, expires time.Time) string {
	t.Helper()
	claims := gotrue.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "id-" + email,
			Audience:  jwt.ClaimStrings{gotrue.DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:        email,
		Role:         "authenticated",
		UserMetadata: map[string]any{"role": role},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.record(r.Method + " " + r.URL.Path)

	switch r.Method + " " + r.URL.Path {
	case "POST /auth/v1/token":
		email, _ := body["email"].(string)
		password, _ := body["password"].(string)
		account, ok := accounts[email]
		if !ok || account.password != password {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		expires := time.Now().Add(time.Hour)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": signToken(b.t, email, account.role, expires),
			"token_type":   "bearer",
			"expires_in":   3600,
			"expires_at":   expires.Unix(),
			"user": map[string]any{
				"id":            "id-" + email,
				"email":         email,
				"user_metadata": map[string]any{"role": account.role},
			},
		})
	case "POST /auth/v1/signup":
		writeJSON(w, http.StatusOK, map[string]any{
			"id":            "id-new",
			"email":         body["email"],
			"user_metadata": body["data"],
		})
	case "POST /auth/v1/recover":
		writeJSON(w, http.StatusOK, map[string]any{})
	case "PUT /auth/v1/user":
		writeJSON(w, http.StatusOK, map[string]any{"id": "id-jane@example.com", "email": "jane@example.com"})
	case "POST /auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"msg": "not found"})
	}
}

type fixture struct {
	app       *fiber.App
	backend   *backend
	collector *metrics.Collector
}

func newFixture(t *testing.T, mutate ...func(*server.Config)) *fixture {
	t.Helper()

	b := &backend{t: t}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	verifier, err := gotrue.NewTokenVerifier(gotrue.VerifierConfig{Secret: testSecret})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	collector := metrics.MustNewCollector(reg)

	cfg := server.Config{
		Routes:   authguard.DefaultRoutes(),
		Verifier: verifier,
		Provider: func() (server.Provider, error) {
			return gotrue.NewClient(gotrue.Config{URL: srv.URL, APIKey: testKey})
		},
		Observer:    collector,
		Activity:    collector,
		Gatherer:    reg,
		MetricsPath: "/metrics",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	app, err := server.New(cfg)
	require.NoError(t, err)

	return &fixture{app: app, backend: b, collector: collector}
}

func (f *fixture) do(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func get(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: server.AccessCookie, Value: token})
	}
	return req
}

func postForm(path string, form url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := server.New(server.Config{})
	assert.Error(t, err)
}

func TestAnonymousVisitorIsSentToLogin(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, get("/dashboard", ""))
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?returnUrl=%2Fdashboard", resp.Header.Get("Location"))

	resp, body := f.do(t, get("/login?returnUrl=%2Fdashboard", ""))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="password"`)
	assert.Contains(t, body, `action="/login?returnUrl=%2Fdashboard"`)

	resp, body = f.do(t, get("/", ""))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Sign in")
	assert.NotContains(t, body, `href="/dashboard"`, "protected links are hidden from visitors")
}

func TestLoginRedirectsToReturnLocation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, postForm("/login?returnUrl=%2Fadmin%2Fusers", url.Values{
		"email":    {"root@example.com"},
		"password": {"secret123"},
	}))
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/admin/users", resp.Header.Get("Location"))

	cookie := cookieNamed(resp, server.AccessCookie)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	resp, body := f.do(t, get("/admin/users", cookie.Value))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Administration")
	assert.Contains(t, body, "root@example.com (admin)")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.ActivityTotal.WithLabelValues(string(authguard.ActivityEventLoginSuccess))))
}

func TestLoginFailureRendersMessage(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, postForm("/login", url.Values{
		"email":    {"jane@example.com"},
		"password": {"wrong-password"},
	}))
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid login credentials")
	assert.Contains(t, body, `value="jane@example.com"`)
	assert.Nil(t, cookieNamed(resp, server.AccessCookie))

	calls := len(f.backend.Calls())
	resp, body = f.do(t, postForm("/login", url.Values{
		"email":    {"not-an-email"},
		"password": {"secret123"},
	}))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, `role="alert"`)
	assert.Len(t, f.backend.Calls(), calls, "invalid input never reaches the provider")
}

func TestRoleEnforcement(t *testing.T) {
	f := newFixture(t)
	user := signToken(t, "jane@example.com", "user", time.Now().Add(time.Hour))
	underwriter := signToken(t, "under@example.com", "underwriter", time.Now().Add(time.Hour))

	resp, _ := f.do(t, get("/admin", user))
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/unauthorized", resp.Header.Get("Location"))

	resp, _ = f.do(t, get("/underwriter", underwriter))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := f.do(t, get("/dashboard", underwriter))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="/underwriter"`)
	assert.NotContains(t, body, `href="/admin"`)

	resp, _ = f.do(t, get("/login", user))
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, _ = f.do(t, get("/unauthorized", user))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	expired := signToken(t, "jane@example.com", "user", time.Now().Add(-time.Minute))
	resp, _ = f.do(t, get("/dashboard", expired))
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/login"))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.RedirectsTotal.WithLabelValues("forbidden")))
}

func TestSignupRequiringConfirmation(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, postForm("/signup", url.Values{
		"full_name": {"New Person"},
		"email":     {"new@example.com"},
		"password":  {"secret123"},
	}))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Check your email")
	assert.Nil(t, cookieNamed(resp, server.AccessCookie))
	assert.Contains(t, f.backend.Calls(), "POST /auth/v1/signup")
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, postForm("/reset-password", url.Values{"email": {"jane@example.com"}}))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "reset link is on its way")
	assert.Contains(t, f.backend.Calls(), "POST /auth/v1/recover")
}

func TestPasswordChange(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, "jane@example.com", "user", time.Now().Add(time.Hour))

	resp, _ := f.do(t, postForm(server.PasswordPath, url.Values{"password": {"brand-new-secret"}}))
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode, "anonymous posts are redirected to login")

	resp, body := f.do(t, postForm(server.PasswordPath, url.Values{"password": {"brand-new-secret"}},
		&http.Cookie{Name: server.AccessCookie, Value: token}))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Password updated.")
	assert.Contains(t, f.backend.Calls(), "PUT /auth/v1/user")
}

func TestLogOut(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, "jane@example.com", "user", time.Now().Add(time.Hour))

	resp, _ := f.do(t, postForm(server.LogoutPath, url.Values{}, &http.Cookie{Name: server.AccessCookie, Value: token}))
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	cookie := cookieNamed(resp, server.AccessCookie)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Contains(t, f.backend.Calls(), "POST /auth/v1/logout")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, get("/dashboard", ""))

	resp, body := f.do(t, get("/metrics", ""))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "authguard_guard_decisions_total")
}

func TestCSRFProtectsForms(t *testing.T) {
	f := newFixture(t, func(c *server.Config) { c.CSRF = true })

	resp, _ := f.do(t, postForm("/login", url.Values{
		"email":    {"jane@example.com"},
		"password": {"secret123"},
	}))
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, body := f.do(t, get("/login", ""))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	match := regexp.MustCompile(`name="_token" value="([^"]+)"`).FindStringSubmatch(body)
	require.Len(t, match, 2, "login form carries the csrf field")
	csrfCookie := cookieNamed(resp, "authguard_csrf")
	require.NotNil(t, csrfCookie)

	resp, _ = f.do(t, postForm("/login", url.Values{
		"email":    {"jane@example.com"},
		"password": {"secret123"},
		"_token":   {match[1]},
	}, csrfCookie))
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}
