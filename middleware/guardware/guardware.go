// Package guardware runs the authguard decision table as fiber middleware.
// Server rendered routes get the same redirects a client side RouteGuard
// would issue.
package guardware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authguard"
)

var (
	defaultTokenLookup         = "header:" + fiber.HeaderAuthorization + ",cookie:sb-access-token"
	ErrTokenMissingOrMalformed = errors.New("missing or malformed access token")
)

// TokenVerifier validates an access token and returns the session it
// represents. gotrue.TokenVerifier satisfies it.
type TokenVerifier interface {
	Verify(token string) (*authguard.Session, error)
}

type Config struct {
	Filter func(*fiber.Ctx) bool
	// Verifier is required.
	Verifier TokenVerifier
	// TokenLookup is a comma separated list of "<source>:<name>" pairs,
	// source being header, cookie or query.
	TokenLookup string
	AuthScheme  string
	// RequiredRole defaults to authguard.RoleUser.
	RequiredRole authguard.Role
	Routes       authguard.Routes
	// ContextKey is the Locals key the AuthState is stored under.
	ContextKey string
	Observer   authguard.DecisionObserver
	Logger     authguard.Logger
	// RedirectHandler overrides how redirect decisions are sent.
	RedirectHandler func(c *fiber.Ctx, decision authguard.GuardDecision) error
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Verifier == nil {
		panic("AUTHGUARD: guard middleware configuration: Verifier is required.")
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.RequiredRole == "" {
		cfg.RequiredRole = authguard.RoleUser
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "auth_state"
	}

	if cfg.Logger == nil {
		cfg.Logger = authguard.NopLogger{}
	}

	if cfg.RedirectHandler == nil {
		cfg.RedirectHandler = defaultRedirect
	}

	return cfg
}

// New returns the guard middleware.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		state := resolveState(c, cfg, extractors)
		location := c.OriginalURL()

		decision := authguard.Decide(state, location, cfg.RequiredRole, cfg.Routes)
		redirect := decision.Kind == authguard.DecisionRedirect && decision.Target != location

		if cfg.Observer != nil {
			cfg.Observer.ObserveDecision(cfg.RequiredRole, decision, redirect)
		}

		if redirect {
			cfg.Logger.Debug("guardware: %s %s -> %s (%s)", c.Method(), location, decision.Target, decision.Reason)
			return cfg.RedirectHandler(c, decision)
		}

		if decision.Kind == authguard.DecisionRedirect {
			// the target is this very location, nothing sensible to render
			return c.SendStatus(fiber.StatusForbidden)
		}

		c.Locals(cfg.ContextKey, state)
		c.SetUserContext(authguard.WithAuthState(c.UserContext(), state))

		return c.Next()
	}
}

// StateFromLocals returns the AuthState stored by the middleware.
func StateFromLocals(c *fiber.Ctx, key string) (authguard.AuthState, bool) {
	if key == "" {
		key = "auth_state"
	}
	state, ok := c.Locals(key).(authguard.AuthState)
	return state, ok
}

func resolveState(c *fiber.Ctx, cfg Config, extractors []TokenExtractor) authguard.AuthState {
	raw, err := ExtractRawToken(c, extractors)
	if err != nil {
		return authguard.AuthState{}
	}

	session, err := cfg.Verifier.Verify(raw)
	if err != nil {
		cfg.Logger.Debug("guardware: rejected token: %v", err)
		return authguard.AuthState{}
	}

	return authguard.StateFromSession(session)
}

func defaultRedirect(c *fiber.Ctx, decision authguard.GuardDecision) error {
	status := fiber.StatusSeeOther
	if c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead {
		status = fiber.StatusFound
	}
	return c.Redirect(decision.Target, status)
}

type TokenExtractor func(c *fiber.Ctx) (string, error)

// ExtractRawToken returns the first token any extractor finds.
func ExtractRawToken(c *fiber.Ctx, extractors []TokenExtractor) (string, error) {
	for _, extractor := range extractors {
		raw, err := extractor(c)
		if raw != "" && err == nil {
			return raw, nil
		}
	}
	return "", ErrTokenMissingOrMalformed
}

func GetExtractors(tokenLookup string, authScheme string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	// header:Authorization,cookie:sb-access-token,query:access_token
	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, tokenFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(name))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(name))
		}
	}

	return extractors
}

// tokenFromHeader returns a function that extracts token from the request header.
func tokenFromHeader(header string, authScheme string) TokenExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

// tokenFromQuery returns a function that extracts token from the query string.
func tokenFromQuery(param string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

// tokenFromCookie returns a function that extracts token from the named cookie.
func tokenFromCookie(name string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}
