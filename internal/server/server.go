// Package server serves the view table over HTTP. Every protected page sits
// behind the guard middleware; sign in, sign up, password reset and sign out
// go through a per request Store backed by the identity provider.
package server

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-authguard/internal/views"
	"github.com/goliatone/go-authguard/middleware/guardware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	// AccessCookie holds the access token; the guard middleware reads it.
	AccessCookie = "sb-access-token"

	csrfContextKey = "csrf"
	csrfFormField  = "_token"

	LogoutPath   = "/logout"
	PasswordPath = "/profile/password"
)

// Provider is the identity provider a request works with. The session from
// the access cookie is installed before the per request Store bootstraps.
type Provider interface {
	authguard.IdentityProvider
	SetSession(ctx context.Context, session *authguard.Session)
	Close()
}

// ProviderFactory creates a fresh provider for one request.
type ProviderFactory func() (Provider, error)

// Config wires the server.
type Config struct {
	Routes   authguard.Routes
	Pages    []views.Page
	Verifier guardware.TokenVerifier
	Provider ProviderFactory

	// Observer receives guard decisions, Activity receives auth operations.
	Observer authguard.DecisionObserver
	Activity authguard.ActivitySink

	// Gatherer is served on MetricsPath when both are set.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	SecureCookies bool
	CSRF          bool

	Logger authguard.Logger
	Clock  func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Routes.Login == "" {
		c.Routes = authguard.DefaultRoutes()
	}
	if len(c.Pages) == 0 {
		c.Pages = views.Pages(c.Routes)
	}
	if c.Logger == nil {
		c.Logger = authguard.NopLogger{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// New builds the fiber application.
func New(cfg Config) (*fiber.App, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("server: a token verifier is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("server: a provider factory is required")
	}
	cfg = cfg.withDefaults()

	templates, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := django.NewFileSystem(http.FS(templates), ".html")

	ctrl := &Controller{cfg: cfg, views: viewsOf(cfg.Pages)}

	app := fiber.New(fiber.Config{
		Views:                 engine,
		DisableStartupMessage: true,
		ErrorHandler:          ctrl.errorHandler,
	})

	app.Use(recover.New())

	if cfg.CSRF {
		app.Use(csrf.New(csrf.Config{
			KeyLookup:      "form:" + csrfFormField,
			CookieName:     "authguard_csrf",
			CookieSameSite: "Lax",
			CookieSecure:   cfg.SecureCookies,
			CookieHTTPOnly: true,
			Expiration:     time.Hour,
			ContextKey:     csrfContextKey,
		}))
	}

	if cfg.Gatherer != nil && cfg.MetricsPath != "" {
		app.Get(cfg.MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	optional := ctrl.optionalState()

	for _, page := range cfg.Pages {
		page := page

		var handlers []fiber.Handler
		if page.Public && !cfg.Routes.IsPublicAuthView(page.Path) {
			handlers = append(handlers, optional)
		} else {
			handlers = append(handlers, ctrl.guard(page.RequiredRole))
		}
		handlers = append(handlers, ctrl.Show(page))

		app.Get(page.Path, handlers...)
		if page.Prefix {
			app.Get(strings.TrimSuffix(page.Path, "/")+"/*", handlers...)
		}
	}

	routes := cfg.Routes
	app.Post(routes.Login, ctrl.guard(authguard.RoleUser), ctrl.LoginPost)
	app.Post(routes.Signup, ctrl.guard(authguard.RoleUser), ctrl.SignupPost)
	app.Post(routes.ResetPassword, ctrl.guard(authguard.RoleUser), ctrl.ResetPost)
	app.Post(PasswordPath, ctrl.guard(authguard.RoleUser), ctrl.PasswordPost)
	app.Post(LogoutPath, optional, ctrl.LogOut)

	return app, nil
}

func viewsOf(pages []views.Page) []authguard.View {
	out := make([]authguard.View, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.View)
	}
	return out
}
