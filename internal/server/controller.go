package server

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-authguard/internal/views"
	"github.com/goliatone/go-authguard/middleware/guardware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Controller holds the page and form handlers.
type Controller struct {
	cfg   Config
	views []authguard.View
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// SignupRequest payload
type SignupRequest struct {
	FullName string `form:"full_name" json:"full_name"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r SignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Length(0, 200)),
	)
}

// ResetRequest payload
type ResetRequest struct {
	Email string `form:"email" json:"email"`
}

// PasswordRequest payload
type PasswordRequest struct {
	Password string `form:"password" json:"password"`
}

func (ctrl *Controller) guard(required authguard.Role) fiber.Handler {
	return guardware.New(guardware.Config{
		Verifier:     ctrl.cfg.Verifier,
		TokenLookup:  "cookie:" + AccessCookie + ",header:Authorization",
		RequiredRole: required,
		Routes:       ctrl.cfg.Routes,
		Observer:     ctrl.cfg.Observer,
		Logger:       ctrl.cfg.Logger,
	})
}

// optionalState resolves the state on public pages without enforcing anything.
func (ctrl *Controller) optionalState() fiber.Handler {
	extractors := guardware.GetExtractors("cookie:"+AccessCookie, "Bearer")
	return func(c *fiber.Ctx) error {
		state := authguard.AuthState{}
		if raw, err := guardware.ExtractRawToken(c, extractors); err == nil {
			if session, err := ctrl.cfg.Verifier.Verify(raw); err == nil {
				state = authguard.StateFromSession(session)
			}
		}
		c.Locals("auth_state", state)
		c.SetUserContext(authguard.WithAuthState(c.UserContext(), state))
		return c.Next()
	}
}

func (ctrl *Controller) state(c *fiber.Ctx) authguard.AuthState {
	state, _ := guardware.StateFromLocals(c, "")
	return state
}

// Show renders a page of the view table.
func (ctrl *Controller) Show(page views.Page) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return ctrl.render(c, fiber.StatusOK, page, fiber.Map{
			"message": c.Query("message"),
		})
	}
}

func (ctrl *Controller) render(c *fiber.Ctx, status int, page views.Page, data fiber.Map) error {
	state := ctrl.state(c)

	bind := fiber.Map{}
	for k, v := range authguard.TemplateHelpersWithState(state, ctrl.cfg.Routes, ctrl.views) {
		bind[k] = v
	}
	bind["page"] = page
	bind["nav"] = ctrl.nav()
	bind["routes"] = ctrl.cfg.Routes
	bind["action"] = c.OriginalURL()
	bind["logout_path"] = LogoutPath
	bind["password_path"] = PasswordPath
	bind["csrf_field"] = ctrl.csrfField(c)
	bind["form"] = fiber.Map{}
	for k, v := range data {
		bind[k] = v
	}

	return c.Status(status).Render("page", bind)
}

func (ctrl *Controller) nav() []views.Page {
	var out []views.Page
	for _, p := range ctrl.cfg.Pages {
		if !p.Public {
			out = append(out, p)
		}
	}
	return out
}

func (ctrl *Controller) csrfField(c *fiber.Ctx) string {
	token, ok := c.Locals(csrfContextKey).(string)
	if !ok || token == "" {
		return ""
	}
	return fmt.Sprintf(`<input type="hidden" name="%s" value="%s">`, csrfFormField, token)
}

func (ctrl *Controller) page(name string) views.Page {
	page, ok := views.Lookup(ctrl.cfg.Pages, name)
	if !ok {
		page = views.Page{View: authguard.View{Name: name}, Title: name}
	}
	return page
}

// openStore creates a Store over a fresh provider. session, when set, is
// installed first so the store bootstraps authenticated.
func (ctrl *Controller) openStore(c *fiber.Ctx, session *authguard.Session) (*authguard.Store, func(), error) {
	provider, err := ctrl.cfg.Provider()
	if err != nil {
		return nil, nil, err
	}

	ctx := c.UserContext()
	if session != nil {
		provider.SetSession(ctx, session)
	}

	store := authguard.NewStore(provider,
		authguard.WithStoreRoutes(ctrl.cfg.Routes),
		authguard.WithStoreLogger(ctrl.cfg.Logger),
		authguard.WithStoreActivitySink(ctrl.cfg.Activity),
		authguard.WithStoreClock(ctrl.cfg.Clock),
	)
	store.Open(ctx)

	return store, func() {
		store.Close()
		provider.Close()
	}, nil
}

// LoginPost signs in and sends the visitor back to where they came from.
func (ctrl *Controller) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	page := ctrl.page("login")

	if err := c.BodyParser(payload); err != nil {
		return ctrl.render(c, fiber.StatusBadRequest, page, fiber.Map{"error": "Failed to parse form"})
	}

	store, done, err := ctrl.openStore(c, nil)
	if err != nil {
		return err
	}
	defer done()

	session, err := store.SignIn(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return ctrl.render(c, authguard.StatusCode(err), page, fiber.Map{
			"error": authguard.UserMessage(err),
			"form":  payload,
		})
	}

	ctrl.setAccessCookie(c, session)

	target := ctrl.cfg.Routes.ReturnLocationOrDefault(c.OriginalURL())
	return c.Redirect(target, fiber.StatusSeeOther)
}

// SignupPost registers an account. Projects that require email
// confirmation get a message instead of a session.
func (ctrl *Controller) SignupPost(c *fiber.Ctx) error {
	payload := new(SignupRequest)
	page := ctrl.page("signup")

	if err := c.BodyParser(payload); err != nil {
		return ctrl.render(c, fiber.StatusBadRequest, page, fiber.Map{"error": "Failed to parse form"})
	}

	if err := payload.Validate(); err != nil {
		return ctrl.render(c, fiber.StatusBadRequest, page, fiber.Map{
			"error": err.Error(),
			"form":  payload,
		})
	}

	store, done, err := ctrl.openStore(c, nil)
	if err != nil {
		return err
	}
	defer done()

	result, err := store.SignUp(c.UserContext(), payload.Email, payload.Password, authguard.ProfileMetadata{
		FullName: payload.FullName,
	})
	if err != nil {
		return ctrl.render(c, authguard.StatusCode(err), page, fiber.Map{
			"error": authguard.UserMessage(err),
			"form":  payload,
		})
	}

	if result.Session == nil {
		return ctrl.render(c, fiber.StatusOK, ctrl.page("login"), fiber.Map{
			"message": "Check your email to confirm your account.",
			"action":  ctrl.cfg.Routes.Login,
		})
	}

	ctrl.setAccessCookie(c, result.Session)
	return c.Redirect(ctrl.cfg.Routes.Dashboard, fiber.StatusSeeOther)
}

// ResetPost sends a password reset email.
func (ctrl *Controller) ResetPost(c *fiber.Ctx) error {
	payload := new(ResetRequest)
	page := ctrl.page("reset-password")

	if err := c.BodyParser(payload); err != nil {
		return ctrl.render(c, fiber.StatusBadRequest, page, fiber.Map{"error": "Failed to parse form"})
	}

	store, done, err := ctrl.openStore(c, nil)
	if err != nil {
		return err
	}
	defer done()

	if err := store.ResetPassword(c.UserContext(), payload.Email); err != nil {
		return ctrl.render(c, authguard.StatusCode(err), page, fiber.Map{
			"error": authguard.UserMessage(err),
			"form":  payload,
		})
	}

	return ctrl.render(c, fiber.StatusOK, page, fiber.Map{
		"message": "If that address has an account, a reset link is on its way.",
	})
}

// PasswordPost changes the password of the signed in user.
func (ctrl *Controller) PasswordPost(c *fiber.Ctx) error {
	payload := new(PasswordRequest)
	page := ctrl.page("profile")

	if err := c.BodyParser(payload); err != nil {
		return ctrl.render(c, fiber.StatusBadRequest, page, fiber.Map{"error": "Failed to parse form"})
	}

	store, done, err := ctrl.openStore(c, ctrl.state(c).Session)
	if err != nil {
		return err
	}
	defer done()

	if _, err := store.UpdatePassword(c.UserContext(), payload.Password); err != nil {
		return ctrl.render(c, authguard.StatusCode(err), page, fiber.Map{
			"error": authguard.UserMessage(err),
		})
	}

	return ctrl.render(c, fiber.StatusOK, page, fiber.Map{
		"message": "Password updated.",
	})
}

// LogOut clears the cookie and signs out remotely, best effort.
func (ctrl *Controller) LogOut(c *fiber.Ctx) error {
	state := ctrl.state(c)
	ctrl.clearAccessCookie(c)

	if state.Authenticated() {
		store, done, err := ctrl.openStore(c, state.Session)
		if err != nil {
			return err
		}
		defer done()
		store.SignOut(c.UserContext())
	}

	return c.Redirect(ctrl.cfg.Routes.Login, fiber.StatusSeeOther)
}

func (ctrl *Controller) setAccessCookie(c *fiber.Ctx, session *authguard.Session) {
	cookie := &fiber.Cookie{
		Name:     AccessCookie,
		Value:    session.AccessToken,
		Path:     "/",
		HTTPOnly: true,
		Secure:   ctrl.cfg.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if !session.ExpiresAt.IsZero() {
		cookie.Expires = session.ExpiresAt
	}
	c.Cookie(cookie)
}

func (ctrl *Controller) clearAccessCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     AccessCookie,
		Value:    "",
		Path:     "/",
		Expires:  ctrl.cfg.Clock().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   ctrl.cfg.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (ctrl *Controller) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := authguard.ErrUnexpected.Message

	var fiberErr *fiber.Error
	var richErr *goerrors.Error
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	case goerrors.As(err, &richErr):
		code = authguard.StatusCode(err)
		message = authguard.UserMessage(err)
		ctrl.cfg.Logger.Error("request failed: %s %s", richErr.TextCode, print.MaybePrettyJSON(richErr.Metadata))
	default:
		ctrl.cfg.Logger.Error("request failed: %v", err)
	}

	return c.Status(code).SendString(message)
}
