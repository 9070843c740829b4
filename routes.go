package authguard

import (
	"net/url"
	"strings"
)

// Routes names the navigation targets the guard relies on.
type Routes struct {
	Login         string
	Signup        string
	ResetPassword string
	Dashboard     string
	Unauthorized  string
	// ReturnParam is the query parameter carrying the return location on Login.
	ReturnParam string
	// SiteURL is the public origin used to build absolute links (reset emails).
	SiteURL string
}

// DefaultRoutes returns the conventional route layout
func DefaultRoutes() Routes {
	return Routes{
		Login:         "/login",
		Signup:        "/signup",
		ResetPassword: "/reset-password",
		Dashboard:     "/dashboard",
		Unauthorized:  "/unauthorized",
		ReturnParam:   "returnUrl",
	}
}

func (r Routes) withDefaults() Routes {
	def := DefaultRoutes()
	if r.Login == "" {
		r.Login = def.Login
	}
	if r.Signup == "" {
		r.Signup = def.Signup
	}
	if r.ResetPassword == "" {
		r.ResetPassword = def.ResetPassword
	}
	if r.Dashboard == "" {
		r.Dashboard = def.Dashboard
	}
	if r.Unauthorized == "" {
		r.Unauthorized = def.Unauthorized
	}
	if r.ReturnParam == "" {
		r.ReturnParam = def.ReturnParam
	}
	return r
}

// PublicAuthViews lists the views only anonymous visitors may stay on.
func (r Routes) PublicAuthViews() []string {
	r = r.withDefaults()
	return []string{r.Login, r.Signup, r.ResetPassword}
}

// IsPublicAuthView reports whether location is login, signup or reset-password,
// or a sub path of them. The query string is ignored.
func (r Routes) IsPublicAuthView(location string) bool {
	p := pathOf(location)
	for _, view := range r.PublicAuthViews() {
		if matchesPath(p, view) {
			return true
		}
	}
	return false
}

// LoginRedirect builds the login target carrying origin as return location.
func (r Routes) LoginRedirect(origin string) string {
	r = r.withDefaults()
	if origin == "" {
		return r.Login
	}
	q := url.Values{}
	q.Set(r.ReturnParam, origin)
	return r.Login + "?" + q.Encode()
}

// ReturnLocation extracts a safe return location from location's query.
func (r Routes) ReturnLocation(location string) (string, bool) {
	r = r.withDefaults()
	u, err := url.Parse(location)
	if err != nil {
		return "", false
	}

	target := u.Query().Get(r.ReturnParam)
	if !r.IsSafeReturn(target) {
		return "", false
	}
	return target, true
}

// ReturnLocationOrDefault is what login sends the user to after sign in.
func (r Routes) ReturnLocationOrDefault(location string) string {
	if target, ok := r.ReturnLocation(location); ok {
		return target
	}
	return r.withDefaults().Dashboard
}

// IsSafeReturn accepts only same-origin relative paths that are not auth views.
func (r Routes) IsSafeReturn(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return false
	}

	return !r.IsPublicAuthView(target)
}

// PasswordResetURL is the absolute link sent in password reset emails.
func (r Routes) PasswordResetURL() string {
	r = r.withDefaults()
	return strings.TrimSuffix(r.SiteURL, "/") + r.ResetPassword
}

func pathOf(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		return location[:i]
	}
	return location
}

func matchesPath(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/")
}
