// Package views holds the application view table shared by the HTTP server
// and the interactive console.
package views

import (
	"github.com/goliatone/go-authguard"
)

// Page is a view plus what the shells display for it.
type Page struct {
	authguard.View
	Title   string
	Summary string
}

// Pages returns the view table laid out over routes.
func Pages(routes authguard.Routes) []Page {
	r := routes
	if r.Login == "" {
		r = authguard.DefaultRoutes()
	}

	return []Page{
		{View: authguard.View{Name: "home", Path: "/", Public: true}, Title: "Home", Summary: "Public landing page."},

		{View: authguard.View{Name: "login", Path: r.Login, Public: true, Prefix: true}, Title: "Sign in", Summary: "Sign in with email and password."},
		{View: authguard.View{Name: "signup", Path: r.Signup, Public: true, Prefix: true}, Title: "Create account", Summary: "Register a new account."},
		{View: authguard.View{Name: "reset-password", Path: r.ResetPassword, Public: true, Prefix: true}, Title: "Reset password", Summary: "Request a reset link or choose a new password."},
		{View: authguard.View{Name: "unauthorized", Path: r.Unauthorized, Public: true}, Title: "Unauthorized", Summary: "Your role does not grant access to that page."},

		{View: authguard.View{Name: "dashboard", Path: r.Dashboard, RequiredRole: authguard.RoleUser, Prefix: true}, Title: "Dashboard", Summary: "Overview of your policies and claims."},
		{View: authguard.View{Name: "profile", Path: "/profile", RequiredRole: authguard.RoleUser, Prefix: true}, Title: "Profile", Summary: "Account details and password."},
		{View: authguard.View{Name: "claims", Path: "/claims", RequiredRole: authguard.RoleUser, Prefix: true}, Title: "Claims", Summary: "File and track claims."},
		{View: authguard.View{Name: "quote", Path: "/quote", RequiredRole: authguard.RoleUser, Prefix: true}, Title: "Quote", Summary: "Request a new quote."},
		{View: authguard.View{Name: "assistant", Path: "/assistant", RequiredRole: authguard.RoleUser, Prefix: true}, Title: "Assistant", Summary: "Ask questions about your coverage."},
		{View: authguard.View{Name: "underwriter", Path: "/underwriter", RequiredRole: authguard.RoleUnderwriter, Prefix: true}, Title: "Underwriting", Summary: "Review pending applications."},
		{View: authguard.View{Name: "admin", Path: "/admin", RequiredRole: authguard.RoleAdmin, Prefix: true}, Title: "Administration", Summary: "Manage users and roles."},
	}
}

// Views returns only the view definitions.
func Views(routes authguard.Routes) []authguard.View {
	pages := Pages(routes)
	out := make([]authguard.View, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.View)
	}
	return out
}

// Lookup finds a page by view name.
func Lookup(pages []Page, name string) (Page, bool) {
	for _, p := range pages {
		if p.Name == name {
			return p, true
		}
	}
	return Page{}, false
}
