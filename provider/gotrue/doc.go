// Package gotrue implements authguard.IdentityProvider against a GoTrue
// compatible REST API (the auth service behind Supabase).
//
// Client keeps the current session in memory, persists it through an optional
// SessionStorage and pushes SIGNED_IN, SIGNED_OUT, TOKEN_REFRESHED and
// USER_UPDATED events to registered handlers in the order they happen. With
// AutoRefresh enabled the session is refreshed shortly before it expires.
//
// TokenVerifier validates access tokens locally, either with the project's
// HMAC secret or with keys published on a JWKS endpoint.
package gotrue
