package gotrue

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authguard"
)

// DefaultAudience is the aud claim GoTrue puts in user access tokens.
const DefaultAudience = "authenticated"

// Claims are the access token claims issued by GoTrue.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// User maps the claims onto an authguard user.
func (c *Claims) User() authguard.User {
	return authguard.User{
		ID:       c.Subject,
		Email:    c.Email,
		Metadata: authguard.ProfileMetadataFromMap(c.UserMetadata),
	}
}

// VerifierConfig configures a TokenVerifier. Exactly one of Secret and
// JWKSURL is expected; JWKSURL wins when both are set.
type VerifierConfig struct {
	// Secret is the project JWT secret (HS256).
	Secret string
	// JWKSURL is the JWKS endpoint, e.g. <url>/auth/v1/.well-known/jwks.json.
	JWKSURL string
	// Audience defaults to "authenticated". Set "-" to skip the check.
	Audience string
	// Issuer is checked when set, usually <url>/auth/v1.
	Issuer string
	Leeway time.Duration
	// RefreshInterval controls background JWKS refreshes. Default: 1h.
	RefreshInterval time.Duration
	Clock           func() time.Time
}

// TokenVerifier validates GoTrue access tokens locally.
type TokenVerifier struct {
	parser  *jwt.Parser
	keyFunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
}

// NewTokenVerifier builds a verifier. With a JWKS URL the key set is fetched
// immediately and refreshed in the background until Close.
func NewTokenVerifier(cfg VerifierConfig) (*TokenVerifier, error) {
	if cfg.Secret == "" && cfg.JWKSURL == "" {
		return nil, fmt.Errorf("gotrue: verifier needs a secret or a JWKS URL")
	}

	v := &TokenVerifier{}

	methods := []string{"HS256"}
	if cfg.JWKSURL != "" {
		interval := cfg.RefreshInterval
		if interval <= 0 {
			interval = time.Hour
		}
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshErrorHandler: func(err error) {
				log.Printf("failed to do a background refresh of JWT set: %s", err)
			},
			RefreshInterval:   interval,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("gotrue: failed to get JWKS: %w", err)
		}
		v.jwks = jwks
		v.keyFunc = jwks.Keyfunc
		methods = []string{"RS256", "ES256"}
	} else {
		secret := []byte(cfg.Secret)
		v.keyFunc = func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected JWT signing method: %v", token.Header["alg"])
			}
			return secret, nil
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}

	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience
	}
	if audience != "-" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Clock != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Clock))
	}

	v.parser = jwt.NewParser(opts...)
	return v, nil
}

// Close stops background JWKS refreshes.
func (v *TokenVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// Claims parses and validates tokenString.
func (v *TokenVerifier) Claims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, authguard.NewAuthError(authguard.ErrNotAuthenticated, "token is expired", err)
		}
		return nil, authguard.NewAuthError(authguard.ErrNotAuthenticated, "invalid token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, authguard.NewAuthError(authguard.ErrNotAuthenticated, "invalid token", fmt.Errorf("token without subject"))
	}
	return claims, nil
}

// Verify validates tokenString and builds the session it represents.
func (v *TokenVerifier) Verify(tokenString string) (*authguard.Session, error) {
	claims, err := v.Claims(tokenString)
	if err != nil {
		return nil, err
	}

	session := &authguard.Session{
		AccessToken: tokenString,
		TokenType:   "bearer",
		User:        claims.User(),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}
