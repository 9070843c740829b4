package gotrue

import (
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-authguard"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultRefreshMargin = 60 * time.Second
	DefaultRetryDelay    = 10 * time.Second
	authPath             = "/auth/v1"
)

// Config holds the GoTrue client configuration.
type Config struct {
	// URL is the project URL, e.g. "https://xyzcompany.supabase.co".
	URL string
	// APIKey is the public (anon) key sent in the apikey header.
	APIKey string

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	// Timeout bounds every request. Default: 10s.
	Timeout time.Duration

	// AutoRefresh refreshes the session RefreshMargin before it expires.
	AutoRefresh   bool
	RefreshMargin time.Duration
	// RetryDelay is the wait before retrying a refresh that failed transiently.
	RetryDelay time.Duration

	// Storage persists the session between runs (optional).
	Storage SessionStorage

	Logger authguard.Logger
	Clock  func() time.Time
}

// Validate implements validation.Validatable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.APIKey, validation.Required),
	)
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimSuffix(strings.TrimSpace(c.URL), "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = DefaultRefreshMargin
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = authguard.NopLogger{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

func (c Config) endpoint(path string) string {
	return c.URL + authPath + path
}
