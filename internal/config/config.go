package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-authguard"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTHGUARD_"

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "authguard.yaml"

const (
	StorageKeyring = "keyring"
	StorageFile    = "file"
	StorageMemory  = "memory"
)

// Config holds all configuration for the application
type Config struct {
	GoTrue  GoTrueConfig  `yaml:"gotrue"`
	Routes  RoutesConfig  `yaml:"routes"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// GoTrueConfig holds the identity provider settings
type GoTrueConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	// JWTSecret or JWKSURL are used to verify access tokens locally.
	JWTSecret   string        `yaml:"jwt_secret"`
	JWKSURL     string        `yaml:"jwks_url"`
	AutoRefresh bool          `yaml:"auto_refresh"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RoutesConfig mirrors authguard.Routes
type RoutesConfig struct {
	SiteURL       string `yaml:"site_url"`
	Login         string `yaml:"login"`
	Signup        string `yaml:"signup"`
	ResetPassword string `yaml:"reset_password"`
	Dashboard     string `yaml:"dashboard"`
	Unauthorized  string `yaml:"unauthorized"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool `yaml:"secure_cookies"`
}

// StorageConfig selects where CLI sessions are persisted
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

var pathPattern = regexp.MustCompile(`^/([^/].*)?$`)

// Defaults returns a configuration with every optional field set.
func Defaults() *Config {
	routes := authguard.DefaultRoutes()
	return &Config{
		GoTrue: GoTrueConfig{
			AutoRefresh: true,
			Timeout:     10 * time.Second,
		},
		Routes: RoutesConfig{
			SiteURL:       "http://localhost:8080",
			Login:         routes.Login,
			Signup:        routes.Signup,
			ResetPassword: routes.ResetPassword,
			Dashboard:     routes.Dashboard,
			Unauthorized:  routes.Unauthorized,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsPath: "/metrics",
		},
		Storage: StorageConfig{
			Backend: StorageKeyring,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path (or DefaultFile when it exists), then the .env files, then
// the environment. An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	file := path
	if file == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			file = DefaultFile
		}
	}

	if file != "" {
		if err := cfg.loadFile(file); err != nil {
			return nil, err
		}
	}

	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(target *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				*target = v
				return
			}
		}
	}

	str(&c.GoTrue.URL, EnvPrefix+"GOTRUE_URL", "SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL")
	str(&c.GoTrue.APIKey, EnvPrefix+"GOTRUE_API_KEY", "SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY")
	str(&c.GoTrue.JWTSecret, EnvPrefix+"JWT_SECRET", "SUPABASE_JWT_SECRET")
	str(&c.GoTrue.JWKSURL, EnvPrefix+"JWKS_URL")
	str(&c.Routes.SiteURL, EnvPrefix+"SITE_URL")
	str(&c.Server.Addr, EnvPrefix+"LISTEN_ADDR")
	str(&c.Server.MetricsPath, EnvPrefix+"METRICS_PATH")
	str(&c.Storage.Backend, EnvPrefix+"STORAGE")
	str(&c.Storage.Path, EnvPrefix+"STORAGE_PATH")
	str(&c.Logging.Level, EnvPrefix+"LOG_LEVEL", "LOG_LEVEL")
	str(&c.Logging.Format, EnvPrefix+"LOG_FORMAT", "LOG_FORMAT")

	var errs []error
	if v, ok := lookup(EnvPrefix + "AUTO_REFRESH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sAUTO_REFRESH: %w", EnvPrefix, err))
		} else {
			c.GoTrue.AutoRefresh = b
		}
	}
	if v, ok := lookup(EnvPrefix + "SECURE_COOKIES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSECURE_COOKIES: %w", EnvPrefix, err))
		} else {
			c.Server.SecureCookies = b
		}
	}
	if v, ok := lookup(EnvPrefix + "GOTRUE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sGOTRUE_TIMEOUT: %w", EnvPrefix, err))
		} else {
			c.GoTrue.Timeout = d
		}
	}
	return errors.Join(errs...)
}

// AuthRoutes converts the routes section to authguard.Routes.
func (c *Config) AuthRoutes() authguard.Routes {
	return authguard.Routes{
		Login:         c.Routes.Login,
		Signup:        c.Routes.Signup,
		ResetPassword: c.Routes.ResetPassword,
		Dashboard:     c.Routes.Dashboard,
		Unauthorized:  c.Routes.Unauthorized,
		SiteURL:       strings.TrimSuffix(c.Routes.SiteURL, "/"),
	}
}

// Validate checks what every command needs.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.GoTrue),
		validation.Field(&c.Routes),
		validation.Field(&c.Storage),
		validation.Field(&c.Logging),
	)
}

// ValidateServer additionally requires a way to verify access tokens.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GoTrue.JWTSecret == "" && c.GoTrue.JWKSURL == "" {
		return errors.New("gotrue: jwt_secret or jwks_url is required to verify access tokens")
	}
	return nil
}

func (g GoTrueConfig) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.URL, validation.Required, is.URL),
		validation.Field(&g.APIKey, validation.Required),
		validation.Field(&g.JWKSURL, is.URL),
	)
}

func (r RoutesConfig) Validate() error {
	path := validation.Match(pathPattern).Error("must be an absolute path")
	return validation.ValidateStruct(&r,
		validation.Field(&r.SiteURL, is.URL),
		validation.Field(&r.Login, path),
		validation.Field(&r.Signup, path),
		validation.Field(&r.ResetPassword, path),
		validation.Field(&r.Dashboard, path),
		validation.Field(&r.Unauthorized, path),
	)
}

func (s StorageConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required, validation.In(StorageKeyring, StorageFile, StorageMemory)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Format, validation.In("json", "console")),
	)
}
