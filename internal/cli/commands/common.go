package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-authguard/activitymap"
	"github.com/goliatone/go-authguard/internal/config"
	"github.com/goliatone/go-authguard/internal/logger"
	"github.com/goliatone/go-authguard/persist"
	"github.com/goliatone/go-authguard/provider/gotrue"
	"golang.org/x/term"
)

// Options are the persistent flags of the root command.
type Options struct {
	ConfigPath string
	LogLevel   string
}

// loadConfig loads and validates the configuration and initializes the
// global logger from it.
func loadConfig(opts *Options) (*config.Config, error) {
	if opts == nil {
		opts = &Options{}
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	return cfg, nil
}

// newStorage returns the session storage selected by the config.
func newStorage(cfg *config.Config) (persist.Storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageFile:
		path := cfg.Storage.Path
		if path == "" {
			var err error
			if path, err = persist.DefaultFilePath(); err != nil {
				return nil, err
			}
		}
		return persist.NewFile(path), nil
	case config.StorageMemory:
		return persist.NewMemory(), nil
	case config.StorageKeyring, "":
		return persist.NewKeyring(cfg.GoTrue.URL), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newClient creates a GoTrue client persisting its session in storage.
func newClient(cfg *config.Config, storage gotrue.SessionStorage) (*gotrue.Client, error) {
	return gotrue.NewClient(gotrue.Config{
		URL:         cfg.GoTrue.URL,
		APIKey:      cfg.GoTrue.APIKey,
		Timeout:     cfg.GoTrue.Timeout,
		AutoRefresh: cfg.GoTrue.AutoRefresh,
		Storage:     storage,
		Logger:      logger.NewAdapter(logger.Logger, "gotrue"),
	})
}

// newStore wires a store over client with the configured routes.
func newStore(cfg *config.Config, client authguard.IdentityProvider, opts ...authguard.StoreOption) *authguard.Store {
	base := []authguard.StoreOption{
		authguard.WithStoreRoutes(cfg.AuthRoutes()),
		authguard.WithStoreLogger(logger.NewAdapter(logger.Logger, "store")),
		authguard.WithStoreActivitySink(activitymap.NewLogSink(
			logger.Logger.With().Str("component", "audit").Logger(),
			activitymap.WithDefaultChannel("cli"),
		)),
	}
	return authguard.NewStore(client, append(base, opts...)...)
}

// readPassword prompts on a terminal without echo. Piped input is read as a
// single line.
func readPassword(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)

	if f, ok := in.(*os.File); ok && f == os.Stdin && term.IsTerminal(int(syscall.Stdin)) {
		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out) // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(bytePassword), nil
	}

	line, err := readLine(in)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return line, nil
}

// readLine reads up to the next newline one byte at a time so nothing past
// the line is consumed from in.
func readLine(in io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				break
			}
			return "", err
		}
	}
	return strings.TrimRight(sb.String(), "\r"), nil
}

func describeState(state authguard.AuthState) string {
	if !state.Authenticated() {
		return "not signed in"
	}
	return fmt.Sprintf("%s (%s)", state.User.Email, state.Role)
}
