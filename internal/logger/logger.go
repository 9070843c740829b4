package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the application logger instance
var Logger zerolog.Logger = zerolog.Nop()

// Init initializes the logger with the given configuration
func Init(level, format string) {
	Logger = New(level, format, os.Stderr)

	// Set the global logger
	log.Logger = Logger
}

// New builds a logger writing to out without touching the globals.
func New(level, format string, out io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	if strings.ToLower(format) == "json" {
		return zerolog.New(out).With().
			Timestamp().
			Logger()
	}

	// Console format with colors
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    out != os.Stdout && out != os.Stderr,
	}
	return zerolog.New(output).With().
		Timestamp().
		Logger()
}

// parseLogLevel parses string log level to zerolog level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the configured logger instance
func GetLogger() zerolog.Logger {
	return Logger
}

// Adapter exposes a zerolog logger through the printf style
// authguard.Logger interface.
type Adapter struct {
	zl zerolog.Logger
}

// NewAdapter wraps zl. The component name is attached as a field when set.
func NewAdapter(zl zerolog.Logger, component string) *Adapter {
	if component != "" {
		zl = zl.With().Str("component", component).Logger()
	}
	return &Adapter{zl: zl}
}

func (a *Adapter) Debug(format string, args ...any) {
	a.zl.Debug().Msgf(format, args...)
}

func (a *Adapter) Info(format string, args ...any) {
	a.zl.Info().Msgf(format, args...)
}

func (a *Adapter) Warn(format string, args ...any) {
	a.zl.Warn().Msgf(format, args...)
}

func (a *Adapter) Error(format string, args ...any) {
	a.zl.Error().Msgf(format, args...)
}
