// Package lcplog provides structured logging for the LCP client using
// zerolog. It follows the same shape as a typical component logger: a
// package-level instance configured once via Init, and With* helpers
// that attach request-scoped fields.
package lcplog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-level logger instance, configured by Init.
var Logger zerolog.Logger

// Level is a logging severity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger from cfg.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// A usable default so packages that log before Init (tests, library
	// callers that never configure logging) don't panic on a zero Logger.
	Init(Config{Level: InfoLevel})
}

// WithLicense attaches the license id to a child logger.
func WithLicense(id string) zerolog.Logger {
	return Logger.With().Str("license_id", id).Logger()
}

// WithHandle attaches the open-license handle id to a child logger.
func WithHandle(id string) zerolog.Logger {
	return Logger.With().Str("handle_id", id).Logger()
}

// WithIssuer attaches a CRL issuer name to a child logger.
func WithIssuer(issuer string) zerolog.Logger {
	return Logger.With().Str("crl_issuer", issuer).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
