// Package logging configures zerolog for the kcsp processes: one global
// logger, component children, and an optional daily log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a level name as written in config files and flags.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches the console copy to zerolog's ConsoleWriter. The
	// file copy is always JSON.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// File, when set, receives a JSON copy of every line.
	File io.Writer
}

// DefaultConfig returns JSON output at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup replaces the global logger and returns it. A file that fails to
// write is reported on the console and does not stop logging.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.DurationFieldUnit = time.Millisecond

	console := cfg.Output
	if console == nil {
		console = os.Stderr
	}
	zerolog.ErrorHandler = func(err error) {
		fmt.Fprintf(console, "kcsp: log write failed: %v\n", err)
	}

	var out io.Writer = console
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}
	}
	if cfg.File != nil {
		out = zerolog.MultiLevelWriter(out, cfg.File)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger returns a child of the global logger tagged with component.
// Call it after Setup; children created earlier keep the old output.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Levels and fields used across kcsp:
//
// Debug: cache state transitions, hits by token, tunnel byte counts.
// Info: accepted and finished requests, startup and shutdown.
// Warn: 403/410/503 answers, recognized network errors during retries,
// circuit breaker changes.
// Error: upstream failures with url, headers and body; store failures;
// recovered panics.
//
// Fields: component, ip (first X-Forwarded-For hop), url, token, status,
// duration (ms), attempt, headers, body.
