// Package logging configures the zerolog logger shared by every package.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Shop is attached to every line when set.
	Shop string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Shop != "" {
		ctx = ctx.Str("shop", cfg.Shop)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level. An empty name is info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Pages fetched (page number, item count, has_next_page)
//   - Throttle backoff and pre-emptive waits
//   - Inventory chunks and cache hits/misses
//
// Info: Normal operation events
//   - Bulk operation submitted and completed
//   - Staged uploads and created files
//   - Operation complete with duration
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - THROTTLED responses being retried
//   - Image URL not yet available
//   - Unparsable metafield dates (product skipped)
//   - Cache errors (fallback to the API)
//
// Error: Error conditions requiring attention
//   - Throttle retries exhausted
//   - Bulk operation mismatch or failure
//   - Failed uploads and transport errors
//   - Configuration errors
//
// Context Fields:
//   - shop: Shop name
//   - component: Emitting package (client, paginator, stager, bulk-runner, shopify)
//   - operation: GraphQL operation or catalog operation name
//   - operation_id: Bulk operation gid
//   - status: Bulk operation status
//   - class: Error classification (transport, throttled, graphql, user, ...)
//   - retry: Throttle retry number
//   - backoff: Sleep before the retry
//   - page: Page number within a paginated read
//   - staged_path: Staged upload key passed to bulk mutations
//   - duration: Operation duration
