// Package logging configures the process-wide zerolog logger for the exporter.
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

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every ticket id processed.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs partition and run milestones.
	LevelInfo LogLevel = "info"

	// LevelWarn logs skipped tickets and retries.
	LevelWarn LogLevel = "warn"

	// LevelError logs failed tickets and partitions only.
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
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
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
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.DateTime}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level. The empty string is
// info; unknown names are an error.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
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
// Debug: per-ticket flow
//   - Processing ticket N
//   - Rate limit state updates (healthy)
//   - Directory creation
//
// Info: run milestones
//   - Export directory created, partition start/finish
//   - Successful verification count
//   - Export summary
//
// Warn: a ticket was skipped or delayed
//   - Rate-limited attempts and their backoff
//   - Ticket not found or missing required fields
//   - Rate limit nearly exhausted
//
// Error: a ticket or partition produced nothing
//   - Fetch failures, retry exhaustion, write failures
//   - Partition failures with their id range
//   - No files exported
//
// Context Fields:
//   - component: emitting package
//   - partition, first_id, last_id: partition identity
//   - ticket_id: ticket being processed
//   - attempt, backoff: retry progress
//   - status_code, error_class: HTTP outcome
//   - path, dir: filesystem targets
//   - remaining, reset_at: rate limit budget
