// Package logging configures the process-wide slog logger for vitrine
// binaries. Logs go to stderr so stdout stays reserved for command
// output and test reports.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Format selects the log output encoding.
type Format string

const (
	// FormatText produces human-readable key=value output.
	FormatText Format = "text"
	// FormatJSON produces structured, machine-readable output.
	FormatJSON Format = "json"
)

// Options configures the logger behavior.
type Options struct {
	// Level sets the minimum log level. Defaults to slog.LevelInfo.
	Level slog.Leveler

	// Format selects text or JSON output. Defaults to FormatText.
	Format Format
}

// DefaultOptions returns the default logging options.
func DefaultOptions() Options {
	return Options{
		Level:  slog.LevelInfo,
		Format: FormatText,
	}
}

// Setup builds a logger from the given options and installs it as the
// slog default. It must be called early in main(), before any logging.
func Setup(opts Options) *slog.Logger {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	switch opts.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: opts.Level,
		})
	default:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: opts.Level,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a --log-level flag value into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", s)
	}
}

// ParseFormat converts a --log-format flag value into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q (expected text or json)", s)
	}
}
