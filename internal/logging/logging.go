// Package logging builds the process zerolog.Logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and destination.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // json or console
	Output string // stdout, stderr, or a file path
}

// New returns a timestamped logger and a closer for file outputs.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = l
	}

	var out io.Writer
	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	return NewWithWriter(out, cfg.Format, level), closer, nil
}

// NewWithWriter builds a logger on w.
func NewWithWriter(w io.Writer, format string, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
