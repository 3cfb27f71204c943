// Package logging builds the zerolog loggers shared by the CLI, the store and
// the backfill runner. Everything goes to stderr so stdout stays reserved for
// the run summary.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Formats accepted by Config.Format
const (
	FormatAuto    = ""
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config selects level, format and an optional log file
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// New returns a logger and a close func for the log file (a no-op when none was opened).
// Level parse errors fall back to info. With no explicit format, a terminal
// gets the console writer and anything else gets JSON lines.
func New(cfg Config) (zerolog.Logger, func() error, error) {
	return newWithOutput(cfg, os.Stderr, isTerminal(os.Stderr))
}

func newWithOutput(cfg Config, out io.Writer, tty bool) (zerolog.Logger, func() error, error) {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var console io.Writer
	switch cfg.Format {
	case FormatConsole:
		console = consoleWriter(out)
	case FormatJSON:
		console = out
	case FormatAuto:
		console = out
		if tty {
			console = consoleWriter(out)
		}
	default:
		return zerolog.Nop(), nil, fmt.Errorf("unknown log format %q (want console or json)", cfg.Format)
	}

	writers := []io.Writer{console}
	closer := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f.Close
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return logger, closer, nil
}

// Component returns a child logger tagged with the component name
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
