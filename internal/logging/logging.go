// Package logging sets up encab's root hclog logger and derives the
// per-program child loggers the rest of the system uses.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// ProgramField is the structured field name every per-program log line
// carries, the Go equivalent of the Python LogRecord's "program" extra.
const ProgramField = "program"

// New builds the root logger from a loglevel name ("DEBUG", "INFO",
// "WARN", "ERROR") and a name used as the logger's top-level name.
func New(name string, level string, w io.Writer) hclog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           parseLevel(level),
		Output:          w,
		IncludeLocation: false,
	})
}

func parseLevel(level string) hclog.Level {
	switch strings.ToUpper(level) {
	case "CRITICAL", "FATAL":
		return hclog.Error
	case "ERROR":
		return hclog.Error
	case "WARN", "WARNING":
		return hclog.Warn
	case "INFO":
		return hclog.Info
	case "DEBUG":
		return hclog.Debug
	default:
		return hclog.Info
	}
}

// ForProgram returns a named child logger carrying the program field,
// mirroring logging.LoggerAdapter(logger, {"program": name}) in the
// original implementation.
func ForProgram(root hclog.Logger, program string) hclog.Logger {
	return root.Named(program).With(ProgramField, program)
}

// SetLevel adjusts a logger's level at runtime; used when a program's
// own loglevel overrides the root default.
func SetLevel(logger hclog.Logger, level string) {
	logger.SetLevel(parseLevel(level))
}
