// Package extbus is encab's extension hook bus: a fixed, closed set of
// lifecycle hooks fanned out to registered extensions in registration
// order. Unlike the Python implementation's pluggy-based dynamic
// plugin discovery, extensions here are a static Go interface
// registered at startup — spec.md's own design notes sanction this,
// since encab ships a fixed extension set rather than loading
// arbitrary third-party plugins at runtime.
package extbus

import (
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Extension is the interface every built-in extension implements.
// Hooks are called best-effort: an error from one extension is
// collected and logged, never aborting the remaining extensions or
// the caller.
type Extension interface {
	// Name identifies the extension in logs and config.
	Name() string

	// ValidateExtension is called in dry-run mode instead of
	// ConfigureExtension, checking settings without taking effect.
	ValidateExtension(settings map[string]interface{}) error

	// ConfigureExtension applies settings, run once at startup.
	ConfigureExtension(settings map[string]interface{}) error

	// ExtendEnvironment lets an extension add or rewrite variables in
	// a program's environment before it starts.
	ExtendEnvironment(program string, env map[string]string) error

	// UpdateLogger lets an extension wrap or replace a program's
	// logger.
	UpdateLogger(program string, logger hclog.Logger) hclog.Logger

	// ProgramsEnded is called once after every program has reached a
	// terminal state, e.g. to flush buffered resources.
	ProgramsEnded()
}

// LineFilter is an optional capability an Extension can implement to
// rewrite a program's output lines before they reach the logger, e.g.
// to mask secrets. hclog has no sink-level filtering hook, so this is
// checked for with a type assertion and applied at the log pump
// instead of through UpdateLogger.
type LineFilter interface {
	FilterLine(program, line string) string
}

// Bus fans hook calls out to every registered Extension, in
// registration order.
type Bus struct {
	logger     hclog.Logger
	extensions []Extension
}

// New returns an empty Bus.
func New(logger hclog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Register appends ext to the dispatch list.
func (b *Bus) Register(ext Extension) {
	b.extensions = append(b.extensions, ext)
}

// Registered returns the extensions in registration order.
func (b *Bus) Registered() []Extension {
	return b.extensions
}

// ValidateAll calls ValidateExtension on every extension whose name
// has a settings entry, collecting all errors.
func (b *Bus) ValidateAll(settings map[string]map[string]interface{}) error {
	var result *multierror.Error
	for _, ext := range b.extensions {
		s, ok := settings[ext.Name()]
		if !ok {
			continue
		}
		if err := ext.ValidateExtension(s); err != nil {
			result = multierror.Append(result, err)
			b.logger.Error("extension validation failed", "extension", ext.Name(), "error", err)
		}
	}
	return result.ErrorOrNil()
}

// ConfigureAll calls ConfigureExtension on every extension whose name
// has a settings entry, best-effort: errors are logged and collected
// but never stop later extensions from running.
func (b *Bus) ConfigureAll(settings map[string]map[string]interface{}) error {
	var result *multierror.Error
	for _, ext := range b.extensions {
		s, ok := settings[ext.Name()]
		if !ok {
			continue
		}
		if err := ext.ConfigureExtension(s); err != nil {
			result = multierror.Append(result, err)
			b.logger.Error("extension configuration failed", "extension", ext.Name(), "error", err)
		}
	}
	return result.ErrorOrNil()
}

// ExtendEnvironment runs every extension's ExtendEnvironment hook over
// env in registration order, each seeing the previous extension's
// changes.
func (b *Bus) ExtendEnvironment(program string, env map[string]string) {
	for _, ext := range b.extensions {
		if err := ext.ExtendEnvironment(program, env); err != nil {
			b.logger.Warn("extend_environment hook failed", "extension", ext.Name(), "program", program, "error", err)
		}
	}
}

// UpdateLogger threads logger through every extension's UpdateLogger
// hook, each wrapping the previous result.
func (b *Bus) UpdateLogger(program string, logger hclog.Logger) hclog.Logger {
	for _, ext := range b.extensions {
		logger = ext.UpdateLogger(program, logger)
	}
	return logger
}

// FilterLine runs line through every registered extension that
// implements LineFilter, in registration order, each seeing the
// previous one's rewrite.
func (b *Bus) FilterLine(program, line string) string {
	for _, ext := range b.extensions {
		if f, ok := ext.(LineFilter); ok {
			line = f.FilterLine(program, line)
		}
	}
	return line
}

// ProgramsEnded notifies every extension that all programs have
// reached a terminal state.
func (b *Bus) ProgramsEnded() {
	for _, ext := range b.extensions {
		ext.ProgramsEnded()
	}
}
