// Package sanitizer implements encab's built-in log sanitizer
// extension: it masks the value half of any "NAME=VALUE"-looking log
// line whose NAME matches a sensitive glob pattern, so secrets passed
// through a program's environment don't end up echoed in its output.
package sanitizer

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// DefaultPatterns are the glob patterns matched against a detected
// NAME, case-insensitively, when no override is configured.
var DefaultPatterns = []string{"*KEY*", "*SECRET*", "*PASSWORD*", "*PWD*"}

var assignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// Settings is the `extensions: sanitizer: settings:` payload.
type Settings struct {
	Patterns []string
	Override bool
}

// Extension is the built-in log sanitizing extension.
type Extension struct {
	logger   hclog.Logger
	patterns []string
}

// New returns an Extension using DefaultPatterns until configured.
func New(logger hclog.Logger) *Extension {
	return &Extension{logger: logger, patterns: DefaultPatterns}
}

func (e *Extension) Name() string { return "sanitizer" }

func (e *Extension) ValidateExtension(settings map[string]interface{}) error {
	_, err := parseSettings(settings)
	return err
}

func (e *Extension) ConfigureExtension(settings map[string]interface{}) error {
	s, err := parseSettings(settings)
	if err != nil {
		return err
	}
	if s.Override {
		e.patterns = s.Patterns
	} else {
		e.patterns = append(append([]string{}, DefaultPatterns...), s.Patterns...)
	}
	return nil
}

func parseSettings(raw map[string]interface{}) (Settings, error) {
	var s Settings
	if v, ok := raw["patterns"]; ok {
		list, ok := v.([]interface{})
		if !ok {
			return s, newSettingsError("patterns must be a list of strings")
		}
		for _, item := range list {
			str, ok := item.(string)
			if !ok {
				return s, newSettingsError("patterns must be a list of strings")
			}
			s.Patterns = append(s.Patterns, str)
		}
	}
	if v, ok := raw["override"]; ok {
		b, ok := v.(bool)
		if !ok {
			return s, newSettingsError("override must be a boolean")
		}
		s.Override = b
	}
	return s, nil
}

func newSettingsError(msg string) error { return &settingsError{msg} }

type settingsError struct{ msg string }

func (e *settingsError) Error() string { return "sanitizer: " + e.msg }

func (e *Extension) ExtendEnvironment(program string, env map[string]string) error { return nil }

// UpdateLogger returns logger unchanged: hclog has no hook for
// intercepting emitted lines, so sanitization instead happens at
// emission time via FilterLine, called from the log pump before a line
// reaches the logger.
func (e *Extension) UpdateLogger(program string, logger hclog.Logger) hclog.Logger {
	return logger
}

// FilterLine implements extbus.LineFilter, masking secrets in a
// program's output line before it's logged.
func (e *Extension) FilterLine(program, line string) string {
	return e.Sanitize(line)
}

func (e *Extension) ProgramsEnded() {}

// Sanitize masks the value of line if it looks like a NAME=VALUE
// assignment whose NAME matches one of the extension's patterns.
func (e *Extension) Sanitize(line string) string {
	m := assignment.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	name, value := m[1], m[2]
	for _, pattern := range e.patterns {
		if matched, _ := filepath.Match(strings.ToUpper(pattern), strings.ToUpper(name)); matched {
			return name + "=" + strings.Repeat("*", len(value))
		}
	}
	return line
}
