// Package validation implements encab's built-in configuration
// validation extension: it gates startup on a minimum encab version
// declared in the config, the one check worth doing after the YAML
// schema itself has already been validated.
package validation

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	hcversion "github.com/hashicorp/go-version"
)

// Version is encab's own version, set by the linker at release build
// time. It defaults to the development placeholder 0.0.0-dev, which
// orders below every release, so an unversioned build fails any
// min_encab_version check.
var Version = "0.0.0-dev"

// Settings is the `extensions: validation: settings:` payload.
type Settings struct {
	MinEncabVersion string
}

// Extension is the built-in validation extension, registered
// unconditionally by bootstrap.
type Extension struct {
	logger hclog.Logger
}

// New returns an unconfigured validation Extension.
func New(logger hclog.Logger) *Extension {
	return &Extension{logger: logger}
}

func (e *Extension) Name() string { return "validation" }

func (e *Extension) ValidateExtension(settings map[string]interface{}) error {
	_, err := parseSettings(settings)
	return err
}

func (e *Extension) ConfigureExtension(settings map[string]interface{}) error {
	s, err := parseSettings(settings)
	if err != nil {
		return err
	}
	if s.MinEncabVersion == "" {
		return nil
	}
	return checkMinVersion(s.MinEncabVersion, Version)
}

func checkMinVersion(min, actual string) error {
	minV, err := hcversion.NewVersion(min)
	if err != nil {
		return fmt.Errorf("validation: invalid min_encab_version %q: %w", min, err)
	}
	actualV, err := hcversion.NewVersion(actual)
	if err != nil {
		return fmt.Errorf("validation: invalid encab version %q: %w", actual, err)
	}
	if actualV.LessThan(minV) {
		return fmt.Errorf("validation: encab %s is older than required minimum %s", actual, min)
	}
	return nil
}

func parseSettings(raw map[string]interface{}) (Settings, error) {
	var s Settings
	if v, ok := raw["min_encab_version"]; ok {
		str, ok := v.(string)
		if !ok {
			return s, fmt.Errorf("validation: min_encab_version must be a string")
		}
		s.MinEncabVersion = str
	}
	return s, nil
}

func (e *Extension) ExtendEnvironment(program string, env map[string]string) error { return nil }

func (e *Extension) UpdateLogger(program string, logger hclog.Logger) hclog.Logger { return logger }

func (e *Extension) ProgramsEnded() {}
