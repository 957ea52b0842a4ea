// Package startupscript implements encab's built-in startup script
// extension: it can load a dotenv file, run a build script whose
// stdout is parsed as further dotenv output, and run an inline shell
// snippet, each contributing to the root environment before any
// program starts.
package startupscript

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Settings is the `extensions: startupscript: settings:` payload.
type Settings struct {
	LoadEnv string   // path to a dotenv file to merge in
	BuildEnv []string // argv of a script whose stdout is parsed as dotenv
	Sh       []string // shell lines executed for side effects only
}

// Extension is the built-in startup script extension.
type Extension struct {
	logger   hclog.Logger
	settings Settings
	executed bool
}

// New returns an unconfigured startup script Extension.
func New(logger hclog.Logger) *Extension {
	return &Extension{logger: logger}
}

func (e *Extension) Name() string { return "startupscript" }

func (e *Extension) ValidateExtension(settings map[string]interface{}) error {
	_, err := parseSettings(settings)
	return err
}

func (e *Extension) ConfigureExtension(settings map[string]interface{}) error {
	s, err := parseSettings(settings)
	if err != nil {
		return err
	}
	e.settings = s
	return nil
}

// ExtendEnvironment runs loadenv, then buildenv, then sh, in that
// order, each able to see variables set by the previous step. It only
// ever runs once: the caller must invoke it against the shared root
// environment (via ExecutionContext.Finalize) before any program-specific
// Extend, so these variables land in every program's inherited
// environment rather than just whichever program happens to extend first.
func (e *Extension) ExtendEnvironment(program string, env map[string]string) error {
	if e.executed {
		return nil
	}
	e.executed = true

	if e.settings.LoadEnv != "" {
		if err := e.loadEnv(env); err != nil {
			return err
		}
	}
	if len(e.settings.BuildEnv) > 0 {
		if err := e.buildEnv(env); err != nil {
			return err
		}
	}
	if len(e.settings.Sh) > 0 {
		if err := e.runSh(env); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extension) loadEnv(env map[string]string) error {
	f, err := os.Open(e.settings.LoadEnv)
	if err != nil {
		return fmt.Errorf("startupscript: loadenv: %w", err)
	}
	defer f.Close()
	return mergeDotenv(f, env)
}

func (e *Extension) buildEnv(env map[string]string) error {
	cmd := exec.Command(e.settings.BuildEnv[0], e.settings.BuildEnv[1:]...)
	cmd.Env = environToSlice(env)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("startupscript: buildenv: %w", err)
	}
	return mergeDotenv(&stdout, env)
}

func (e *Extension) runSh(env map[string]string) error {
	script := strings.Join(e.settings.Sh, "; ")
	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.Env = environToSlice(env)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("startupscript: sh: %w", err)
	}
	return nil
}

// mergeDotenv parses KEY=VALUE lines from r, skipping blanks and
// comments, and merges them into env.
func mergeDotenv(r io.Reader, env map[string]string) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), `"'`)
		env[key] = value
	}
	return scanner.Err()
}

func environToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func parseSettings(raw map[string]interface{}) (Settings, error) {
	var s Settings
	if v, ok := raw["loadenv"]; ok {
		str, ok := v.(string)
		if !ok {
			return s, fmt.Errorf("startupscript: loadenv must be a string path")
		}
		s.LoadEnv = str
	}
	if v, ok := raw["buildenv"]; ok {
		argv, err := toStringList(v, "buildenv")
		if err != nil {
			return s, err
		}
		s.BuildEnv = argv
	}
	if v, ok := raw["sh"]; ok {
		lines, err := toStringList(v, "sh")
		if err != nil {
			return s, err
		}
		s.Sh = lines
	}
	return s, nil
}

func toStringList(v interface{}, field string) ([]string, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("startupscript: %s must be a list of strings", field)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("startupscript: %s must be a list of strings", field)
		}
		out = append(out, str)
	}
	return out, nil
}

func (e *Extension) UpdateLogger(program string, logger hclog.Logger) hclog.Logger { return logger }

func (e *Extension) ProgramsEnded() {}
