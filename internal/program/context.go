package program

import "github.com/sebastian-kuebeck/encab/internal/extbus"

// ExecutionContext carries the environment a program executes in. It
// is copy-on-write: Extend/Spawn always deep-copy the environment
// before overlaying changes, so siblings never observe each other's
// environment mutations.
type ExecutionContext struct {
	Environment map[string]string
	Bus         *extbus.Bus
}

// NewExecutionContext returns a root context seeded from env (which is
// copied, never aliased).
func NewExecutionContext(env map[string]string, bus *extbus.Bus) *ExecutionContext {
	return &ExecutionContext{Environment: cloneEnv(env), Bus: bus}
}

// Finalize runs every registered extension's ExtendEnvironment hook
// against c's own environment, in place, rather than a clone. It must
// be called once on the root context, before any program-specific
// Extend, so a one-shot hook like the startup script extension's
// loadenv/buildenv merge lands in the environment every program
// (not just whichever is extended first) inherits.
func (c *ExecutionContext) Finalize(program string) {
	if c.Bus != nil {
		c.Bus.ExtendEnvironment(program, c.Environment)
	}
}

// Extend returns a new context whose environment is a copy of c's,
// overlaid with overlay, then passed through every registered
// extension's ExtendEnvironment hook.
func (c *ExecutionContext) Extend(program string, overlay map[string]string) *ExecutionContext {
	env := cloneEnv(c.Environment)
	for k, v := range overlay {
		env[k] = v
	}
	if c.Bus != nil {
		c.Bus.ExtendEnvironment(program, env)
	}
	return &ExecutionContext{Environment: env, Bus: c.Bus}
}

// Spawn is an alias for Extend with no overlay, used when a helper
// inherits the root environment unchanged aside from extension
// rewrites.
func (c *ExecutionContext) Spawn(program string) *ExecutionContext {
	return c.Extend(program, nil)
}

// Environ returns the environment as a NAME=VALUE slice, the form
// os/exec.Cmd.Env expects.
func (c *ExecutionContext) Environ() []string {
	out := make([]string, 0, len(c.Environment))
	for k, v := range c.Environment {
		out = append(out, k+"="+v)
	}
	return out
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
