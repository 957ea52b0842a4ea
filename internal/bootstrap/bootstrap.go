// Package bootstrap wires together encab's process-wide startup:
// config resolution, logger and extension setup, privilege drop, the
// signal handler, and the final exit code mapping.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/LK4D4/joincontext"
	"github.com/coreos/go-systemd/daemon"
	"github.com/hashicorp/go-hclog"

	"github.com/sebastian-kuebeck/encab/internal/config"
	"github.com/sebastian-kuebeck/encab/internal/exitcodes"
	"github.com/sebastian-kuebeck/encab/internal/ext/logcollector"
	"github.com/sebastian-kuebeck/encab/internal/ext/sanitizer"
	"github.com/sebastian-kuebeck/encab/internal/ext/startupscript"
	"github.com/sebastian-kuebeck/encab/internal/ext/validation"
	"github.com/sebastian-kuebeck/encab/internal/extbus"
	"github.com/sebastian-kuebeck/encab/internal/logging"
	"github.com/sebastian-kuebeck/encab/internal/orchestrator"
	"github.com/sebastian-kuebeck/encab/internal/program"
)

// defaultConfigPaths is checked in order once neither an explicit path
// nor $ENCAB_CONFIG is given: the first one that exists wins.
var defaultConfigPaths = []string{
	"./encab.yml",
	"./encab.yaml",
	"/etc/encab.yml",
	"/etc/encab.yaml",
}

// ResolveConfigPath applies the precedence spec.md §6 describes: an
// explicit path argument wins, then $ENCAB_CONFIG, then the first of
// defaultConfigPaths that exists. If none exist, the first default
// path is returned so the caller's open attempt produces a sensible
// "no such file" error naming it.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("ENCAB_CONFIG"); env != "" {
		return env
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return defaultConfigPaths[0]
}

// DryRunOverride reports whether $ENCAB_DRY_RUN forces dry-run mode on
// or off, and whether the variable was set at all.
func DryRunOverride() (value bool, set bool) {
	raw, ok := os.LookupEnv("ENCAB_DRY_RUN")
	if !ok {
		return false, false
	}
	switch raw {
	case "1":
		return true, true
	case "0":
		return false, true
	default:
		return false, false
	}
}

// LoadConfig opens path and parses it, resolving currentUID against
// the real process uid for reap_zombies / user-switch validation.
func LoadConfig(path string, currentUID int) (*config.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: cannot open config %s: %w", path, err)
	}
	defer f.Close()
	return config.Load(f, currentUID)
}

// Registry is the fixed set of built-in extensions, in the order their
// hooks run: validation first, then sanitizer (masks secrets in
// program output lines), then startupscript (extends the environment),
// and logcollector last.
func Registry(logger hclog.Logger) []extbus.Extension {
	return []extbus.Extension{
		validation.New(logger.Named("validation")),
		sanitizer.New(logger.Named("sanitizer")),
		startupscript.New(logger.Named("startupscript")),
		logcollector.New(logger.Named("logcollector")),
	}
}

// SetUpLogger builds the root logger from the encab config.
func SetUpLogger(cfg *config.EncabConfig, w io.Writer) hclog.Logger {
	level := "INFO"
	if cfg.LogLevel != nil {
		level = *cfg.LogLevel
	}
	return logging.New("encab", level, w)
}

// SetUpExtensions registers the built-in extensions on bus and, in
// dry-run mode, validates every configured extension's settings
// instead of applying them. An enabled extension whose name matches no
// built-in, and any settings failure, is reported as a configuration
// error.
func SetUpExtensions(bus *extbus.Bus, extensions []extbus.Extension, cfg *config.Config, dryRun bool) error {
	registered := map[string]bool{}
	for _, ext := range extensions {
		bus.Register(ext)
		registered[ext.Name()] = true
	}

	settings := map[string]map[string]interface{}{}
	for name, ext := range cfg.Extensions {
		if ext.Enabled != nil && !*ext.Enabled {
			continue
		}
		if !registered[name] {
			return config.NewError("unknown extension %s", name)
		}
		settings[name] = ext.Settings
	}

	var err error
	if dryRun {
		err = bus.ValidateAll(settings)
	} else {
		err = bus.ConfigureAll(settings)
	}
	if err != nil {
		return config.NewError("extension settings: %s", err)
	}
	return nil
}

// ApplyProcessCredentials sets encab's own uid/gid/umask before
// spawning any program, in this order: group id, then user id, then
// umask. Supplementary groups are left unchanged.
func ApplyProcessCredentials(cfg *config.EncabConfig) error {
	if cfg.Group != nil {
		if err := cfg.Group.ResolveGroup(); err != nil {
			return err
		}
		if err := syscall.Setgid(cfg.Group.ID); err != nil {
			return fmt.Errorf("bootstrap: setgid: %w", err)
		}
	}
	if cfg.User != nil {
		if err := cfg.User.ResolveUser(); err != nil {
			return err
		}
		if err := syscall.Setuid(cfg.User.ID); err != nil {
			return fmt.Errorf("bootstrap: setuid: %w", err)
		}
	}
	if cfg.Umask != nil && cfg.Umask.Value >= 0 {
		syscall.Umask(cfg.Umask.Value)
	}
	return nil
}

// Signals installs SIGINT/SIGTERM handling over orchestrator o: SIGINT
// triggers Interrupt (cancel), SIGTERM triggers Terminate (graceful
// stop), each exactly once — a second signal of either kind is left
// for the default handler so an unresponsive shutdown can still be
// killed from the terminal.
func Signals(ctx context.Context, o *orchestrator.Orchestrator, logger hclog.Logger) (context.Context, context.CancelFunc) {
	sigCtx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			signal.Stop(sigCh)
			switch sig {
			case syscall.SIGINT:
				logger.Info("received SIGINT, canceling")
				o.Interrupt()
			case syscall.SIGTERM:
				logger.Info("received SIGTERM, terminating")
				o.Terminate()
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	joined, joinCancel := joincontext.Join(ctx, sigCtx)
	return joined, func() { joinCancel(); cancel() }
}

// NotifyReady sends a systemd sd_notify READY=1, a no-op outside a
// systemd unit.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// ExitCodeForError maps an error from the bootstrap sequence itself
// (as opposed to the main program's own exit code) onto a sysexits.h
// code, mirroring encab.py's top-level exception handling.
func ExitCodeForError(err error) int {
	switch {
	case err == nil:
		return exitcodes.OK
	case config.IsConfigError(err):
		return exitcodes.ConfigError
	case errors.Is(err, syscall.EPERM):
		return exitcodes.InsufficientPermissions
	default:
		return exitcodes.IOError
	}
}

// BuildRootContext constructs the root ExecutionContext encab's main
// program and every helper extend from: the process's own environment
// overlaid with the config's declared environment.
func BuildRootContext(cfg *config.EncabConfig, bus *extbus.Bus) *program.ExecutionContext {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range cfg.Environment {
		env[k] = v
	}
	return program.NewExecutionContext(env, bus)
}
