// Package orchestrator builds and runs the full set of supervised
// programs from configuration: the main program plus its helpers,
// started in declaration order and, on shutdown, stopped in reverse.
package orchestrator

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sebastian-kuebeck/encab/internal/config"
	"github.com/sebastian-kuebeck/encab/internal/exitcodes"
	"github.com/sebastian-kuebeck/encab/internal/extbus"
	"github.com/sebastian-kuebeck/encab/internal/process"
	"github.com/sebastian-kuebeck/encab/internal/program"
	"github.com/sebastian-kuebeck/encab/internal/state"
)

// Orchestrator owns the main program and its helpers, and drives their
// combined lifecycle.
type Orchestrator struct {
	logger hclog.Logger
	bus    *extbus.Bus
	reaper *process.Reaper

	Main    *program.Program
	Helpers []*program.Program

	exitCode int
}

// New resolves cfg into an Orchestrator ready to Run, applying the CLI
// argv override to the main program and the encab defaults to every
// program. When
// reapZombies is set on the main program's config, Orchestrator owns a
// single subreaper shared by every program it builds, so all of them
// wait through it instead of racing separate wait4 calls — the
// container-init role spec.md §1 describes.
func New(cfg *config.Config, argvOverride []string, root *program.ExecutionContext, logger hclog.Logger, bus *extbus.Bus) (*Orchestrator, error) {
	mainName, mainCfg, helperNames, err := resolveProgramSet(cfg, argvOverride)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{logger: logger, bus: bus}
	if mainCfg.ReapZombies != nil && *mainCfg.ReapZombies {
		o.reaper = process.NewReaper()
	}

	mainCtx := root.Extend(mainName, mainCfg.Environment)
	o.Main = program.New(programConfig(mainName, mainCfg), mainCtx, logger, o.reaper)

	for _, name := range helperNames {
		helperCfg := cfg.Programs[name]
		helperCfg.Extend(cfg.Encab)
		helperCtx := root.Extend(name, helperCfg.Environment)
		o.Helpers = append(o.Helpers, program.New(programConfig(name, helperCfg), helperCtx, logger, o.reaper))
	}

	return o, nil
}

// resolveProgramSet picks the main program (either the config's "main"
// entry or one synthesized from a CLI argv override) and the ordered
// list of helper names, applying encab defaults to the main config.
func resolveProgramSet(cfg *config.Config, argvOverride []string) (string, *config.ProgramConfig, []string, error) {
	var mainCfg *config.ProgramConfig
	if existing, ok := cfg.Programs["main"]; ok {
		mainCfg = existing
	}

	if len(argvOverride) > 0 {
		if mainCfg == nil {
			mainCfg = &config.ProgramConfig{}
			mainCfg.MarkAllUnset()
		}
		mainCfg.Command = &config.CommandValue{Argv: argvOverride}
	}

	if mainCfg == nil {
		return "", nil, nil, config.NewError("no main program declared and no command given on the command line")
	}
	mainCfg.Extend(cfg.Encab)

	var helpers []string
	for _, name := range cfg.ProgramOrder {
		if name != "main" {
			helpers = append(helpers, name)
		}
	}
	return "main", mainCfg, helpers, nil
}

func programConfig(name string, cfg *config.ProgramConfig) program.Config {
	var uid, gid *int
	if cfg.User != nil {
		id := cfg.User.ID
		uid = &id
	}
	if cfg.Group != nil {
		id := cfg.Group.ID
		gid = &id
	}
	umask := -1
	if cfg.Umask != nil {
		umask = cfg.Umask.Value
	}
	var argv []string
	if cfg.Command != nil {
		argv = cfg.Command.Argv
	} else if cfg.Sh != nil {
		argv = []string{"/bin/sh", "-c", *cfg.Sh}
	}
	directory := ""
	if cfg.Directory != nil {
		directory = *cfg.Directory
	}
	logLevel := ""
	if cfg.LogLevel != nil {
		logLevel = *cfg.LogLevel
	}
	startupDelay := time.Duration(0)
	if cfg.StartupDelay != nil {
		startupDelay = time.Duration(*cfg.StartupDelay * float64(time.Second))
	}
	joinTime := time.Second
	if cfg.JoinTime != nil {
		joinTime = time.Duration(*cfg.JoinTime * float64(time.Second))
	}
	reapZombies := cfg.ReapZombies != nil && *cfg.ReapZombies

	return program.Config{
		Name:         name,
		Argv:         argv,
		Directory:    directory,
		UID:          uid,
		GID:          gid,
		Umask:        umask,
		ReapZombies:  reapZombies,
		StartupDelay: startupDelay,
		JoinTime:     joinTime,
		LogLevel:     logLevel,
	}
}

// Run starts every helper, then the main program, blocking until the
// main program finishes; it then stops every helper in reverse order
// and notifies the extension bus that all programs have ended.
func (o *Orchestrator) Run() {
	if o.reaper != nil {
		if err := o.reaper.Start(); err != nil {
			o.logger.Warn("failed to become a subreaper; orphaned grandchildren may go unreaped", "error", err)
		}
		defer o.reaper.Stop()
	}

	o.startHelpers()

	go o.Main.Start()
	if mainErr := o.Main.Join(); mainErr != nil {
		o.logger.Info("main program ended", "error", mainErr)
	}

	o.stopHelpers()

	if o.bus != nil {
		o.bus.ProgramsEnded()
	}

	o.exitCode = exitCodeFor(o.Main)
}

// startHelpers launches every helper and waits, bounded by its own
// join_time, for it to reach RUNNING before starting the next one —
// a helper stuck past its join_time is logged and left running rather
// than blocking the rest of the program set forever.
func (o *Orchestrator) startHelpers() {
	for _, h := range o.Helpers {
		go h.Start()
		if !h.Machine.WaitForStartupTimeout(h.JoinTime()) {
			o.logger.Warn("helper did not reach RUNNING within join_time", "program", h.String())
		}
	}
}

// stopHelpers terminates every helper in reverse start order, then
// waits for each of them, bounded by its own join_time, to reach a
// terminal state; a helper still running after that is logged and left.
func (o *Orchestrator) stopHelpers() {
	for i := len(o.Helpers) - 1; i >= 0; i-- {
		if err := o.Helpers[i].Terminate(); err != nil {
			o.logger.Warn("failed to terminate helper", "error", err)
		}
	}
	for _, h := range o.Helpers {
		if reached, _ := h.JoinWait(h.JoinTime()); !reached {
			o.logger.Warn("helper did not stop within join_time", "program", h.String())
		}
	}
}

// Interrupt cancels the main program and every helper, in reverse
// order, in response to SIGINT.
func (o *Orchestrator) Interrupt() {
	if o.Main != nil {
		o.Main.Interrupt()
	}
	for i := len(o.Helpers) - 1; i >= 0; i-- {
		o.Helpers[i].Interrupt()
	}
}

// Terminate asks the main program and every helper to stop, in
// reverse order, in response to SIGTERM.
func (o *Orchestrator) Terminate() {
	if o.Main != nil {
		o.Main.Terminate()
	}
	for i := len(o.Helpers) - 1; i >= 0; i-- {
		o.Helpers[i].Terminate()
	}
}

// ExitCode returns the process exit code derived from the main
// program's outcome, valid only after Run has returned.
func (o *Orchestrator) ExitCode() int {
	return o.exitCode
}

// exitCodeFor derives the process exit code from main's final state:
// 0 on SUCCEEDED, 0 after a clean SIGINT/SIGTERM-driven cancellation
// or stop (spec.md §6), otherwise main's own observed exit code, and
// only as a last resort — main crashed before ever being reaped —
// exitcodes.UnknownRC.
func exitCodeFor(main *program.Program) int {
	switch main.Machine.Get() {
	case state.Canceled:
		return exitcodes.Interrupted
	case state.Stopped:
		return exitcodes.Terminated
	default:
		if code, ok := main.ExitCode(); ok {
			return code
		}
		return exitcodes.UnknownRC
	}
}
