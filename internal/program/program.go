// Package program implements a single supervised program: the 7-step
// execution flow from wait-then-start through output pumping to
// terminal-state reporting (spec.md §4.4).
package program

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/sebastian-kuebeck/encab/internal/logging"
	"github.com/sebastian-kuebeck/encab/internal/process"
	"github.com/sebastian-kuebeck/encab/internal/state"
)

// Config is everything Program needs to launch its child, decoupled
// from the YAML config package so this package has no dependency on
// config parsing.
type Config struct {
	Name         string
	Argv         []string
	Directory    string
	UID          *int
	GID          *int
	Umask        int
	ReapZombies  bool
	StartupDelay time.Duration
	JoinTime     time.Duration
	LogLevel     string
}

// Program supervises one child process end to end: starting it after
// its configured delay, pumping its stdout/stderr into the logger,
// waiting for it to exit, and reporting the outcome through its state
// Machine.
type Program struct {
	cfg    Config
	ctx    *ExecutionContext
	logger hclog.Logger
	reaper *process.Reaper

	CorrelationID string
	Machine       *state.Machine
	child         *process.ChildProcess

	stdoutPump *process.LogPump
	stderrPump *process.LogPump

	mu          sync.Mutex
	exitCode    int
	hasExitCode bool
}

// New builds a Program ready to Start. reaper may be nil, in which
// case the program's child waits for itself directly instead of
// through a shared subreaper.
func New(cfg Config, ctx *ExecutionContext, root hclog.Logger, reaper *process.Reaper) *Program {
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = cfg.Name
	}
	logger := logging.ForProgram(root, cfg.Name).With("correlation_id", id)
	if cfg.LogLevel != "" {
		logging.SetLevel(logger, cfg.LogLevel)
	}
	if ctx.Bus != nil {
		logger = ctx.Bus.UpdateLogger(cfg.Name, logger)
	}
	return &Program{
		cfg:           cfg,
		ctx:           ctx,
		logger:        logger,
		reaper:        reaper,
		CorrelationID: id,
		Machine:       state.New(cfg.Name),
	}
}

// Start runs the program synchronously through its full lifecycle:
// wait, exec, pump logs, wait for exit, report outcome. Callers that
// want concurrent execution run it in its own goroutine, mirroring the
// Python implementation's dedicated thread per program.
func (p *Program) Start() {
	if canceled := p.Machine.Wait(p.cfg.StartupDelay); canceled {
		p.Machine.Set(state.Canceled)
		return
	}

	p.Machine.Set(state.Starting)

	spec := process.Spec{
		Argv:        p.cfg.Argv,
		Environment: p.ctx.Environ(),
		Directory:   p.cfg.Directory,
		UID:         p.cfg.UID,
		GID:         p.cfg.GID,
		Umask:       p.cfg.Umask,
		ReapZombies: p.cfg.ReapZombies,
	}
	p.child = process.New(spec, p.reaper)

	stdout, stderr, err := p.child.Start(func(pid int) {
		p.logger.Info("started", "pid", pid)
	})
	if err != nil {
		p.logger.Error("failed to start", "error", err)
		p.Machine.Set(state.Crashed)
		return
	}

	p.Machine.Set(state.Running)

	filter := p.filterLine
	p.stderrPump = process.NewLogPump(p.logger, hclog.Error, stderr, filter).Start()
	p.stdoutPump = process.NewLogPump(p.logger, hclog.Info, stdout, filter).Start()

	exitCode, waitErr := p.child.Wait()
	if waitErr != nil {
		p.logger.Warn("wait failed", "error", waitErr)
	}
	p.mu.Lock()
	p.exitCode = exitCode
	p.hasExitCode = true
	p.mu.Unlock()

	p.drainPumps()
	p.Machine.HandleExit(exitCode)
}

// filterLine runs line through the extension bus's registered
// LineFilters (e.g. the secret sanitizer) before it's logged.
func (p *Program) filterLine(line string) string {
	if p.ctx.Bus == nil {
		return line
	}
	return p.ctx.Bus.FilterLine(p.cfg.Name, line)
}

// JoinTime returns the program's configured join_time, the bound the
// orchestrator uses for both startup and shutdown waits.
func (p *Program) JoinTime() time.Duration {
	return p.cfg.JoinTime
}

// ExitCode returns the child's observed exit code and whether one was
// ever observed — false if the program never started or its process
// was never reaped.
func (p *Program) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.hasExitCode
}

// drainPumps waits a bounded time for both output pumps to reach EOF
// before the terminal state is reported, so trailing output isn't
// lost racing the exit log line.
func (p *Program) drainPumps() {
	const drainTimeout = 2 * time.Second
	if p.stdoutPump != nil {
		p.stdoutPump.WaitClose(drainTimeout)
	}
	if p.stderrPump != nil {
		p.stderrPump.WaitClose(drainTimeout)
	}
}

// Join blocks until the program reaches a terminal state.
func (p *Program) Join() error {
	return p.Machine.Join()
}

// JoinWait blocks until terminal or timeout, reporting which.
func (p *Program) JoinWait(timeout time.Duration) (bool, error) {
	return p.Machine.JoinWait(timeout)
}

// Interrupt cancels the program in response to SIGINT.
func (p *Program) Interrupt() error {
	return p.signal(syscall.SIGINT)
}

// Terminate asks the program to stop in response to SIGTERM, used
// during reverse-order helper shutdown.
func (p *Program) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

// signal drives the machine to the state its current state implies a
// kill should lead to (WAITING->CANCELING, STARTING/RUNNING->STOPPING)
// and, if a live child exists, sends it sig. SIGINT and SIGTERM both
// go through the same path — which state results depends only on
// where the program already was, never on which signal was sent. A
// program with no live child (not yet started, or already terminal)
// is moved via MarkKilled alone, which is a no-op on a terminal state,
// so a late signal to an already-crashed helper can't panic.
func (p *Program) signal(sig syscall.Signal) error {
	if p.child == nil || p.child.Pid() == 0 {
		p.Machine.MarkKilled()
		return nil
	}
	return p.Machine.Kill(p.child, int(sig))
}

func (p *Program) String() string {
	return fmt.Sprintf("Program(%s)", p.cfg.Name)
}
