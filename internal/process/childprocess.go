// Package process wraps OS process execution: spawning a child with
// the right credentials and umask, pumping its output into the
// logger, and reaping it (and any adopted zombies) on exit.
package process

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spec describes how to launch a child process.
type Spec struct {
	Argv        []string
	Environment []string
	Directory   string
	UID         *int
	GID         *int
	Umask       int // -1 means inherit
	ReapZombies bool
}

// ChildProcess wraps a running os/exec.Cmd, exposing the signal and
// wait operations Program needs without leaking exec.Cmd details.
type ChildProcess struct {
	spec   Spec
	cmd    *exec.Cmd
	reaper *Reaper

	mu       sync.Mutex
	exitCode int
	waited   bool
}

// New prepares (but does not start) a child process from spec. reaper
// may be nil, in which case the process waits for its own child
// directly instead of through the shared subreaper.
func New(spec Spec, reaper *Reaper) *ChildProcess {
	return &ChildProcess{spec: spec, reaper: reaper}
}

// Start execs the child, wiring stdout/stderr to pipes the caller can
// attach LogPumps to. onStarted is invoked with the live pid once the
// fork succeeds, before Start returns.
func (c *ChildProcess) Start(onStarted func(pid int)) (stdout, stderr io.ReadCloser, err error) {
	if len(c.spec.Argv) == 0 {
		return nil, nil, fmt.Errorf("process: empty argv")
	}

	cmd := exec.Command(c.spec.Argv[0], c.spec.Argv[1:]...)
	cmd.Env = c.spec.Environment
	cmd.Dir = c.spec.Directory
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if c.spec.UID != nil || c.spec.GID != nil {
		cred := &syscall.Credential{}
		if c.spec.UID != nil {
			cred.Uid = uint32(*c.spec.UID)
		}
		if c.spec.GID != nil {
			cred.Gid = uint32(*c.spec.GID)
		}
		cmd.SysProcAttr.Credential = cred
	}

	stdout, err = cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err = cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}

	var restoreUmask func()
	if c.spec.Umask >= 0 {
		old := unix.Umask(c.spec.Umask)
		restoreUmask = func() { unix.Umask(old) }
	}

	if err := cmd.Start(); err != nil {
		if restoreUmask != nil {
			restoreUmask()
		}
		return nil, nil, err
	}
	if restoreUmask != nil {
		restoreUmask()
	}

	c.cmd = cmd
	if onStarted != nil {
		onStarted(cmd.Process.Pid)
	}
	return stdout, stderr, nil
}

// Pid returns the child's process id, or 0 if it hasn't started.
func (c *ChildProcess) Pid() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Signal sends sig to the child's process group.
func (c *ChildProcess) Signal(sig int) error {
	if c.cmd == nil || c.cmd.Process == nil {
		return fmt.Errorf("process: not started")
	}
	return syscall.Kill(-c.cmd.Process.Pid, syscall.Signal(sig))
}

// Terminate sends SIGTERM.
func (c *ChildProcess) Terminate() error { return c.Signal(int(syscall.SIGTERM)) }

// Kill sends SIGKILL.
func (c *ChildProcess) Kill() error { return c.Signal(int(syscall.SIGKILL)) }

// Wait blocks until the child exits and returns its exit code (or
// exitcodes.NoChild-compatible 71 if it was never observed to exit
// because ECHILD fired first). When a Reaper is wired, the wait goes
// through it instead of calling wait4 directly, so a single subreaper
// owns wait4(-1, ...) for the whole tree and adopted orphans (when
// spec.ReapZombies is set on the program that should act as
// container-init) are reaped without racing this call.
func (c *ChildProcess) Wait() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waited {
		return c.exitCode, nil
	}

	if c.reaper != nil {
		code := c.reaper.Wait(c.cmd.Process.Pid)
		// The reaper already consumed this pid's wait4 status; cmd.Wait
		// is still called to release cmd's internal goroutines and
		// pipes. It's expected to return a "no child processes" error.
		_ = c.cmd.Wait()
		c.exitCode = code
		c.waited = true
		return code, nil
	}

	if !c.spec.ReapZombies {
		err := c.cmd.Wait()
		code := exitCodeFromError(err)
		c.exitCode = code
		c.waited = true
		return code, nil
	}

	code, err := c.waitAndReapZombies()
	c.exitCode = code
	c.waited = true
	return code, err
}

// waitAndReapZombies waits for the direct child via wait4 on the
// whole process group (-pid), reaping any zombie descendants it has
// become the subreaper for, until the target pid itself is reported.
func (c *ChildProcess) waitAndReapZombies() (int, error) {
	pid := c.cmd.Process.Pid
	var status unix.WaitStatus

	for {
		wpid, err := unix.Wait4(-pid, &status, 0, nil)
		if err == unix.ECHILD {
			return 71, fmt.Errorf("process: no child processes left to reap")
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 71, err
		}
		if wpid == pid {
			return waitStatusExitCode(status), nil
		}
		// an adopted zombie, reaped and ignored
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return waitStatusExitCode(status)
		}
	}
	return 71
}

func waitStatusExitCode(status unix.WaitStatus) int {
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	default:
		return 71
	}
}

// SetChildSubreaper marks the calling process as a subreaper so
// orphaned grandchildren are reparented to it instead of pid 1,
// letting a Reaper actually observe their exit.
func SetChildSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}
