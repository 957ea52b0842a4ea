package program

import (
	"bytes"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sebastian-kuebeck/encab/internal/extbus"
)

func TestExecutionContextExtendIsCopyOnWrite(t *testing.T) {
	root := NewExecutionContext(map[string]string{"A": "1"}, nil)
	child := root.Extend("helper", map[string]string{"B": "2"})

	child.Environment["A"] = "changed"

	if root.Environment["A"] != "1" {
		t.Fatalf("expected root environment untouched, got %s", root.Environment["A"])
	}
	if child.Environment["B"] != "2" {
		t.Fatalf("expected overlay applied, got %+v", child.Environment)
	}
}

// onceExtension simulates a one-shot startup-script-style extension:
// it mutates env only the first time ExtendEnvironment is called.
type onceExtension struct{ ran bool }

func (e *onceExtension) Name() string { return "once" }
func (e *onceExtension) ValidateExtension(map[string]interface{}) error  { return nil }
func (e *onceExtension) ConfigureExtension(map[string]interface{}) error { return nil }
func (e *onceExtension) ExtendEnvironment(program string, env map[string]string) error {
	if e.ran {
		return nil
	}
	e.ran = true
	env["FROM_STARTUP_SCRIPT"] = "1"
	return nil
}
func (e *onceExtension) UpdateLogger(program string, logger hclog.Logger) hclog.Logger {
	return logger
}
func (e *onceExtension) ProgramsEnded() {}

func TestFinalizeAppliesOnceRunExtensionToEveryLaterExtend(t *testing.T) {
	bus := extbus.New(hclog.NewNullLogger())
	bus.Register(&onceExtension{})

	root := NewExecutionContext(map[string]string{"PATH": "/bin"}, bus)
	root.Finalize("root")

	main := root.Extend("main", nil)
	helper := root.Extend("helper", nil)

	if main.Environment["FROM_STARTUP_SCRIPT"] != "1" {
		t.Fatalf("expected main to inherit the finalized root environment, got %+v", main.Environment)
	}
	if helper.Environment["FROM_STARTUP_SCRIPT"] != "1" {
		t.Fatalf("expected helper to inherit the finalized root environment, got %+v", helper.Environment)
	}
}

func TestProgramRunsToSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Debug, Output: &buf})

	ctx := NewExecutionContext(map[string]string{"PATH": "/usr/bin:/bin"}, nil)
	p := New(Config{
		Name:     "main",
		Argv:     []string{"/bin/echo", "hello"},
		JoinTime: time.Second,
	}, ctx, logger, nil)

	p.Start()

	if err := p.Join(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestProgramRunsToFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Debug, Output: &buf})

	ctx := NewExecutionContext(map[string]string{"PATH": "/usr/bin:/bin"}, nil)
	p := New(Config{
		Name: "main",
		Argv: []string{"/bin/sh", "-c", "exit 3"},
	}, ctx, logger, nil)

	p.Start()

	if err := p.Join(); err == nil {
		t.Fatalf("expected failure error")
	}
	if code, ok := p.ExitCode(); !ok || code != 3 {
		t.Fatalf("expected observed exit code 3, got code=%d ok=%v", code, ok)
	}
}

func TestInterruptDuringStartupDelayCancelsPromptly(t *testing.T) {
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Warn})
	ctx := NewExecutionContext(map[string]string{"PATH": "/usr/bin:/bin"}, nil)
	p := New(Config{
		Name:         "main",
		Argv:         []string{"/bin/echo", "hello"},
		StartupDelay: time.Hour,
	}, ctx, logger, nil)

	done := make(chan struct{})
	go func() {
		p.Start()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := p.Interrupt(); err != nil {
		t.Fatalf("unexpected error from Interrupt: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("program did not cancel promptly after Interrupt")
	}
	if err := p.Join(); err == nil {
		t.Fatalf("expected canceled error")
	}
}

func TestTerminateSendsSigtermToRunningProgram(t *testing.T) {
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Warn})
	ctx := NewExecutionContext(map[string]string{"PATH": "/usr/bin:/bin"}, nil)
	p := New(Config{
		Name: "main",
		Argv: []string{"/bin/sh", "-c", "trap 'exit 0' TERM; sleep 5"},
	}, ctx, logger, nil)

	go p.Start()
	if !p.Machine.WaitForStartupTimeout(2 * time.Second) {
		t.Fatalf("program did not reach RUNNING in time")
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("unexpected error from Terminate: %v", err)
	}

	if reached, err := p.JoinWait(2 * time.Second); !reached {
		t.Fatalf("expected program to reach a terminal state after SIGTERM")
	} else if err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestTerminateOnNeverStartedProgramDoesNotPanic(t *testing.T) {
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Warn})
	ctx := NewExecutionContext(nil, nil)
	p := New(Config{Name: "helper", Argv: []string{"/bin/true"}}, ctx, logger, nil)

	if err := p.Terminate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Interrupt(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
