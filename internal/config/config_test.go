package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
programs:
  main:
    command: "echo hello"
`), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Encab == nil || *cfg.Encab.LogLevel != "INFO" {
		t.Fatalf("expected default INFO log level, got %+v", cfg.Encab)
	}
	main, ok := cfg.Programs["main"]
	if !ok {
		t.Fatalf("expected main program")
	}
	if main.Command == nil || len(main.Command.Argv) != 2 {
		t.Fatalf("expected parsed argv, got %+v", main.Command)
	}
}

func TestProgramExtendsEncabDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
encab:
  loglevel: DEBUG
  environment:
    FOO: bar
programs:
  main:
    command: "true"
`), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	main := cfg.Programs["main"]
	main.Extend(cfg.Encab)
	if *main.LogLevel != "DEBUG" {
		t.Fatalf("expected inherited loglevel DEBUG, got %s", *main.LogLevel)
	}
	if main.Environment["FOO"] != "bar" {
		t.Fatalf("expected inherited environment, got %+v", main.Environment)
	}
}

func TestShAndCommandMutuallyExclusive(t *testing.T) {
	_, err := Load(strings.NewReader(`
programs:
  main:
    command: "true"
    sh: "echo hi"
`), 1000)
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestReapZombiesRequiresRoot(t *testing.T) {
	_, err := Load(strings.NewReader(`
programs:
  main:
    command: "true"
    reap_zombies: true
`), 1000)
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error for non-root reap_zombies, got %v", err)
	}
}

func TestInvalidEnvironmentName(t *testing.T) {
	_, err := Load(strings.NewReader(`
programs:
  main:
    command: "true"
    environment:
      "1BAD": "x"
`), 1000)
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error for invalid env name, got %v", err)
	}
}

func TestShellSplitQuoted(t *testing.T) {
	argv, err := shellSplit(`sh -c "echo hello world"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"sh", "-c", "echo hello world"}
	if len(argv) != len(want) {
		t.Fatalf("expected %v, got %v", want, argv)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, argv)
		}
	}
}
