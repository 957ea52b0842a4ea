package bootstrap

import (
	"errors"
	"os"
	"testing"

	"github.com/sebastian-kuebeck/encab/internal/config"
)

func TestResolveConfigPathPrecedence(t *testing.T) {
	if got := ResolveConfigPath("/explicit.yml"); got != "/explicit.yml" {
		t.Fatalf("expected explicit path to win, got %s", got)
	}

	os.Setenv("ENCAB_CONFIG", "/env.yml")
	defer os.Unsetenv("ENCAB_CONFIG")
	if got := ResolveConfigPath(""); got != "/env.yml" {
		t.Fatalf("expected env path, got %s", got)
	}

	os.Unsetenv("ENCAB_CONFIG")
	if got := ResolveConfigPath(""); got != defaultConfigPaths[0] {
		t.Fatalf("expected first default path, got %s", got)
	}
}

func TestResolveConfigPathPrefersExistingDefault(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer os.Chdir(cwd)

	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	if err := os.WriteFile("encab.yaml", []byte("programs: {}"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	os.Unsetenv("ENCAB_CONFIG")
	if got := ResolveConfigPath(""); got != "./encab.yaml" {
		t.Fatalf("expected ./encab.yaml to be preferred, got %s", got)
	}
}

func TestDryRunOverride(t *testing.T) {
	os.Setenv("ENCAB_DRY_RUN", "1")
	defer os.Unsetenv("ENCAB_DRY_RUN")
	if v, set := DryRunOverride(); !v || !set {
		t.Fatalf("expected dry run true, got v=%v set=%v", v, set)
	}

	os.Setenv("ENCAB_DRY_RUN", "0")
	if v, set := DryRunOverride(); v || !set {
		t.Fatalf("expected dry run false, got v=%v set=%v", v, set)
	}

	os.Unsetenv("ENCAB_DRY_RUN")
	if _, set := DryRunOverride(); set {
		t.Fatalf("expected unset when variable absent")
	}
}

func TestExitCodeForError(t *testing.T) {
	if code := ExitCodeForError(nil); code != 0 {
		t.Fatalf("expected 0 for nil error, got %d", code)
	}
	if code := ExitCodeForError(config.NewError("bad")); code != 2 {
		t.Fatalf("expected 2 for config error, got %d", code)
	}
	if code := ExitCodeForError(errors.New("boom")); code != 1 {
		t.Fatalf("expected 1 for generic error, got %d", code)
	}
}
