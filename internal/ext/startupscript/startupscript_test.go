package startupscript

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvMergesDotenvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("# comment\nFOO=bar\nBAZ=\"qux\"\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	e := New(nil)
	if err := e.ConfigureExtension(map[string]interface{}{"loadenv": path}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env := map[string]string{}
	if err := e.ExtendEnvironment("main", env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env["FOO"] != "bar" {
		t.Fatalf("expected FOO=bar, got %+v", env)
	}
	if env["BAZ"] != "qux" {
		t.Fatalf("expected BAZ=qux, got %+v", env)
	}
}

func TestExtendEnvironmentRunsOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	os.WriteFile(path, []byte("COUNT=1\n"), 0o644)

	e := New(nil)
	e.ConfigureExtension(map[string]interface{}{"loadenv": path})

	env := map[string]string{}
	e.ExtendEnvironment("main", env)
	os.WriteFile(path, []byte("COUNT=2\n"), 0o644)
	e.ExtendEnvironment("helper", env)

	if env["COUNT"] != "1" {
		t.Fatalf("expected loadenv to run only once, got COUNT=%s", env["COUNT"])
	}
}
