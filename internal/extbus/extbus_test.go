package extbus

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
)

type filterExtension struct {
	old, new string
}

func (f *filterExtension) Name() string                                          { return "filter" }
func (f *filterExtension) ValidateExtension(map[string]interface{}) error        { return nil }
func (f *filterExtension) ConfigureExtension(map[string]interface{}) error       { return nil }
func (f *filterExtension) ExtendEnvironment(program string, env map[string]string) error {
	return nil
}
func (f *filterExtension) UpdateLogger(program string, logger hclog.Logger) hclog.Logger {
	return logger
}
func (f *filterExtension) ProgramsEnded() {}
func (f *filterExtension) FilterLine(program, line string) string {
	return strings.ReplaceAll(line, f.old, f.new)
}

type noopExtension struct{}

func (noopExtension) Name() string                                   { return "noop" }
func (noopExtension) ValidateExtension(map[string]interface{}) error { return nil }
func (noopExtension) ConfigureExtension(map[string]interface{}) error {
	return nil
}
func (noopExtension) ExtendEnvironment(program string, env map[string]string) error {
	return nil
}
func (noopExtension) UpdateLogger(program string, logger hclog.Logger) hclog.Logger {
	return logger
}
func (noopExtension) ProgramsEnded() {}

func TestFilterLineAppliesOnlyLineFilterExtensions(t *testing.T) {
	b := New(hclog.NewNullLogger())
	b.Register(noopExtension{})
	b.Register(&filterExtension{old: "secret", new: "****"})

	out := b.FilterLine("main", "token=secret")
	if out != "token=****" {
		t.Fatalf("expected line filtered, got %q", out)
	}
}

func TestFilterLineWithNoFiltersReturnsLineUnchanged(t *testing.T) {
	b := New(hclog.NewNullLogger())
	b.Register(noopExtension{})

	out := b.FilterLine("main", "hello")
	if out != "hello" {
		t.Fatalf("expected line unchanged, got %q", out)
	}
}
