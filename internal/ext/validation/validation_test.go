package validation

import "testing"

func TestConfigureExtensionPassesWhenVersionSufficient(t *testing.T) {
	e := New(nil)
	Version = "2.0.0"
	err := e.ConfigureExtension(map[string]interface{}{"min_encab_version": "1.0.0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigureExtensionFailsWhenVersionTooOld(t *testing.T) {
	e := New(nil)
	Version = "0.5.0"
	err := e.ConfigureExtension(map[string]interface{}{"min_encab_version": "1.0.0"})
	if err == nil {
		t.Fatalf("expected error for too-old version")
	}
	Version = "0.0.0-dev"
}

func TestValidateExtensionRejectsNonStringVersion(t *testing.T) {
	e := New(nil)
	err := e.ValidateExtension(map[string]interface{}{"min_encab_version": 123})
	if err == nil {
		t.Fatalf("expected error for non-string min_encab_version")
	}
}
