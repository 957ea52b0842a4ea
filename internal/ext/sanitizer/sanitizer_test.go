package sanitizer

import "testing"

func TestSanitizeMasksSensitiveKey(t *testing.T) {
	e := New(nil)
	out := e.Sanitize("API_SECRET=topsecret")
	if out != "API_SECRET=*********" {
		t.Fatalf("expected masked value, got %q", out)
	}
}

func TestSanitizeLeavesOrdinaryLines(t *testing.T) {
	e := New(nil)
	out := e.Sanitize("hello world")
	if out != "hello world" {
		t.Fatalf("expected line unchanged, got %q", out)
	}
}

func TestSanitizeLeavesNonSensitiveAssignment(t *testing.T) {
	e := New(nil)
	out := e.Sanitize("PORT=8080")
	if out != "PORT=8080" {
		t.Fatalf("expected line unchanged, got %q", out)
	}
}

func TestFilterLineDelegatesToSanitize(t *testing.T) {
	e := New(nil)
	out := e.FilterLine("main", "DB_PASSWORD=hunter2")
	if out != "DB_PASSWORD=*******" {
		t.Fatalf("expected masked value, got %q", out)
	}
}

func TestConfigureOverridesPatterns(t *testing.T) {
	e := New(nil)
	err := e.ConfigureExtension(map[string]interface{}{
		"patterns": []interface{}{"*TOKEN*"},
		"override": true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out := e.Sanitize("API_SECRET=x"); out != "API_SECRET=x" {
		t.Fatalf("expected override to drop default patterns, got %q", out)
	}
	if out := e.Sanitize("AUTH_TOKEN=x"); out != "AUTH_TOKEN=*" {
		t.Fatalf("expected AUTH_TOKEN masked, got %q", out)
	}
}
