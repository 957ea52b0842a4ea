package process

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func TestLogPumpEmitsTrimmedLines(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Debug, Output: &buf})

	r := strings.NewReader("hello world  \r\n  \nsecond line\n")
	pump := NewLogPump(logger, hclog.Info, r, nil).Start()

	if !pump.WaitClose(time.Second) {
		t.Fatalf("pump did not close before timeout")
	}

	out := buf.String()
	if !strings.Contains(out, "hello world") {
		t.Fatalf("expected trimmed first line in output, got %q", out)
	}
	if !strings.Contains(out, "second line") {
		t.Fatalf("expected second line in output, got %q", out)
	}
}

func TestLogPumpEmitsBlankLines(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Debug, Output: &buf})

	r := strings.NewReader("\n\n\n")
	pump := NewLogPump(logger, hclog.Info, r, nil).Start()
	if !pump.WaitClose(time.Second) {
		t.Fatalf("pump did not close before timeout")
	}
	if n := strings.Count(buf.String(), "\n"); n < 3 {
		t.Fatalf("expected a logged record per blank line, got %d lines in %q", n, buf.String())
	}
}

func TestLogPumpAppliesFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Debug, Output: &buf})

	r := strings.NewReader("API_SECRET=topsecret\n")
	filter := func(line string) string { return strings.Replace(line, "topsecret", "****", 1) }
	pump := NewLogPump(logger, hclog.Info, r, filter).Start()
	if !pump.WaitClose(time.Second) {
		t.Fatalf("pump did not close before timeout")
	}
	if strings.Contains(buf.String(), "topsecret") {
		t.Fatalf("expected filter to mask secret, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "****") {
		t.Fatalf("expected masked marker in output, got %q", buf.String())
	}
}
