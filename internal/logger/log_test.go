package logger

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithOutput("WARN", &buf)

	if lg.Enabled(DEBUG) || lg.Enabled(INFO) {
		t.Fatalf("WARN logger should not enable DEBUG or INFO")
	}
	if !lg.Enabled(WARN) || !lg.Enabled(ERROR) {
		t.Fatalf("WARN logger should enable WARN and ERROR")
	}

	lg.Info("hidden")
	lg.Warn("shown: n=%d", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("INFO line written at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] ") || !strings.Contains(out, "shown: n=1") {
		t.Fatalf("WARN line missing: %q", out)
	}
}

func TestNamedSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithOutput("DEBUG", &buf)
	child := lg.Named("engine").Named("worker")

	child.Error("boom")
	if !strings.Contains(buf.String(), "engine.worker: boom") {
		t.Fatalf("component prefix missing: %q", buf.String())
	}

	var other bytes.Buffer
	child.SetOutput(&other)
	lg.Info("redirected")
	if !strings.Contains(other.String(), "redirected") {
		t.Fatalf("SetOutput on a child should redirect the parent too")
	}
}

func TestWriterSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithOutput("DEBUG", &buf).Named("raft")

	fmt.Fprint(lg.Writer(), "first\n\nsecond\n")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "[DEBUG] ") || !strings.Contains(line, "raft: ") {
			t.Fatalf("unexpected line %q", line)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		" INFO ":  INFO,
		"warning": WARN,
		"Error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
