package klog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLineFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug").Scope("vmx")
	l.Infof("vcpu %d ready", 0)

	got := buf.String()
	want := "[INFO] vmx | vcpu 0 ready\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn").Scope("ept")
	l.Infof("should be dropped")
	l.Warnf("should appear")

	got := buf.String()
	if strings.Contains(got, "dropped") {
		t.Fatalf("info line leaked through warn level filter: %q", got)
	}
	if !strings.Contains(got, "should appear") {
		t.Fatalf("warn line missing: %q", got)
	}
}

func TestDefaultScope(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug")
	l.Errorf("boom")

	if !strings.HasPrefix(buf.String(), "[ERR] - | boom") {
		t.Fatalf("unexpected line: %q", buf.String())
	}
}
