package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("tick %d", 7)

	if len(got) != 1 || got[0] != "tick 7" {
		t.Fatalf("custom logger received %q, want [\"tick 7\"]", got)
	}

	SetLogger(nil)
	Logf("muted")
	if len(got) != 1 {
		t.Errorf("no-op logger should not have triggered callback, got %q", got)
	}
}

func TestTagged(t *testing.T) {
	defer SetLogger(nil)

	warn := Tagged("device")

	var line string
	SetLogger(func(format string, v ...interface{}) {
		line = fmt.Sprintf(format, v...)
	})
	warn("timeout after %s", "5s")

	if line != "[device] timeout after 5s" {
		t.Errorf("tagged line = %q", line)
	}
}
