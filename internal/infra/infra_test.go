package infra

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestBackoffStaysWithinBounds(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 2.0)

	for i := 0; i < 20; i++ {
		wait := b.Next()
		if wait < 100*time.Millisecond || wait > time.Second {
			t.Fatalf("attempt %d: wait %v outside [100ms, 1s]", i+1, wait)
		}
	}
	if b.Attempts() != 20 {
		t.Fatalf("Attempts() = %d, want 20", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 {
		t.Fatalf("Attempts() after Reset = %d, want 0", b.Attempts())
	}
	if wait := b.Next(); wait > 120*time.Millisecond {
		t.Fatalf("first wait after Reset = %v, want <= 120ms", wait)
	}
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "room_id", "r1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record leaked through WARN level: %s", out)
	}
	if !strings.Contains(out, `"room_id":"r1"`) {
		t.Fatalf("expected JSON attribute in output, got %s", out)
	}
}
