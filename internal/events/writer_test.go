package events_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crewboard/internal/events"
)

func newTestLogger(t *testing.T) *events.Logger {
	t.Helper()
	l := events.New(filepath.Join(t.TempDir(), events.FileName))
	l.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l
}

func TestAppendFormat(t *testing.T) {
	l := newTestLogger(t)
	if err := l.Append("agentA", "moved %s to %s", "42", "review"); err != nil {
		t.Fatal(err)
	}
	lines, err := l.Tail(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %v", lines)
	}
	want := "[2026-01-02T03:04:05Z] [agentA] moved 42 to review"
	if lines[0] != want {
		t.Fatalf("got %q, want %q", lines[0], want)
	}
}

func TestEmptyAgentBecomesSystem(t *testing.T) {
	l := newTestLogger(t)
	if err := l.Append("", "board initialized"); err != nil {
		t.Fatal(err)
	}
	lines, _ := l.Tail(0)
	if !strings.Contains(lines[0], "[system]") {
		t.Fatalf("expected system attribution, got %q", lines[0])
	}
}

func TestAlertPrefix(t *testing.T) {
	l := newTestLogger(t)
	if err := l.Alert("agentB", "item %s escalated", "42"); err != nil {
		t.Fatal(err)
	}
	lines, _ := l.Tail(0)
	if !strings.Contains(lines[0], "ALERT: item 42 escalated") {
		t.Fatalf("missing alert prefix: %q", lines[0])
	}
}

func TestTailLimitsAndOrders(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < 5; i++ {
		if err := l.Append("a", "line %d", i); err != nil {
			t.Fatal(err)
		}
	}
	lines, err := l.Tail(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "line 3") || !strings.HasSuffix(lines[1], "line 4") {
		t.Fatalf("expected last two lines oldest first, got %v", lines)
	}
}

func TestTailMissingFile(t *testing.T) {
	l := events.New(filepath.Join(t.TempDir(), "absent.log"))
	lines, err := l.Tail(10)
	if err != nil || len(lines) != 0 {
		t.Fatalf("expected empty tail, got %v, %v", lines, err)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	l := events.New(filepath.Join(dir, events.FileName))
	l.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	if err := l.Append("a", "before rotation"); err != nil {
		t.Fatal(err)
	}
	archived := filepath.Join(dir, "archived.log")
	if err := l.Rotate(archived); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(archived)
	if err != nil || !strings.Contains(string(data), "before rotation") {
		t.Fatalf("archive copy missing content: %q, %v", data, err)
	}
	lines, _ := l.Tail(0)
	if len(lines) != 0 {
		t.Fatalf("live log not truncated: %v", lines)
	}
}

func TestRotateMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	l := events.New(filepath.Join(dir, "absent.log"))
	if err := l.Rotate(filepath.Join(dir, "archive.log")); err != nil {
		t.Fatalf("rotate of missing log must be a no-op, got %v", err)
	}
}
