package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	l := New()
	ctx := NewContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatalf("expected stored logger")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
}

func TestNewWithLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithLevel(&buf, "warn")
	if err != nil {
		t.Fatalf("NewWithLevel: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown", "band", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered: %s", out)
	}
	if !strings.Contains(out, "band=1") {
		t.Fatalf("expected key/value output: %s", out)
	}
	if _, err := NewWithLevel(&buf, "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
