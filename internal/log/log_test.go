package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelsFilter(t *testing.T) {
	buf := capture(t, LevelWarn)

	Debug("hidden")
	Info("hidden too")
	Warn("slow fetch", "took", "2s")
	Error("fetch failed", errors.New("boom"), "range", "2024-03-10..2024-03-16")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] slow fetch took=2s") {
		t.Fatalf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "[ERROR] fetch failed err=boom range=2024-03-10..2024-03-16") {
		t.Fatalf("missing error line in %q", out)
	}
}

func TestValuesWithSpacesAreQuoted(t *testing.T) {
	buf := capture(t, LevelDebug)
	Debug("title", "value", "팀 회의", "dangling")
	if !strings.Contains(buf.String(), `value="팀 회의"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "dangling") {
		t.Fatalf("odd trailing key should be dropped, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestUseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sharedcal.log")
	SetLevel(LevelInfo)
	UseFile(FileOptions{Path: path, MaxSizeMB: 1})
	Info("to file", "n", 1)
	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "[INFO] to file n=1") {
		t.Fatalf("unexpected file contents %q", data)
	}
}
