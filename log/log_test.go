package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return NewWithHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level}))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}
	return entry
}

func TestModuleAttributes(t *testing.T) {
	tests := []struct {
		name  string
		build func(l *Logger) *Logger
		want  map[string]any
	}{
		{
			name:  "module",
			build: func(l *Logger) *Logger { return l.Module("pipeline") },
			want:  map[string]any{"module": "pipeline"},
		},
		{
			name:  "module with attrs",
			build: func(l *Logger) *Logger { return l.Module("txpool").With("origin", "0xabc") },
			want:  map[string]any{"module": "txpool", "origin": "0xabc"},
		},
		{
			name:  "attrs then module",
			build: func(l *Logger) *Logger { return l.With("height", 3).Module("mapping") },
			want:  map[string]any{"module": "mapping", "height": float64(3)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.build(newTestLogger(&buf, slog.LevelDebug)).Info("block produced", "calls", 2)
			entry := decodeEntry(t, &buf)
			if entry["msg"] != "block produced" {
				t.Errorf("msg = %v", entry["msg"])
			}
			// slog renders numbers as float64 in JSON.
			if entry["calls"] != float64(2) {
				t.Errorf("calls = %v, want 2", entry["calls"])
			}
			for k, v := range tt.want {
				if entry[k] != v {
					t.Errorf("%s = %v, want %v", k, entry[k], v)
				}
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	emit := map[string]func(*Logger){
		"debug": func(l *Logger) { l.Debug("m") },
		"info":  func(l *Logger) { l.Info("m") },
		"warn":  func(l *Logger) { l.Warn("m") },
		"error": func(l *Logger) { l.Error("m") },
	}
	order := []string{"debug", "info", "warn", "error"}
	for ci, configured := range order {
		for mi, msg := range order {
			var buf bytes.Buffer
			emit[msg](newTestLogger(&buf, ParseLevel(configured)))
			if got, want := buf.Len() > 0, mi >= ci; got != want {
				t.Errorf("level %s, %s message: output=%v, want %v", configured, msg, got, want)
			}
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	SetDefault(l)
	defer SetDefault(New(slog.LevelInfo))

	Debug("d-msg")
	Info("i-msg")
	Warn("w-msg")
	Error("e-msg")
	out := buf.String()
	for _, msg := range []string{"d-msg", "i-msg", "w-msg", "e-msg"} {
		if !strings.Contains(out, msg) {
			t.Errorf("missing %q in output", msg)
		}
	}

	SetDefault(nil)
	if Default() != l {
		t.Fatal("SetDefault(nil) replaced the logger")
	}
}


func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" TRACE ", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	l := NewText(&buf, slog.LevelWarn)
	if l.Enabled(slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
	l.Module("fee").Warn("clamped", "base", 7)
	out := buf.String()
	if !strings.Contains(out, "module=fee") || !strings.Contains(out, "base=7") {
		t.Fatalf("unexpected text output: %q", out)
	}
}
