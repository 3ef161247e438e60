package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogHandler_JSONByDefault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newLogHandler(&buf, "info", "", false))
	log.Debug("hidden")
	log.Info("invite.redeem.ok", "code_fp", "abcd")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "invite.redeem.ok" || rec["code_fp"] != "abcd" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["source"]; !ok {
		t.Fatalf("expected source attribute")
	}
}

func TestNewLogHandler_Pretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newLogHandler(&buf, "debug", "PRETTY", false))
	log.Debug("store.memory")

	if !strings.Contains(buf.String(), "lvl=[DEBUG] msg=store.memory") {
		t.Fatalf("unexpected pretty output: %q", buf.String())
	}
}
