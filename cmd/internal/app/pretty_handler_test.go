package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_RemapsAndFormatsKnownKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))
	log.Warn("http.request",
		"method", "post",
		"path", "/invites/redeem",
		"status", 409,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"note", "two words",
	)

	line := buf.String()
	for _, want := range []string{
		"lvl=[WARN]",
		"msg=http.request",
		"method=POST",
		"path=/invites/redeem",
		"status=409",
		"class=4xx",
		"duration=12ms",
		`note="two words"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("unexpected ANSI codes without color: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("record must end with newline")
	}
}

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(newPrettyHandler(&buf, nil, false))
	log := base.With("component", "feed").WithGroup("client")
	log.Info("feed.connect", "id", "c1", slog.Group("filter", "owner_scope", "org_1"))

	line := buf.String()
	for _, want := range []string{"client.id=c1", "client.filter.owner_scope=org_1", "component=feed"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
}

func TestPrettyHandler_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("skipped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
	log.Error("kept")
	if !strings.Contains(buf.String(), "lvl=[ERROR]") {
		t.Fatalf("expected error line, got %q", buf.String())
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	if got := colorizeStatusCode(503, true); got != ansiRed+"503"+ansiReset {
		t.Fatalf("colorizeStatusCode=%q", got)
	}
	if got := colorizeStatusCode(201, false); got != "201" {
		t.Fatalf("plain colorizeStatusCode=%q", got)
	}
	if got := colorizeDurationMS(1500, false); got != "1500ms" {
		t.Fatalf("colorizeDurationMS=%q", got)
	}
	if got := levelTag(slog.LevelInfo, true); got != ansiBlue+"[INFO]"+ansiReset {
		t.Fatalf("levelTag=%q", got)
	}
}
