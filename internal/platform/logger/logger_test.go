package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONFormatCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json", &buf).With("component", "engine")
	log.Info("game tick", "tick", 3)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected JSON output, got %q", buf.String())
	}
	if line["msg"] != "game tick" || line["component"] != "engine" || line["tick"] != float64(3) {
		t.Errorf("Unexpected record %v", line)
	}
}

func TestEventRecord(t *testing.T) {
	var buf bytes.Buffer
	New("info", "json", &buf).Event("BUILD", "API", "MINE placed at (0,0)")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected JSON output, got %q", buf.String())
	}
	if line["msg"] != "game event" || line["event_type"] != "BUILD" || line["actor"] != "API" || line["details"] != "MINE placed at (0,0)" {
		t.Errorf("Unexpected record %v", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "text", &buf)
	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}
