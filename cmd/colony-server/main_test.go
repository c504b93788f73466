package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lifesupport/colony/server/internal/domain/colony"
	"github.com/lifesupport/colony/server/internal/domain/resource"
	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/events"
	"github.com/lifesupport/colony/server/internal/infra/journal"
	"github.com/lifesupport/colony/server/internal/infra/storage"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// playRun drives a short colony session through persisters and closes them.
func playRun(t *testing.T, runID string, tamper bool, persisters ...events.EventPersister) {
	t.Helper()
	el := events.NewEventLog(events.Options{}, persisters...)
	e := engine.New(engine.DefaultSettings(), engine.Options{Journal: el, RunID: runID})
	e.Build("solar_panel", 0, 0)
	e.Tick()
	if tamper {
		e.Override(func(c *colony.Colony) { c.SetResource(resource.Water, 1) })
	}
	e.Tick()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := el.Close(ctx); err != nil {
		t.Fatalf("close event log: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "colony-server version "+version) {
		t.Errorf("Unexpected output %q", out)
	}

	out, err = runCLI(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil || v["version"] != version {
		t.Errorf("Expected JSON version, got %q", out)
	}
}

func TestJournalDumpAndVerify(t *testing.T) {
	dir := t.TempDir()
	jw := journal.NewWriter(dir, "colony", journal.CodecLZ4)
	playRun(t, "run-cli", false, jw)
	if err := jw.Close(); err != nil {
		t.Fatal(err)
	}
	files := jw.Files()
	if len(files) != 1 {
		t.Fatalf("Expected 1 journal file, got %v", files)
	}

	out, err := runCLI(t, "journal", "dump", "--file", files[0])
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "{") {
			lines++
		}
	}
	if lines != 4 {
		t.Errorf("Expected 4 events, got %d\n%s", lines, out)
	}

	out, err = runCLI(t, "journal", "dump", "--dir", dir, "--verify")
	if err != nil {
		t.Fatalf("verify failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "OK: final tick 2") {
		t.Errorf("Unexpected verify output %q", out)
	}

	if _, err := runCLI(t, "journal", "dump"); err == nil {
		t.Error("Expected an error without --file or --dir")
	}
}

func TestAuditCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.db")
	db, err := storage.InitSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	runs := storage.NewSQLiteRunRepository(db)
	repo := storage.NewSQLiteEventRepository(db)

	if err := runs.StartRun(ctx, "run-clean", "Life Support", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	playRun(t, "run-clean", false, repo.Persister(ctx))
	if err := runs.StartRun(ctx, "run-tampered", "Life Support", time.Now()); err != nil {
		t.Fatal(err)
	}
	playRun(t, "run-tampered", true, repo.Persister(ctx))
	db.Close()

	out, err := runCLI(t, "audit", "verify", "--db", path, "--run", "run-clean")
	if err != nil {
		t.Fatalf("verify clean run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "OK:") {
		t.Errorf("Unexpected output %q", out)
	}

	// Latest run is the tampered one.
	out, err = runCLI(t, "audit", "verify", "--db", path)
	if !errors.Is(err, errDiverged) {
		t.Fatalf("Expected divergence, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "DIVERGED") {
		t.Errorf("Unexpected output %q", out)
	}

	out, err = runCLI(t, "audit", "recap", "--db", path, "--run", "run-clean", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var recap storage.Recap
	if err := json.Unmarshal([]byte(out), &recap); err != nil {
		t.Fatalf("decode recap: %v\n%s", err, out)
	}
	if recap.Ticks != 2 || recap.BuildsOK != 1 {
		t.Errorf("Unexpected recap %+v", recap)
	}

	out, err = runCLI(t, "audit", "runs", "--db", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "run-clean") || !strings.Contains(out, "run-tampered") {
		t.Errorf("Expected both runs listed, got %q", out)
	}
}
