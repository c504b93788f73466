package engine

import (
	"encoding/json"
	"testing"

	"github.com/lifesupport/colony/server/internal/domain/colony"
	"github.com/lifesupport/colony/server/internal/domain/resource"
	"github.com/lifesupport/colony/server/internal/events"
)

func journaledEngine(settings Settings) (*Engine, *events.EventLog) {
	el := events.NewEventLog(events.Options{})
	return New(settings, Options{Journal: el, RunID: "run-test"}), el
}

func playScript(e *Engine) {
	e.Build("SOLAR_PANEL", 0, 0)
	e.Build("WATER_EXTRACTOR", 1, 0)
	e.Build("MINE", 1, 0) // occupied
	e.Build("NOPE", 2, 2) // unknown
	for i := 0; i < 10; i++ {
		e.Tick()
	}
	e.Build("HYDROPONIC_FARM", 2, 0)
	e.Reset()
	e.Build("HABITAT", 5, 5)
	for i := 0; i < 40; i++ {
		e.Tick()
	}
}

func TestJournalOrder(t *testing.T) {
	e, el := journaledEngine(DefaultSettings())
	e.Build("MINE", 0, 0)
	e.Tick()
	e.Reset()

	history := el.Replay()
	want := []events.EventType{
		events.EventTypeColonyReset,
		events.EventTypeBuild,
		events.EventTypeTick,
		events.EventTypeColonyReset,
	}
	if len(history) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(history))
	}
	for i, ev := range history {
		if ev.Type != want[i] {
			t.Errorf("Event %d: Expected %s, got %s", i, want[i], ev.Type)
		}
		if ev.RunID != "run-test" {
			t.Errorf("Event %d: Expected run id, got %q", i, ev.RunID)
		}
		if ev.Digest == "" {
			t.Errorf("Event %d: Expected digest", i)
		}
	}
	if history[0].Source != SourceStartup || history[3].Source != SourceAPI {
		t.Errorf("Unexpected sources %s, %s", history[0].Source, history[3].Source)
	}
	if history[2].Tick != 1 {
		t.Errorf("Expected tick event for tick 1, got %d", history[2].Tick)
	}
}

func TestReplayReproducesRun(t *testing.T) {
	e, el := journaledEngine(DefaultSettings())
	playScript(e)

	res, err := Replay(DefaultSettings(), el.Replay())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !res.OK() {
		t.Fatalf("Expected clean replay, diverged at %+v", res.Divergence)
	}
	if res.Final.Digest() != e.Snapshot().Digest() {
		t.Error("Expected replayed final state to match")
	}
	if res.Ticks != 50 || res.Resets != 2 || res.Builds != 6 {
		t.Errorf("Unexpected counts %+v", res)
	}
}

func TestReplayFromDecodedJSON(t *testing.T) {
	settings := DefaultSettings()
	settings.ColonyName = "Kepler"
	settings.Start[resource.Minerals] = 200
	e, el := journaledEngine(settings)
	playScript(e)

	raw, err := json.Marshal(el.Replay())
	if err != nil {
		t.Fatal(err)
	}
	var decoded []events.GameEvent
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	// Settings come from the journaled reset, not the argument.
	res, err := Replay(DefaultSettings(), decoded)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !res.OK() {
		t.Fatalf("Expected clean replay, diverged at %+v", res.Divergence)
	}
	if res.Final.Name != "Kepler" {
		t.Errorf("Expected colony name Kepler, got %s", res.Final.Name)
	}
}

func TestReplayDetectsOverride(t *testing.T) {
	e, el := journaledEngine(DefaultSettings())
	e.Tick()
	e.Override(func(c *colony.Colony) { c.SetResource(resource.Food, 1) })
	e.Tick()
	e.Tick()

	res, err := Replay(DefaultSettings(), el.Replay())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.OK() {
		t.Fatal("Expected divergence after an unjournaled override")
	}
	if res.Divergence.Type != events.EventTypeTick || res.Divergence.Tick != 2 {
		t.Errorf("Expected divergence at tick 2, got %+v", res.Divergence)
	}
}
