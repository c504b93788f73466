// Package test holds end-to-end soak scenarios that drive a real engine and
// scheduler through whole colony lifecycles. They are run by cmd/test-runner
// and by the package tests.
package test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lifesupport/colony/server/internal/domain/building"
	"github.com/lifesupport/colony/server/internal/domain/resource"
	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/events"
	"github.com/lifesupport/colony/server/internal/platform/logger"
)

// Result captures the outcome of one scenario.
type Result struct {
	ScenarioName string
	Input        string
	Expected     string
	Actual       string
	Passed       bool
	Reason       string
}

// Scenario is one self-contained soak run.
type Scenario struct {
	Name     string
	Input    string
	Expected string
	Run      func(ctx context.Context, log *logger.Logger) (actual string, err error)
}

// Suite runs scenarios and collects their results.
type Suite struct {
	logger  *logger.Logger
	out     io.Writer
	results []Result
}

// NewSuite creates a suite printing progress to out.
func NewSuite(out io.Writer, log *logger.Logger) *Suite {
	if log == nil {
		log = logger.Discard()
	}
	if out == nil {
		out = io.Discard
	}
	return &Suite{logger: log, out: out, results: make([]Result, 0)}
}

// Scenarios returns the stock soak scenarios.
func Scenarios() []Scenario {
	return []Scenario{
		{
			Name:     "Starvation collapse",
			Input:    "default colony, no buildings, tick until collapse",
			Expected: "collapse by starvation, later ticks report already collapsed",
			Run:      runStarvation,
		},
		{
			Name:     "Power shortage",
			Input:    "three mines on 10 energy with ample food and water",
			Expected: "energy clamped at 0 every tick, colony alive",
			Run:      runPowerShortage,
		},
		{
			Name:     "Habitat growth",
			Input:    "one habitat on a well stocked colony",
			Expected: "population reaches 15 and never exceeds capacity",
			Run:      runHabitatGrowth,
		},
		{
			Name:     "Slow subscriber isolation",
			Input:    "one reader drained every tick, one never read",
			Expected: "drained reader sees every tick in order, stalled reader is dropped",
			Run:      runSlowSubscriber,
		},
		{
			Name:     "Cadence change",
			Input:    "scheduler at 30000ms, then setSpeed(50)",
			Expected: "interval clamped to 200ms and a scheduled tick arrives promptly",
			Run:      runCadenceChange,
		},
		{
			Name:     "Journal replay",
			Input:    "mixed builds and ticks recorded in the event log",
			Expected: "replay reproduces every recorded digest",
			Run:      runJournalReplay,
		},
	}
}

// RunAll runs every scenario in order.
func (s *Suite) RunAll(ctx context.Context, scenarios []Scenario) []Result {
	for _, sc := range scenarios {
		s.Run(ctx, sc)
	}
	return s.results
}

// Run executes one scenario and records its result.
func (s *Suite) Run(ctx context.Context, sc Scenario) Result {
	fmt.Fprintln(s.out, "\n"+strings.Repeat("=", 60))
	fmt.Fprintf(s.out, "🧪 SOAK: %s\n", sc.Name)
	fmt.Fprintln(s.out, strings.Repeat("=", 60))
	fmt.Fprintf(s.out, "   Input:    %s\n", sc.Input)
	fmt.Fprintf(s.out, "   Expected: %s\n", sc.Expected)

	start := time.Now()
	actual, err := sc.Run(ctx, s.logger.With("scenario", sc.Name))
	res := Result{
		ScenarioName: sc.Name,
		Input:        sc.Input,
		Expected:     sc.Expected,
		Actual:       actual,
		Passed:       err == nil,
	}
	if err != nil {
		res.Reason = err.Error()
		s.logger.Error("soak scenario failed", "scenario", sc.Name, "error", err)
		fmt.Fprintf(s.out, "❌ FAILED in %v: %s\n", time.Since(start).Round(time.Millisecond), res.Reason)
	} else {
		res.Reason = "ok"
		fmt.Fprintf(s.out, "✅ PASSED in %v: %s\n", time.Since(start).Round(time.Millisecond), actual)
	}
	s.results = append(s.results, res)
	return res
}

// Results returns every recorded result.
func (s *Suite) Results() []Result {
	return s.results
}

func newEngine(settings engine.Settings, log *logger.Logger, opts engine.Options) *engine.Engine {
	opts.Logger = log
	return engine.New(settings, opts)
}

func runStarvation(ctx context.Context, log *logger.Logger) (string, error) {
	e := newEngine(engine.DefaultSettings(), log, engine.Options{})

	var collapsedAt int
	for i := 0; i < 50 && collapsedAt == 0; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r := e.Tick()
		if r.Collapsed {
			collapsedAt = r.Tick
			if len(r.EventList) == 0 || r.EventList[0] != engine.EventStarvation {
				return "", fmt.Errorf("tick %d collapsed with %v, want starvation", r.Tick, r.EventList)
			}
			if r.ColonyState.Resources[resource.Food.Key()] > 0 {
				return "", fmt.Errorf("collapsed with food %d", r.ColonyState.Resources[resource.Food.Key()])
			}
		}
	}
	if collapsedAt == 0 {
		return "", fmt.Errorf("colony still alive after 50 ticks")
	}

	after := e.Tick()
	want := fmt.Sprintf("Tick %d: colony has already collapsed.", collapsedAt+1)
	if after.Events != want {
		return "", fmt.Errorf("post-collapse tick reported %q, want %q", after.Events, want)
	}
	if after.ColonyState.Alive {
		return "", fmt.Errorf("colony revived after collapse")
	}
	return fmt.Sprintf("starved at tick %d", collapsedAt), nil
}

func runPowerShortage(ctx context.Context, log *logger.Logger) (string, error) {
	var start resource.Amounts
	start[resource.Energy] = 10
	start[resource.Food] = 500
	start[resource.Water] = 500
	start[resource.Minerals] = 30
	settings := engine.DefaultSettings()
	settings.Start = start
	e := newEngine(settings, log, engine.Options{})

	for x := 0; x < 3; x++ {
		if r := e.BuildKind(building.Mine, x, 0); !r.Success {
			return "", fmt.Errorf("mine %d: %s", x, r.Message)
		}
	}

	shortages := 0
	for i := 0; i < 10; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r := e.Tick()
		energy := r.ColonyState.Resources[resource.Energy.Key()]
		if energy < 0 {
			return "", fmt.Errorf("tick %d left energy at %d", r.Tick, energy)
		}
		if !r.ColonyState.Alive {
			return "", fmt.Errorf("colony collapsed at tick %d: %s", r.Tick, r.Events)
		}
		for _, ev := range r.EventList {
			if ev == engine.EventPowerShortage {
				shortages++
				if energy != 0 {
					return "", fmt.Errorf("shortage at tick %d left energy %d", r.Tick, energy)
				}
			}
		}
	}
	// 10 -> 1 on the first tick, then every tick runs short.
	if shortages != 9 {
		return "", fmt.Errorf("expected 9 power shortages, got %d", shortages)
	}
	minerals := e.Snapshot().Resources[resource.Minerals.Key()]
	return fmt.Sprintf("%d shortages, minerals %d", shortages, minerals), nil
}

func runHabitatGrowth(ctx context.Context, log *logger.Logger) (string, error) {
	var start resource.Amounts
	start[resource.Energy] = 100
	start[resource.Food] = 200
	start[resource.Water] = 100
	start[resource.Minerals] = 100
	settings := engine.DefaultSettings()
	settings.Start = start
	e := newEngine(settings, log, engine.Options{})

	r := e.BuildKind(building.Habitat, 5, 5)
	if !r.Success {
		return "", fmt.Errorf("habitat: %s", r.Message)
	}
	if r.ColonyState.PopulationCapacity != 15 {
		return "", fmt.Errorf("capacity %d after habitat, want 15", r.ColonyState.PopulationCapacity)
	}

	for i := 0; i < 15; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		t := e.Tick()
		if t.ColonyState.Population > t.ColonyState.PopulationCapacity {
			return "", fmt.Errorf("tick %d population %d over capacity %d",
				t.Tick, t.ColonyState.Population, t.ColonyState.PopulationCapacity)
		}
	}
	snap := e.Snapshot()
	if snap.Population != 15 {
		return "", fmt.Errorf("population %d after 15 ticks, want 15", snap.Population)
	}
	return fmt.Sprintf("population %d/%d at tick %d", snap.Population, snap.PopulationCapacity, snap.TickCount), nil
}

func runSlowSubscriber(ctx context.Context, log *logger.Logger) (string, error) {
	const buffer = 4
	e := newEngine(engine.DefaultSettings(), log, engine.Options{SubscriberBuffer: buffer})
	defer e.Shutdown()

	fast := e.Subscribe()
	defer fast.Cancel()
	slow := e.Subscribe()
	defer slow.Cancel()

	const ticks = 20
	for i := 1; i <= ticks; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		e.Tick()
		select {
		case r, ok := <-fast.C:
			if !ok {
				return "", fmt.Errorf("drained subscriber was dropped at tick %d", i)
			}
			if r.Tick != i {
				return "", fmt.Errorf("drained subscriber got tick %d, want %d", r.Tick, i)
			}
		case <-time.After(time.Second):
			return "", fmt.Errorf("drained subscriber missed tick %d", i)
		}
	}

	got := 0
	for range slow.C {
		got++
	}
	if got != buffer {
		return "", fmt.Errorf("stalled subscriber kept %d reports, want %d", got, buffer)
	}
	if n := e.Subscribers(); n != 1 {
		return "", fmt.Errorf("expected 1 live subscriber, got %d", n)
	}
	return fmt.Sprintf("drained reader saw %d ticks, stalled reader dropped after %d", ticks, got), nil
}

func runCadenceChange(ctx context.Context, log *logger.Logger) (string, error) {
	e := newEngine(engine.DefaultSettings(), log, engine.Options{})
	ticker := engine.NewTicker(e, engine.MaxInterval, log)

	sub := e.Subscribe()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		ticker.Start(runCtx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if got := ticker.SetSpeed(50); got != engine.MinInterval.Milliseconds() {
		return "", fmt.Errorf("setSpeed(50) returned %d", got)
	}

	begin := time.Now()
	select {
	case r, ok := <-sub.C:
		if !ok {
			return "", fmt.Errorf("subscription closed before the first tick")
		}
		if r.Source != engine.SourceScheduler {
			return "", fmt.Errorf("first tick came from %s", r.Source)
		}
		return fmt.Sprintf("interval %dms, first scheduled tick after %v",
			ticker.Interval().Milliseconds(), time.Since(begin).Round(time.Millisecond)), nil
	case <-time.After(3 * time.Second):
		return "", fmt.Errorf("no scheduled tick within 3s of setSpeed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func runJournalReplay(ctx context.Context, log *logger.Logger) (string, error) {
	el := events.NewEventLog(events.Options{})
	defer el.Close(context.Background())
	e := newEngine(engine.DefaultSettings(), log, engine.Options{Journal: el, RunID: "soak"})

	e.BuildKind(building.SolarPanel, 0, 0)
	e.BuildKind(building.WaterExtractor, 1, 0)
	e.BuildKind(building.WaterExtractor, 1, 0) // occupied
	e.BuildKind(building.Habitat, 2, 0)        // unaffordable
	for i := 0; i < 8; i++ {
		e.Tick()
	}
	e.Reset()
	e.BuildKind(building.Mine, 31, 31)
	e.Tick()

	res, err := engine.Replay(engine.DefaultSettings(), el.Replay())
	if err != nil {
		return "", err
	}
	if !res.OK() {
		d := res.Divergence
		return "", fmt.Errorf("diverged at seq %d (%s): %s", d.Seq, d.Type, d.Reason)
	}
	if res.Final.Digest() != e.Snapshot().Digest() {
		return "", fmt.Errorf("replayed state differs from live state")
	}
	return fmt.Sprintf("%d steps replayed (%d builds, %d ticks)", res.Steps, res.Builds, res.Ticks), nil
}
