package engine

import (
	"context"
	"testing"
	"time"

	"github.com/lifesupport/colony/server/internal/events"
)

func TestSetSpeedClamps(t *testing.T) {
	tk := NewTicker(newTestEngine(), DefaultInterval, nil)

	cases := []struct {
		in   int64
		want int64
	}{
		{50, 200},
		{999999, 30000},
		{-10, 200},
		{200, 200},
		{30000, 30000},
		{1500, 1500},
	}
	for _, tc := range cases {
		if got := tk.SetSpeed(tc.in); got != tc.want {
			t.Errorf("SetSpeed(%d): Expected %d, got %d", tc.in, tc.want, got)
		}
		if got := tk.Interval().Milliseconds(); got != tc.want {
			t.Errorf("Interval after SetSpeed(%d): Expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestNewTickerClampsInterval(t *testing.T) {
	if got := NewTicker(newTestEngine(), time.Millisecond, nil).Interval(); got != MinInterval {
		t.Errorf("Expected %v, got %v", MinInterval, got)
	}
	if got := ClampInterval(time.Hour); got != MaxInterval {
		t.Errorf("Expected %v, got %v", MaxInterval, got)
	}
}

func TestManualTickPublishes(t *testing.T) {
	e := newTestEngine()
	tk := NewTicker(e, DefaultInterval, nil)
	sub := e.Subscribe()

	report := tk.ManualTick()
	got := <-sub.C

	if got.Tick != 1 || report.Tick != 1 {
		t.Errorf("Expected tick 1, got %d / %d", report.Tick, got.Tick)
	}
	if got.Source != SourceManual {
		t.Errorf("Expected source %s, got %s", SourceManual, got.Source)
	}
}

func waitTick(t *testing.T, c <-chan TickReport, within time.Duration) TickReport {
	t.Helper()
	select {
	case r, ok := <-c:
		if !ok {
			t.Fatal("Expected a tick, subscription closed")
		}
		return r
	case <-time.After(within):
		t.Fatalf("Expected a tick within %v", within)
	}
	return TickReport{}
}

func TestSchedulerTicksAndStops(t *testing.T) {
	e := newTestEngine()
	tk := NewTicker(e, MinInterval, nil)
	sub := e.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tk.Start(ctx)
		close(done)
	}()

	first := waitTick(t, sub.C, 3*time.Second)
	second := waitTick(t, sub.C, 3*time.Second)
	if first.Source != SourceScheduler {
		t.Errorf("Expected source %s, got %s", SourceScheduler, first.Source)
	}
	if second.Tick != first.Tick+1 {
		t.Errorf("Expected consecutive ticks, got %d then %d", first.Tick, second.Tick)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected scheduler to stop after cancel")
	}

	// Shutdown releases the subscription.
	for range sub.C {
	}
	if e.Subscribers() != 0 {
		t.Errorf("Expected 0 subscribers after shutdown, got %d", e.Subscribers())
	}
}

func TestSetSpeedReschedulesPendingTimer(t *testing.T) {
	e := newTestEngine()
	tk := NewTicker(e, MaxInterval, nil)
	sub := e.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tk.Start(ctx)

	// Give the loop a moment to arm the 30s timer, then speed up.
	time.Sleep(50 * time.Millisecond)
	tk.SetSpeed(200)

	waitTick(t, sub.C, 3*time.Second)
}

func TestStopIsIdempotent(t *testing.T) {
	tk := NewTicker(newTestEngine(), MinInterval, nil)
	done := make(chan struct{})
	go func() {
		tk.Start(context.Background())
		close(done)
	}()
	tk.Stop()
	tk.Stop()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected Stop to end the loop")
	}
}

func TestSpeedChangesAreJournaled(t *testing.T) {
	el := events.NewEventLog(events.Options{})
	e := New(DefaultSettings(), Options{Journal: el})
	tk := NewTicker(e, DefaultInterval, nil)

	tk.SetSpeed(50)

	changes := el.GetByType(events.EventTypeSpeedChanged)
	if len(changes) != 1 {
		t.Fatalf("Expected 1 SPEED_CHANGED, got %d", len(changes))
	}
	p, ok := changes[0].Payload.(SpeedPayload)
	if !ok {
		t.Fatalf("Expected SpeedPayload, got %T", changes[0].Payload)
	}
	if p.RequestedMs != 50 || p.IntervalMs != 200 {
		t.Errorf("Expected 50 -> 200, got %+v", p)
	}
}
