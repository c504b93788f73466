package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingPersister struct {
	mu     sync.Mutex
	events []GameEvent
}

func (p *recordingPersister) Append(e GameEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func TestAppendAssignsSequence(t *testing.T) {
	el := NewEventLog(Options{})
	first := el.Append(GameEvent{Type: EventTypeTick, Tick: 1})
	second := el.Append(GameEvent{Type: EventTypeBuild})

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("Expected seq 1 and 2, got %d and %d", first.Seq, second.Seq)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Error("Expected unique event IDs")
	}
	if first.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	if len(el.GetByType(EventTypeTick)) != 1 {
		t.Error("Expected one TICK event")
	}
	if len(el.Since(1)) != 1 {
		t.Error("Expected one event after seq 1")
	}
}

func TestHistoryLimit(t *testing.T) {
	el := NewEventLog(Options{HistoryLimit: 3})
	for i := 1; i <= 10; i++ {
		el.Append(GameEvent{Type: EventTypeTick, Tick: i})
	}
	history := el.Replay()
	if len(history) != 3 {
		t.Fatalf("Expected 3 retained events, got %d", len(history))
	}
	if history[0].Tick != 8 || history[2].Tick != 10 {
		t.Errorf("Expected ticks 8..10, got %d..%d", history[0].Tick, history[2].Tick)
	}
	if el.LastSeq() != 10 {
		t.Errorf("Expected last seq 10, got %d", el.LastSeq())
	}
	if since := el.Since(0); len(since) != 3 || since[0].Seq != 8 {
		t.Errorf("Expected Since to see seqs 8..10 only, got %d events", len(since))
	}
	if ticks := el.GetByType(EventTypeTick); len(ticks) != 3 {
		t.Errorf("Expected 3 retained ticks, got %d", len(ticks))
	}
}

func TestHistoryLimitTrimsInBatches(t *testing.T) {
	el := NewEventLog(Options{HistoryLimit: 3})
	for i := 1; i <= 1000; i++ {
		el.Append(GameEvent{Type: EventTypeTick, Tick: i})
		el.mu.RLock()
		held, backing := len(el.events), cap(el.events)
		el.mu.RUnlock()
		if held > 6 {
			t.Fatalf("Expected at most 6 held events after append %d, got %d", i, held)
		}
		if backing > 8 {
			t.Fatalf("Expected backing array to be reused, got cap %d after append %d", backing, i)
		}
	}
	history := el.Replay()
	if len(history) != 3 || history[0].Seq != 998 || history[2].Seq != 1000 {
		t.Errorf("Expected seqs 998..1000, got %+v", history)
	}
}

func TestPersistersReceiveEventsInOrder(t *testing.T) {
	p := &recordingPersister{}
	writes := 0
	var mu sync.Mutex
	el := NewEventLog(Options{OnWrite: func(time.Duration, error) {
		mu.Lock()
		writes++
		mu.Unlock()
	}}, p)

	for i := 1; i <= 100; i++ {
		el.Append(GameEvent{Type: EventTypeTick, Tick: i})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := el.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(p.events) != 100 {
		t.Fatalf("Expected 100 persisted events, got %d", len(p.events))
	}
	for i, e := range p.events {
		if e.Tick != i+1 {
			t.Fatalf("Expected tick %d at position %d, got %d", i+1, i, e.Tick)
		}
	}
	if writes != 100 {
		t.Errorf("Expected 100 write callbacks, got %d", writes)
	}

	// Appending after Close keeps history but does not persist.
	el.Append(GameEvent{Type: EventTypeTick, Tick: 101})
	if len(p.events) != 100 {
		t.Error("Expected no persistence after Close")
	}
}
