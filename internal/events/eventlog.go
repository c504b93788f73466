// Package events provides the tick broadcast and the colony journal.
// The journal is an immutable, ordered record of every reset, build and tick.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a journal event.
type EventType string

const (
	EventTypeColonyReset  EventType = "COLONY_RESET"
	EventTypeBuild        EventType = "BUILD"
	EventTypeTick         EventType = "TICK"
	EventTypeSpeedChanged EventType = "SPEED_CHANGED"
)

// GameEvent represents an immutable record of something that happened to the colony.
type GameEvent struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	RunID     string      `json:"run_id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"type"`
	Source    string      `json:"source"` // SCHEDULER, MANUAL, API, WS...
	Tick      int         `json:"tick"`
	Digest    string      `json:"digest,omitempty"`
	Payload   interface{} `json:"payload"`
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event GameEvent) error
}

// PersisterFunc adapts a function to EventPersister.
type PersisterFunc func(GameEvent) error

// Append calls f(event).
func (f PersisterFunc) Append(event GameEvent) error { return f(event) }

// Options tunes an EventLog.
type Options struct {
	HistoryLimit int // Events kept in memory; 0 keeps everything
	QueueSize    int // Pending persister writes before events are discarded

	// OnWrite is called after each persister write; OnDiscard when the queue is full.
	OnWrite   func(latency time.Duration, err error)
	OnDiscard func()
}

// EventLog is the in-memory append-only log of colony events. Events are
// forwarded in append order to the persisters by a single writer goroutine.
type EventLog struct {
	mu         sync.RWMutex
	events     []GameEvent
	seq        int64
	opts       Options
	persisters []EventPersister
	queue      chan GameEvent
	done       chan struct{}
	closeOnce  sync.Once
}

// NewEventLog creates a new event log with optional persisters.
func NewEventLog(opts Options, persisters ...EventPersister) *EventLog {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	el := &EventLog{
		events:     make([]GameEvent, 0),
		opts:       opts,
		persisters: persisters,
		done:       make(chan struct{}),
	}
	if len(persisters) > 0 {
		el.queue = make(chan GameEvent, opts.QueueSize)
		go el.writeLoop()
	} else {
		close(el.done)
	}
	return el
}

// Append adds a new event to the log, assigning its ID, sequence number and
// timestamp. Events are immutable once appended. Append never blocks on a
// persister: if the write queue is full the event is kept in memory only.
func (el *EventLog) Append(event GameEvent) GameEvent {
	el.mu.Lock()
	defer el.mu.Unlock()

	el.seq++
	event.Seq = el.seq
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	el.events = append(el.events, event)
	// Up to 2*limit events are held so the trim runs once per limit appends.
	if limit := el.opts.HistoryLimit; limit > 0 && len(el.events) > 2*limit {
		n := copy(el.events, el.events[len(el.events)-limit:])
		clear(el.events[n:])
		el.events = el.events[:n]
	}

	if el.queue != nil {
		select {
		case el.queue <- event:
		default:
			if el.opts.OnDiscard != nil {
				el.opts.OnDiscard()
			}
		}
	}
	return event
}

func (el *EventLog) writeLoop() {
	defer close(el.done)
	for event := range el.queue {
		for _, p := range el.persisters {
			start := time.Now()
			err := p.Append(event)
			if el.opts.OnWrite != nil {
				el.opts.OnWrite(time.Since(start), err)
			}
		}
	}
}

// Close stops accepting persister writes and waits until queued events are
// written or ctx expires.
func (el *EventLog) Close(ctx context.Context) error {
	el.closeOnce.Do(func() {
		el.mu.Lock()
		if el.queue != nil {
			close(el.queue)
			el.queue = nil
		}
		el.mu.Unlock()
	})
	select {
	case <-el.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetByType returns all retained events of a type.
func (el *EventLog) GetByType(t EventType) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.retainedLocked() {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

// Since returns retained events with a sequence number greater than seq.
func (el *EventLog) Since(seq int64) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.retainedLocked() {
		if e.Seq > seq {
			result = append(result, e)
		}
	}
	return result
}

// Replay returns a copy of the retained history in append order.
func (el *EventLog) Replay() []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()
	retained := el.retainedLocked()
	out := make([]GameEvent, len(retained))
	copy(out, retained)
	return out
}

// retainedLocked is the visible history: the last HistoryLimit events.
func (el *EventLog) retainedLocked() []GameEvent {
	if limit := el.opts.HistoryLimit; limit > 0 && len(el.events) > limit {
		return el.events[len(el.events)-limit:]
	}
	return el.events
}

// LastSeq returns the sequence number of the most recent event.
func (el *EventLog) LastSeq() int64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.seq
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
