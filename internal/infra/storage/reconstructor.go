// Package storage - reconstructor.go
// Colony recap: rebuilds a run's story from the journal.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/events"
)

// Reconstructor rebuilds run summaries from the event log.
// This is used for:
// 1. The /colony/history/recap endpoint
// 2. `audit recap` and `audit verify` on the CLI
type Reconstructor struct {
	eventRepo EventRepository
}

// NewReconstructor creates a new run reconstructor.
func NewReconstructor(eventRepo EventRepository) *Reconstructor {
	return &Reconstructor{eventRepo: eventRepo}
}

// RecapEvent is a simplified event for the recap timeline.
type RecapEvent struct {
	Seq       int64  `json:"seq"`
	Tick      int    `json:"tick"`
	EventType string `json:"event_type"`
	Summary   string `json:"summary"` // Human-readable description
	Impact    string `json:"impact"`  // "POSITIVE", "NEGATIVE", "NEUTRAL"
}

// Recap summarizes one run. Collapse fields describe the colony after the
// last reset.
type Recap struct {
	RunID          string         `json:"run_id"`
	Events         int            `json:"events"`
	Resets         int            `json:"resets"`
	Ticks          int            `json:"ticks"`
	LastTick       int            `json:"last_tick"`
	BuildsOK       int            `json:"builds_ok"`
	BuildsFailed   map[string]int `json:"builds_failed"`
	BuildsByType   map[string]int `json:"builds_by_type"`
	PowerShortages int            `json:"power_shortages"`
	GrowthEvents   int            `json:"growth_events"`
	SpeedChanges   int            `json:"speed_changes"`
	Collapsed      bool           `json:"collapsed"`
	CollapseCause  string         `json:"collapse_cause,omitempty"`
	CollapseTick   int            `json:"collapse_tick,omitempty"`
	Timeline       []RecapEvent   `json:"timeline"`
}

// History returns the full journal of a run in sequence order.
func (r *Reconstructor) History(ctx context.Context, runID string) ([]events.GameEvent, error) {
	evs, err := r.eventRepo.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events for run: %w", err)
	}
	return evs, nil
}

// Page returns up to limit events of a run with seq greater than since,
// optionally of one type only.
func (r *Reconstructor) Page(ctx context.Context, runID string, eventType events.EventType, since int64, limit int) ([]events.GameEvent, error) {
	if eventType == "" {
		evs, err := r.eventRepo.GetSince(ctx, runID, since, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to page events for run: %w", err)
		}
		return evs, nil
	}

	evs, err := r.eventRepo.GetByEventType(ctx, runID, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s events for run: %w", eventType, err)
	}
	out := evs[:0]
	for _, e := range evs {
		if e.Seq <= since {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Recap loads a run and summarizes it.
func (r *Reconstructor) Recap(ctx context.Context, runID string) (*Recap, error) {
	evs, err := r.History(ctx, runID)
	if err != nil {
		return nil, err
	}
	return BuildRecap(runID, evs), nil
}

// BuildRecap summarizes an ordered event list. Payloads may be typed,
// decoded JSON maps or raw JSON.
func BuildRecap(runID string, evs []events.GameEvent) *Recap {
	recap := &Recap{
		RunID:        runID,
		BuildsFailed: make(map[string]int),
		BuildsByType: make(map[string]int),
		Timeline:     make([]RecapEvent, 0),
	}

	for _, e := range evs {
		recap.Events++
		switch e.Type {
		case events.EventTypeColonyReset:
			recap.Resets++
			recap.Collapsed = false
			recap.CollapseCause = ""
			recap.CollapseTick = 0
			recap.LastTick = 0
			recap.add(e, "The colony was founded.", "NEUTRAL")

		case events.EventTypeBuild:
			var p engine.BuildPayload
			if engine.DecodePayload(e.Payload, &p) != nil {
				continue
			}
			if p.Success {
				recap.BuildsOK++
				recap.BuildsByType[p.BuildingType]++
				recap.add(e, fmt.Sprintf("Built %s at (%d,%d).", p.BuildingType, p.X, p.Y), "POSITIVE")
			} else {
				recap.BuildsFailed[p.Error]++
			}

		case events.EventTypeTick:
			recap.Ticks++
			recap.LastTick = e.Tick
			var p engine.TickPayload
			if engine.DecodePayload(e.Payload, &p) != nil {
				continue
			}
			if p.PowerShortage {
				recap.PowerShortages++
			}
			if p.Grew {
				recap.GrowthEvents++
			}
			if p.Collapsed {
				recap.Collapsed = true
				recap.CollapseTick = e.Tick
				recap.CollapseCause = collapseCause(p.Events)
				recap.add(e, "The colony collapsed: "+recap.CollapseCause+".", "NEGATIVE")
			}

		case events.EventTypeSpeedChanged:
			recap.SpeedChanges++
			var p engine.SpeedPayload
			if engine.DecodePayload(e.Payload, &p) == nil {
				recap.add(e, fmt.Sprintf("Tick interval set to %dms.", p.IntervalMs), "NEUTRAL")
			}
		}
	}
	return recap
}

func (r *Recap) add(e events.GameEvent, summary, impact string) {
	r.Timeline = append(r.Timeline, RecapEvent{
		Seq:       e.Seq,
		Tick:      e.Tick,
		EventType: string(e.Type),
		Summary:   summary,
		Impact:    impact,
	})
}

// collapseCause extracts the cause from a tick summary.
func collapseCause(summary string) string {
	switch {
	case strings.Contains(summary, engine.EventStarvation):
		return "starvation"
	case strings.Contains(summary, engine.EventDehydration):
		return "dehydration"
	default:
		return "unknown"
	}
}
