package engine

import (
	"encoding/json"
	"fmt"

	"github.com/lifesupport/colony/server/internal/domain/colony"
	"github.com/lifesupport/colony/server/internal/domain/resource"
	"github.com/lifesupport/colony/server/internal/events"
)

// Divergence is the first journal step whose replayed state differs from
// the recorded one.
type Divergence struct {
	Seq      int64            `json:"seq"`
	Type     events.EventType `json:"type"`
	Tick     int              `json:"tick"`
	Expected string           `json:"expected"`
	Actual   string           `json:"actual"`
	Reason   string           `json:"reason"`
}

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	Steps      int             `json:"steps"`
	Resets     int             `json:"resets"`
	Builds     int             `json:"builds"`
	Ticks      int             `json:"ticks"`
	Final      colony.Snapshot `json:"final"`
	Divergence *Divergence     `json:"divergence,omitempty"`
}

// OK reports whether every recorded digest was reproduced.
func (r ReplayResult) OK() bool { return r.Divergence == nil }

// Replay re-executes a journal against a fresh engine and compares each
// recorded digest with the replayed one. A COLONY_RESET step that carries
// its own settings replaces settings from that point on. SPEED_CHANGED is
// ignored since cadence does not affect state. Replay stops at the first
// divergence.
func Replay(settings Settings, history []events.GameEvent) (ReplayResult, error) {
	e := New(settings, Options{})
	var res ReplayResult

	for _, ev := range history {
		var digest string
		switch ev.Type {
		case events.EventTypeColonyReset:
			var p ResetPayload
			if err := DecodePayload(ev.Payload, &p); err != nil {
				return res, fmt.Errorf("replay seq %d: %w", ev.Seq, err)
			}
			e.mu.Lock()
			if p.GridWidth > 0 && p.GridHeight > 0 {
				e.settings = settingsFromReset(p)
			}
			digest = e.resetLocked(SourceReplay).Digest()
			e.mu.Unlock()
			res.Resets++

		case events.EventTypeBuild:
			var p BuildPayload
			if err := DecodePayload(ev.Payload, &p); err != nil {
				return res, fmt.Errorf("replay seq %d: %w", ev.Seq, err)
			}
			report := e.BuildFrom(SourceReplay, p.BuildingType, p.X, p.Y)
			digest = report.ColonyState.Digest()
			res.Builds++
			if report.Success != p.Success {
				res.Steps++
				res.Divergence = &Divergence{
					Seq: ev.Seq, Type: ev.Type, Tick: ev.Tick,
					Expected: fmt.Sprintf("success=%t", p.Success),
					Actual:   fmt.Sprintf("success=%t", report.Success),
					Reason:   "build outcome differs",
				}
				res.Final = report.ColonyState
				return res, nil
			}

		case events.EventTypeTick:
			digest = e.TickFrom(SourceReplay).Digest
			res.Ticks++

		default:
			continue
		}

		res.Steps++
		if ev.Digest != "" && ev.Digest != digest {
			res.Divergence = &Divergence{
				Seq: ev.Seq, Type: ev.Type, Tick: ev.Tick,
				Expected: ev.Digest,
				Actual:   digest,
				Reason:   "state digest differs",
			}
			break
		}
	}

	res.Final = e.Snapshot()
	return res, nil
}

func settingsFromReset(p ResetPayload) Settings {
	s := Settings{ColonyName: p.Name, Grid: Grid{Width: p.GridWidth, Height: p.GridHeight}}
	for key, v := range p.Start {
		if r, ok := resource.Parse(key); ok {
			s.Start[r] = v
		}
	}
	return s
}

// DecodePayload converts a payload that may be a typed struct, a decoded
// JSON map or raw JSON into dst.
func DecodePayload(payload interface{}, dst interface{}) error {
	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
