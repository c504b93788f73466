// Package engine runs the colony simulation.
//
// Engine is the single critical section around the colony: every build,
// tick, reset and snapshot runs under one mutex, and the journal append and
// tick broadcast for a mutation happen inside that same section. Journal
// order, broadcast order and mutation order are therefore identical.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lifesupport/colony/server/internal/domain/building"
	"github.com/lifesupport/colony/server/internal/domain/colony"
	"github.com/lifesupport/colony/server/internal/domain/resource"
	"github.com/lifesupport/colony/server/internal/events"
	"github.com/lifesupport/colony/server/internal/platform/logger"
	"github.com/lifesupport/colony/server/internal/platform/metrics"
)

// Sources recorded on journal events and tick reports.
const (
	SourceStartup   = "STARTUP"
	SourceScheduler = "SCHEDULER"
	SourceManual    = "MANUAL"
	SourceAPI       = "API"
	SourceWS        = "WS"
	SourceReplay    = "REPLAY"
)

// Settings seed a colony on every reset.
type Settings struct {
	ColonyName string
	Start      resource.Amounts
	Grid       Grid
}

// DefaultSettings returns the stock starting colony.
func DefaultSettings() Settings {
	var start resource.Amounts
	start[resource.Energy] = 100
	start[resource.Food] = 50
	start[resource.Water] = 50
	start[resource.Minerals] = 30
	return Settings{
		ColonyName: "Life Support",
		Start:      start,
		Grid:       Grid{Width: 32, Height: 32},
	}
}

// Options wires the engine to its collaborators. Every field is optional.
type Options struct {
	Logger           *logger.Logger
	Metrics          *metrics.Collector
	Journal          *events.EventLog
	SubscriberBuffer int
	RunID            string
}

// BuildingInfo describes a building kind for clients.
type BuildingInfo struct {
	ID                      string         `json:"id"`
	Name                    string         `json:"name"`
	Description             string         `json:"description"`
	Cost                    map[string]int `json:"cost"`
	Produces                map[string]int `json:"produces"`
	Consumes                map[string]int `json:"consumes"`
	PopulationCapacityBonus int            `json:"populationCapacityBonus,omitempty"`
}

// ResourceInfo describes a resource kind for clients.
type ResourceInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog is static configuration, independent of live state.
type Catalog struct {
	GridWidth  int            `json:"gridWidth"`
	GridHeight int            `json:"gridHeight"`
	Buildings  []BuildingInfo `json:"buildings"`
	Resources  []ResourceInfo `json:"resources"`
}

// ResetPayload is journaled with COLONY_RESET.
type ResetPayload struct {
	Name       string         `json:"name"`
	Start      map[string]int `json:"start"`
	GridWidth  int            `json:"gridWidth"`
	GridHeight int            `json:"gridHeight"`
}

// BuildPayload is journaled with BUILD.
type BuildPayload struct {
	BuildingType string `json:"buildingType"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	BuildingID   int    `json:"buildingId,omitempty"`
}

// TickPayload is journaled with TICK.
type TickPayload struct {
	Events           string         `json:"events"`
	AlreadyCollapsed bool           `json:"alreadyCollapsed,omitempty"`
	Collapsed        bool           `json:"collapsed,omitempty"`
	PowerShortage    bool           `json:"powerShortage,omitempty"`
	Grew             bool           `json:"grew,omitempty"`
	Population       int            `json:"population"`
	Resources        map[string]int `json:"resources"`
}

// SpeedPayload is journaled with SPEED_CHANGED.
type SpeedPayload struct {
	RequestedMs int64 `json:"requestedMs"`
	IntervalMs  int64 `json:"intervalMs"`
}

// Engine owns the colony and serializes every access to it.
type Engine struct {
	mu       sync.Mutex
	settings Settings
	colony   *colony.Colony

	broadcaster *events.Broadcaster[TickReport]
	journal     *events.EventLog
	logger      *logger.Logger
	metrics     *metrics.Collector
	runID       string
	now         func() time.Time
}

// New creates an engine holding a freshly reset colony.
func New(settings Settings, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}

	e := &Engine{
		settings:    settings,
		broadcaster: events.NewBroadcaster[TickReport](opts.SubscriberBuffer),
		journal:     opts.Journal,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		runID:       opts.RunID,
		now:         time.Now,
	}
	e.broadcaster.OnSubscribe = func() { e.metrics.RecordSubscriber(1) }
	e.broadcaster.OnUnsubscribe = func() { e.metrics.RecordSubscriber(-1) }
	e.broadcaster.OnDrop = func() {
		e.metrics.RecordDroppedSubscriber()
		e.logger.Warn("tick subscriber dropped: buffer full")
	}

	e.mu.Lock()
	e.resetLocked(SourceStartup)
	e.mu.Unlock()
	return e
}

// RunID identifies this engine's journal.
func (e *Engine) RunID() string { return e.runID }

// Settings returns the settings used on reset.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Snapshot returns a consistent copy of the colony.
func (e *Engine) Snapshot() colony.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.colony.Snapshot()
}

// Catalog returns the grid size and the building and resource tables.
func (e *Engine) Catalog() Catalog {
	grid := e.Settings().Grid
	cat := Catalog{
		GridWidth:  grid.Width,
		GridHeight: grid.Height,
		Buildings:  make([]BuildingInfo, 0, building.Count),
		Resources:  make([]ResourceInfo, 0, resource.Count),
	}
	for _, k := range building.All {
		def := k.Definition()
		cat.Buildings = append(cat.Buildings, BuildingInfo{
			ID:                      def.ID,
			Name:                    def.Name,
			Description:             def.Description,
			Cost:                    def.Cost.Map(),
			Produces:                def.Produces.Map(),
			Consumes:                def.Consumes.Map(),
			PopulationCapacityBonus: def.PopulationCapacityBonus,
		})
	}
	for _, r := range resource.All {
		def := r.Definition()
		cat.Resources = append(cat.Resources, ResourceInfo{ID: def.ID, Name: def.Name, Description: def.Description})
	}
	return cat
}

// Build places a building by name on behalf of an API caller.
func (e *Engine) Build(kindName string, x, y int) BuildReport {
	return e.BuildFrom(SourceAPI, kindName, x, y)
}

// BuildFrom places a building by name. Names are matched case-insensitively;
// an unknown name fails with UNKNOWN_BUILDING_KIND and leaves state untouched.
func (e *Engine) BuildFrom(source, kindName string, x, y int) BuildReport {
	k, ok := building.Parse(kindName)
	if !ok {
		return e.rejectUnknown(source, kindName, x, y)
	}
	return e.build(source, k, x, y)
}

// BuildKind places a building of a known kind.
func (e *Engine) BuildKind(k building.Kind, x, y int) BuildReport {
	if !k.Valid() {
		return e.rejectUnknown(SourceAPI, k.String(), x, y)
	}
	return e.build(SourceAPI, k, x, y)
}

func (e *Engine) build(source string, k building.Kind, x, y int) BuildReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	placed, err := applyBuild(e.colony, e.settings.Grid, k, x, y)
	code := ErrorCode(err)
	snap := e.colony.Snapshot()

	report := BuildReport{
		Success:      err == nil,
		Message:      buildMessage(e.settings.Grid, k, x, y, err),
		BuildingType: k.String(),
		Error:        code,
		ColonyState:  snap,
		Err:          err,
	}
	payload := BuildPayload{BuildingType: k.String(), X: x, Y: y, Success: err == nil, Error: code}
	if err == nil {
		report.Building = &colony.PlacedBuildingView{ID: placed.ID, Type: placed.Kind.String(), X: placed.X, Y: placed.Y}
		payload.BuildingID = placed.ID
		e.logger.Event(string(events.EventTypeBuild), source,
			fmt.Sprintf("%s placed at (%d,%d) as %s", k.String(), x, y, placed.ID))
	} else {
		e.logger.Debug("build rejected", "type", k.String(), "x", x, "y", y, "error", code)
	}
	e.metrics.RecordBuild(code)
	e.appendLocked(events.EventTypeBuild, source, snap.Digest(), payload)
	return report
}

func (e *Engine) rejectUnknown(source, name string, x, y int) BuildReport {
	err := &UnknownKindError{Name: name, Valid: building.Names()}

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.colony.Snapshot()
	e.logger.Debug("build rejected", "type", name, "error", CodeUnknownBuildingKind)
	e.metrics.RecordBuild(CodeUnknownBuildingKind)
	e.appendLocked(events.EventTypeBuild, source, snap.Digest(), BuildPayload{
		BuildingType: strings.ToUpper(strings.TrimSpace(name)),
		X:            x,
		Y:            y,
		Error:        CodeUnknownBuildingKind,
	})
	return BuildReport{
		Success:      false,
		Message:      "Unknown building type: " + name,
		BuildingType: name,
		Error:        CodeUnknownBuildingKind,
		ValidTypes:   err.Valid,
		ColonyState:  snap,
		Err:          err,
	}
}

// Tick advances the colony one step on behalf of a manual caller.
func (e *Engine) Tick() TickReport {
	return e.TickFrom(SourceManual)
}

// TickFrom advances the colony one step, journals it and publishes the
// report to every subscriber.
func (e *Engine) TickFrom(source string) TickReport {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	out := applyTick(e.colony)
	snap := e.colony.Snapshot()
	report := TickReport{
		Tick:        out.Tick,
		Events:      out.Summary(),
		EventList:   out.Events,
		Collapsed:   !snap.Alive,
		Digest:      snap.Digest(),
		Source:      source,
		Timestamp:   e.now(),
		ColonyState: snap,
	}

	e.appendLocked(events.EventTypeTick, source, report.Digest, TickPayload{
		Events:           report.Events,
		AlreadyCollapsed: out.AlreadyCollapsed,
		Collapsed:        out.Collapsed,
		PowerShortage:    out.PowerShortage,
		Grew:             out.Grew,
		Population:       snap.Population,
		Resources:        snap.Resources,
	})
	e.broadcaster.Publish(report)

	switch {
	case out.Collapsed:
		e.metrics.RecordCollapse()
		e.logger.Warn("colony collapsed", "tick", out.Tick, "events", report.Events)
		e.logger.Event("COLLAPSE", source, fmt.Sprintf("tick %d: %s", out.Tick, report.Events))
	case out.PowerShortage:
		e.metrics.RecordPowerShortage()
		e.logger.Info("game tick", "tick", out.Tick, "source", source, "events", report.Events)
	default:
		e.logger.Info("game tick", "tick", out.Tick, "source", source, "events", report.Events)
	}
	e.metrics.RecordTick(time.Since(start))
	return report
}

// Reset replaces the colony with a freshly seeded one.
func (e *Engine) Reset() colony.Snapshot {
	return e.ResetFrom(SourceAPI)
}

// ResetFrom replaces the colony, recording who asked.
func (e *Engine) ResetFrom(source string) colony.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetLocked(source)
}

func (e *Engine) resetLocked(source string) colony.Snapshot {
	e.colony = colony.New(e.settings.ColonyName, e.settings.Start)
	snap := e.colony.Snapshot()
	e.appendLocked(events.EventTypeColonyReset, source, snap.Digest(), ResetPayload{
		Name:       e.settings.ColonyName,
		Start:      e.settings.Start.FullMap(),
		GridWidth:  e.settings.Grid.Width,
		GridHeight: e.settings.Grid.Height,
	})
	e.logger.Info("colony reset", "name", e.settings.ColonyName, "source", source)
	return snap
}

// Subscribe registers for every tick report published from now on.
func (e *Engine) Subscribe() *events.Subscription[TickReport] {
	return e.broadcaster.Subscribe()
}

// SubscribeBuffered is Subscribe with room for n pending reports, for
// relays that fan out to many slower readers.
func (e *Engine) SubscribeBuffered(n int) *events.Subscription[TickReport] {
	return e.broadcaster.SubscribeSize(n)
}

// Subscribers returns the number of live tick subscriptions.
func (e *Engine) Subscribers() int {
	return e.broadcaster.Len()
}

// Override mutates the colony under the engine lock. Overrides are not
// journaled, so a run that uses one will not replay cleanly.
func (e *Engine) Override(fn func(c *colony.Colony)) colony.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.colony)
	return e.colony.Snapshot()
}

// Shutdown closes every subscription. Ticks after Shutdown still run but
// reach no one.
func (e *Engine) Shutdown() {
	e.broadcaster.Close()
}

// recordSpeed journals a cadence change.
func (e *Engine) recordSpeed(source string, requestedMs int64, effective time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLocked(events.EventTypeSpeedChanged, source, "", SpeedPayload{
		RequestedMs: requestedMs,
		IntervalMs:  effective.Milliseconds(),
	})
}

func (e *Engine) appendLocked(t events.EventType, source, digest string, payload interface{}) {
	if e.journal == nil {
		return
	}
	ev := events.GameEvent{
		RunID:   e.runID,
		Type:    t,
		Source:  source,
		Tick:    e.colony.TickCount(),
		Digest:  digest,
		Payload: payload,
	}
	e.journal.Append(ev)
}
