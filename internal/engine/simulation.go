package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lifesupport/colony/server/internal/domain/building"
	"github.com/lifesupport/colony/server/internal/domain/colony"
	"github.com/lifesupport/colony/server/internal/domain/resource"
)

// Build failures. They are reported inside a BuildReport, never returned
// past the engine boundary.
var (
	ErrOutOfBounds           = errors.New("coordinates out of bounds")
	ErrCellOccupied          = errors.New("cell already occupied")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrUnknownBuildingKind   = errors.New("unknown building kind")
)

// Wire codes for build failures.
const (
	CodeOutOfBounds           = "OUT_OF_BOUNDS"
	CodeCellOccupied          = "CELL_OCCUPIED"
	CodeInsufficientResources = "INSUFFICIENT_RESOURCES"
	CodeUnknownBuildingKind   = "UNKNOWN_BUILDING_KIND"
)

// UnknownKindError carries the rejected name and the names that are accepted.
type UnknownKindError struct {
	Name  string
	Valid []string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown building type %q (valid: %s)", e.Name, strings.Join(e.Valid, ", "))
}

// Is makes errors.Is(err, ErrUnknownBuildingKind) hold.
func (e *UnknownKindError) Is(target error) bool {
	return target == ErrUnknownBuildingKind
}

// ErrorCode maps a build error to its wire code. Nil maps to "".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOutOfBounds):
		return CodeOutOfBounds
	case errors.Is(err, ErrCellOccupied):
		return CodeCellOccupied
	case errors.Is(err, ErrInsufficientResources):
		return CodeInsufficientResources
	case errors.Is(err, ErrUnknownBuildingKind):
		return CodeUnknownBuildingKind
	}
	return "INTERNAL"
}

// Event messages appended to a tick summary.
const (
	EventStarvation    = "COLONY COLLAPSED: Starvation!"
	EventDehydration   = "COLONY COLLAPSED: Dehydration!"
	EventPowerShortage = "WARNING: Power shortage!"
	EventGrowth        = "Population grew!"
)

// Growth requires strictly more than this much FOOD and WATER after metabolism.
const growthThreshold = 20

// Grid is the buildable area. Valid cells are 0 <= x < Width, 0 <= y < Height.
type Grid struct {
	Width  int
	Height int
}

// Contains reports whether (x, y) lies inside the grid.
func (g Grid) Contains(x, y int) bool {
	return x >= 0 && x < g.Width && y >= 0 && y < g.Height
}

// BuildReport is the result of a build attempt. ColonyState is always the
// post-attempt state.
type BuildReport struct {
	Success      bool                       `json:"success"`
	Message      string                     `json:"message"`
	BuildingType string                     `json:"buildingType"`
	Error        string                     `json:"error,omitempty"`
	ValidTypes   []string                   `json:"validTypes,omitempty"`
	Building     *colony.PlacedBuildingView `json:"building,omitempty"`
	ColonyState  colony.Snapshot            `json:"colonyState"`

	Err error `json:"-"`
}

// TickReport is the result of one tick, as published to subscribers.
type TickReport struct {
	Tick        int             `json:"tick"`
	Events      string          `json:"events"`
	EventList   []string        `json:"eventList"`
	Collapsed   bool            `json:"collapsed"`
	Digest      string          `json:"digest"`
	Source      string          `json:"source"`
	Timestamp   time.Time       `json:"timestamp"`
	ColonyState colony.Snapshot `json:"colonyState"`
}

// applyBuild validates and places a building. Checks run in order bounds,
// occupancy, cost; the colony is untouched unless all pass.
func applyBuild(c *colony.Colony, grid Grid, k building.Kind, x, y int) (colony.PlacedBuilding, error) {
	if !grid.Contains(x, y) {
		return colony.PlacedBuilding{}, ErrOutOfBounds
	}
	if c.IsOccupied(x, y) {
		return colony.PlacedBuilding{}, ErrCellOccupied
	}
	def := k.Definition()
	if !c.CanAfford(def.Cost) {
		return colony.PlacedBuilding{}, ErrInsufficientResources
	}
	c.Debit(def.Cost)
	return c.Place(k, x, y), nil
}

// buildMessage renders the human-readable outcome of a build attempt.
func buildMessage(grid Grid, k building.Kind, x, y int, err error) string {
	name := k.Definition().Name
	switch {
	case err == nil:
		return fmt.Sprintf("Successfully built %s at (%d,%d)", name, x, y)
	case errors.Is(err, ErrOutOfBounds):
		return fmt.Sprintf("Invalid coordinates (%d,%d). Grid is %dx%d", x, y, grid.Width, grid.Height)
	case errors.Is(err, ErrCellOccupied):
		return fmt.Sprintf("Cell (%d,%d) is already occupied", x, y)
	case errors.Is(err, ErrInsufficientResources):
		return "Not enough resources to build " + name
	}
	return err.Error()
}

// tickOutcome records what happened during one tick.
type tickOutcome struct {
	Tick             int
	Events           []string
	AlreadyCollapsed bool
	Collapsed        bool // this tick caused the collapse
	PowerShortage    bool
	Grew             bool
}

// Summary renders the outcome the way it is shown to players.
func (o tickOutcome) Summary() string {
	if o.AlreadyCollapsed {
		return fmt.Sprintf("Tick %d: colony has already collapsed.", o.Tick)
	}
	parts := append([]string{fmt.Sprintf("Tick %d processed.", o.Tick)}, o.Events...)
	return strings.Join(parts, " ")
}

// applyTick advances the colony by exactly one tick.
//
// A collapsed colony only advances its tick counter. Otherwise building
// effects are applied from the pre-tick counts, then population metabolism,
// then the first matching collapse rule (starvation, dehydration, power
// shortage), then growth. Only ENERGY is ever clamped.
func applyTick(c *colony.Colony) tickOutcome {
	out := tickOutcome{Tick: c.AdvanceTick(), Events: make([]string, 0, 2)}
	if !c.Alive() {
		out.AlreadyCollapsed = true
		return out
	}

	var delta resource.Amounts
	for _, k := range building.All {
		n := c.BuildingCount(k)
		if n == 0 {
			continue
		}
		net := k.Definition().Net().Scale(n)
		for _, r := range resource.All {
			delta[r] += net[r]
		}
	}
	for _, r := range resource.All {
		if delta[r] != 0 {
			c.AddResource(r, delta[r])
		}
	}

	pop := c.Population()
	c.AddResource(resource.Food, -(pop / 2))
	c.AddResource(resource.Water, -(pop / 3))

	switch {
	case c.Resource(resource.Food) <= 0:
		c.Collapse()
		out.Collapsed = true
		out.Events = append(out.Events, EventStarvation)
	case c.Resource(resource.Water) <= 0:
		c.Collapse()
		out.Collapsed = true
		out.Events = append(out.Events, EventDehydration)
	case c.Resource(resource.Energy) < 0:
		c.SetResource(resource.Energy, 0)
		out.PowerShortage = true
		out.Events = append(out.Events, EventPowerShortage)
	}

	if c.Alive() &&
		c.Resource(resource.Food) > growthThreshold &&
		c.Resource(resource.Water) > growthThreshold &&
		c.Grow() {
		out.Grew = true
		out.Events = append(out.Events, EventGrowth)
	}
	return out
}
