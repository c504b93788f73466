// Package colony defines the mutable colony aggregate and its snapshots.
// This package is PURE and must NOT import any infrastructure packages.
//
// A Colony is not safe for concurrent use. The engine owns the only
// reference and serializes every call behind its own lock.
package colony

import (
	"encoding/hex"
	"encoding/json"

	"lukechampine.com/blake3"

	"github.com/lifesupport/colony/server/internal/domain/building"
	"github.com/lifesupport/colony/server/internal/domain/resource"
)

const (
	// InitialPopulation is the number of colonists at reset.
	InitialPopulation = 5
	// InitialCapacity is the population capacity before any habitat.
	InitialCapacity = 10
)

// Cell is a grid coordinate.
type Cell struct {
	X int
	Y int
}

// PlacedBuilding is an immutable record of one successful placement.
type PlacedBuilding struct {
	ID   int
	Kind building.Kind
	X    int
	Y    int
}

// Colony holds the full simulation state.
type Colony struct {
	name               string
	resources          resource.Amounts
	buildings          [building.Count]int
	placed             []PlacedBuilding
	occupied           map[Cell]struct{}
	nextBuildingID     int
	population         int
	populationCapacity int
	tickCount          int
	alive              bool
}

// New creates a freshly seeded colony.
func New(name string, start resource.Amounts) *Colony {
	return &Colony{
		name:               name,
		resources:          start,
		placed:             make([]PlacedBuilding, 0),
		occupied:           make(map[Cell]struct{}),
		nextBuildingID:     1,
		population:         InitialPopulation,
		populationCapacity: InitialCapacity,
		alive:              true,
	}
}

// Name returns the colony name.
func (c *Colony) Name() string { return c.name }

// Resource returns the current level of r.
func (c *Colony) Resource(r resource.Kind) int { return c.resources[r] }

// Resources returns a copy of every resource level.
func (c *Colony) Resources() resource.Amounts { return c.resources }

// AddResource adds delta (which may be negative) to r without clamping.
func (c *Colony) AddResource(r resource.Kind, delta int) {
	c.resources[r] += delta
}

// SetResource overwrites the level of r.
func (c *Colony) SetResource(r resource.Kind, amount int) {
	c.resources[r] = amount
}

// CanAfford reports whether every cost entry is covered.
func (c *Colony) CanAfford(cost resource.Amounts) bool {
	for _, r := range resource.All {
		if c.resources[r] < cost[r] {
			return false
		}
	}
	return true
}

// Debit subtracts cost from the resource levels.
func (c *Colony) Debit(cost resource.Amounts) {
	for _, r := range resource.All {
		c.resources[r] -= cost[r]
	}
}

// BuildingCount returns the number of placed buildings of kind k.
func (c *Colony) BuildingCount(k building.Kind) int { return c.buildings[k] }

// IsOccupied reports whether a building already stands at (x, y).
func (c *Colony) IsOccupied(x, y int) bool {
	_, ok := c.occupied[Cell{X: x, Y: y}]
	return ok
}

// Place records a new building at (x, y). The caller must already have
// checked bounds, occupancy and cost.
func (c *Colony) Place(k building.Kind, x, y int) PlacedBuilding {
	pb := PlacedBuilding{ID: c.nextBuildingID, Kind: k, X: x, Y: y}
	c.nextBuildingID++
	c.placed = append(c.placed, pb)
	c.occupied[Cell{X: x, Y: y}] = struct{}{}
	c.buildings[k]++
	c.populationCapacity += k.Definition().PopulationCapacityBonus
	return pb
}

// Placed returns a copy of the placed-building list in placement order.
func (c *Colony) Placed() []PlacedBuilding {
	out := make([]PlacedBuilding, len(c.placed))
	copy(out, c.placed)
	return out
}

// Population returns the current number of colonists.
func (c *Colony) Population() int { return c.population }

// PopulationCapacity returns the maximum population.
func (c *Colony) PopulationCapacity() int { return c.populationCapacity }

// Grow adds one colonist if below capacity and reports whether it did.
func (c *Colony) Grow() bool {
	if c.population >= c.populationCapacity {
		return false
	}
	c.population++
	return true
}

// TickCount returns the number of ticks processed.
func (c *Colony) TickCount() int { return c.tickCount }

// AdvanceTick increments the tick counter and returns the new value.
func (c *Colony) AdvanceTick() int {
	c.tickCount++
	return c.tickCount
}

// Alive reports whether the colony has not collapsed.
func (c *Colony) Alive() bool { return c.alive }

// Collapse marks the colony as permanently collapsed.
func (c *Colony) Collapse() { c.alive = false }

// PlacedBuildingView is the wire form of a PlacedBuilding.
type PlacedBuildingView struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// Snapshot is an immutable, read-only copy of colony state.
type Snapshot struct {
	Name               string               `json:"name"`
	Resources          map[string]int       `json:"resources"`
	Buildings          map[string]int       `json:"buildings"`
	Population         int                  `json:"population"`
	PopulationCapacity int                  `json:"populationCapacity"`
	TickCount          int                  `json:"tickCount"`
	Alive              bool                 `json:"alive"`
	PlacedBuildings    []PlacedBuildingView `json:"placedBuildings"`
}

// Snapshot copies the current state.
func (c *Colony) Snapshot() Snapshot {
	buildings := make(map[string]int, building.Count)
	for _, k := range building.All {
		buildings[k.Key()] = c.buildings[k]
	}
	placed := make([]PlacedBuildingView, 0, len(c.placed))
	for _, pb := range c.placed {
		placed = append(placed, PlacedBuildingView{ID: pb.ID, Type: pb.Kind.String(), X: pb.X, Y: pb.Y})
	}
	return Snapshot{
		Name:               c.name,
		Resources:          c.resources.FullMap(),
		Buildings:          buildings,
		Population:         c.population,
		PopulationCapacity: c.populationCapacity,
		TickCount:          c.tickCount,
		Alive:              c.alive,
		PlacedBuildings:    placed,
	}
}

// Digest returns the hex blake3-256 hash of the canonical JSON encoding.
// encoding/json sorts map keys, so equal states hash equally.
func (s Snapshot) Digest() string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
