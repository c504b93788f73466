// Package building defines the static catalog of colony structures.
// This package is PURE and must NOT import any infrastructure packages.
package building

import (
	"strings"

	"github.com/lifesupport/colony/server/internal/domain/resource"
)

// Kind identifies a type of building.
type Kind int

const (
	SolarPanel Kind = iota
	HydroponicFarm
	WaterExtractor
	Mine
	Habitat
)

// Count is the number of building kinds.
const Count = 5

// All lists every building kind in catalog order.
var All = [Count]Kind{SolarPanel, HydroponicFarm, WaterExtractor, Mine, Habitat}

// Definition describes what a building costs and what it does every tick.
type Definition struct {
	ID          string
	Name        string
	Description string
	Cost        resource.Amounts // Debited once at placement
	Produces    resource.Amounts // Added every tick, per instance
	Consumes    resource.Amounts // Subtracted every tick, per instance
	// PopulationCapacityBonus is added to the colony's capacity when placed.
	PopulationCapacityBonus int
}

// Net returns the per-tick change for one instance of the building.
func (d Definition) Net() resource.Amounts {
	var net resource.Amounts
	for _, r := range resource.All {
		net[r] = d.Produces[r] - d.Consumes[r]
	}
	return net
}

// Registry contains every building kind and its rules.
var Registry = [Count]Definition{
	SolarPanel: {
		ID:          "SOLAR_PANEL",
		Name:        "Solar Panel",
		Description: "Generates energy from sunlight",
		Cost:        amounts(resource.Minerals, 10),
		Produces:    amounts(resource.Energy, 5),
	},
	HydroponicFarm: {
		ID:          "HYDROPONIC_FARM",
		Name:        "Hydroponic Farm",
		Description: "Grows food using water and energy",
		Cost:        amounts(resource.Minerals, 15, resource.Energy, 5),
		Produces:    amounts(resource.Food, 3),
		Consumes:    amounts(resource.Water, 1, resource.Energy, 1),
	},
	WaterExtractor: {
		ID:          "WATER_EXTRACTOR",
		Name:        "Water Extractor",
		Description: "Extracts water from the Martian ice",
		Cost:        amounts(resource.Minerals, 12),
		Produces:    amounts(resource.Water, 4),
		Consumes:    amounts(resource.Energy, 2),
	},
	Mine: {
		ID:          "MINE",
		Name:        "Mining Facility",
		Description: "Extracts minerals from the ground",
		Cost:        amounts(resource.Minerals, 8),
		Produces:    amounts(resource.Minerals, 2),
		Consumes:    amounts(resource.Energy, 3),
	},
	Habitat: {
		ID:                      "HABITAT",
		Name:                    "Living Habitat",
		Description:             "Houses colonists, increases population capacity by 5",
		Cost:                    amounts(resource.Minerals, 25, resource.Water, 10),
		Consumes:                amounts(resource.Energy, 2),
		PopulationCapacityBonus: 5,
	},
}

// amounts builds an Amounts vector from (kind, value) pairs.
func amounts(pairs ...any) resource.Amounts {
	var a resource.Amounts
	for i := 0; i+1 < len(pairs); i += 2 {
		a[pairs[i].(resource.Kind)] = pairs[i+1].(int)
	}
	return a
}

// Valid reports whether k is a known building kind.
func (k Kind) Valid() bool {
	return k >= 0 && int(k) < Count
}

// String returns the upper-case identifier, e.g. "SOLAR_PANEL".
func (k Kind) String() string {
	if !k.Valid() {
		return "UNKNOWN"
	}
	return Registry[k].ID
}

// Key returns the lower-case name used in snapshots, e.g. "solar_panel".
func (k Kind) Key() string {
	return strings.ToLower(k.String())
}

// Definition returns the catalog entry for k.
func (k Kind) Definition() Definition {
	return Registry[k]
}

// Parse resolves a building identifier, case-insensitively.
func Parse(s string) (Kind, bool) {
	s = strings.TrimSpace(s)
	for _, k := range All {
		if strings.EqualFold(Registry[k].ID, s) {
			return k, true
		}
	}
	return 0, false
}

// Names returns every building identifier in catalog order.
func Names() []string {
	names := make([]string, 0, Count)
	for _, k := range All {
		names = append(names, Registry[k].ID)
	}
	return names
}
