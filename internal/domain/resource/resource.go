// Package resource defines the resource kinds tracked by the colony.
// This package is PURE and must NOT import any infrastructure packages.
package resource

import "strings"

// Kind identifies one of the colony's resources.
type Kind int

const (
	Energy Kind = iota
	Food
	Water
	Minerals
)

// Count is the number of resource kinds.
const Count = 4

// All lists every resource kind in catalog order.
var All = [Count]Kind{Energy, Food, Water, Minerals}

// Definition provides display metadata about a resource kind.
type Definition struct {
	ID          string
	Name        string
	Description string
}

// Registry contains all known resources and their display metadata.
var Registry = [Count]Definition{
	Energy:   {ID: "ENERGY", Name: "Energy", Description: "Powers all colony operations"},
	Food:     {ID: "FOOD", Name: "Food", Description: "Feeds the colonists"},
	Water:    {ID: "WATER", Name: "Water", Description: "Essential for survival"},
	Minerals: {ID: "MINERALS", Name: "Minerals", Description: "Used for construction"},
}

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	return k >= 0 && int(k) < Count
}

// String returns the upper-case identifier, e.g. "ENERGY".
func (k Kind) String() string {
	if !k.Valid() {
		return "UNKNOWN"
	}
	return Registry[k].ID
}

// Key returns the lower-case name used in snapshots, e.g. "energy".
func (k Kind) Key() string {
	return strings.ToLower(k.String())
}

// Definition returns the display metadata for k.
func (k Kind) Definition() Definition {
	return Registry[k]
}

// Parse resolves a resource identifier, case-insensitively.
func Parse(s string) (Kind, bool) {
	for _, k := range All {
		if strings.EqualFold(Registry[k].ID, s) {
			return k, true
		}
	}
	return 0, false
}

// Amounts is a fixed per-resource quantity vector. Being an array it is
// copied on assignment, so catalog tables built from it are immutable.
type Amounts [Count]int

// Of returns the amount for k.
func (a Amounts) Of(k Kind) int {
	return a[k]
}

// IsZero reports whether every entry is zero.
func (a Amounts) IsZero() bool {
	return a == Amounts{}
}

// Scale multiplies every entry by n.
func (a Amounts) Scale(n int) Amounts {
	for i := range a {
		a[i] *= n
	}
	return a
}

// Map returns the non-zero entries keyed by lower-case resource name.
func (a Amounts) Map() map[string]int {
	out := make(map[string]int)
	for _, k := range All {
		if a[k] != 0 {
			out[k.Key()] = a[k]
		}
	}
	return out
}

// FullMap returns every entry, including zeros, keyed by lower-case resource name.
func (a Amounts) FullMap() map[string]int {
	out := make(map[string]int, Count)
	for _, k := range All {
		out[k.Key()] = a[k]
	}
	return out
}
