package building

import (
	"testing"

	"github.com/lifesupport/colony/server/internal/domain/resource"
)

func TestRegistryCosts(t *testing.T) {
	solar := SolarPanel.Definition()
	if solar.Cost.Of(resource.Minerals) != 10 {
		t.Errorf("Expected solar panel to cost 10 minerals, got %d", solar.Cost.Of(resource.Minerals))
	}
	if solar.Produces.Of(resource.Energy) != 5 {
		t.Errorf("Expected solar panel to produce 5 energy, got %d", solar.Produces.Of(resource.Energy))
	}

	mine := Mine.Definition()
	if mine.Cost.Of(resource.Minerals) != 8 {
		t.Errorf("Expected mine to cost 8 minerals, got %d", mine.Cost.Of(resource.Minerals))
	}

	habitat := Habitat.Definition()
	if habitat.Cost.Of(resource.Water) != 10 || habitat.Cost.Of(resource.Minerals) != 25 {
		t.Errorf("Unexpected habitat cost %v", habitat.Cost.Map())
	}
}

func TestOnlyHabitatGrantsCapacity(t *testing.T) {
	for _, k := range All {
		bonus := k.Definition().PopulationCapacityBonus
		if k == Habitat && bonus != 5 {
			t.Errorf("Expected habitat bonus 5, got %d", bonus)
		}
		if k != Habitat && bonus != 0 {
			t.Errorf("Expected no capacity bonus for %s, got %d", k, bonus)
		}
	}
}

func TestCatalogAmountsNonNegative(t *testing.T) {
	for _, k := range All {
		d := k.Definition()
		for _, r := range resource.All {
			if d.Cost[r] < 0 || d.Produces[r] < 0 || d.Consumes[r] < 0 {
				t.Errorf("%s has a negative %s entry", k, r)
			}
		}
	}
}

func TestNet(t *testing.T) {
	net := HydroponicFarm.Definition().Net()
	if net.Of(resource.Food) != 3 || net.Of(resource.Water) != -1 || net.Of(resource.Energy) != -1 {
		t.Errorf("Unexpected hydroponic farm net effect %v", net)
	}
}

func TestParse(t *testing.T) {
	k, ok := Parse("solar_panel")
	if !ok || k != SolarPanel {
		t.Errorf("Expected SOLAR_PANEL, got %v (%v)", k, ok)
	}
	if _, ok := Parse("SPACEPORT"); ok {
		t.Error("Expected SPACEPORT to be unknown")
	}
	names := Names()
	if len(names) != Count || names[0] != "SOLAR_PANEL" || names[4] != "HABITAT" {
		t.Errorf("Unexpected names %v", names)
	}
}

func TestRegistryIsCopiedByValue(t *testing.T) {
	d := Mine.Definition()
	d.Cost[resource.Minerals] = 999
	if Mine.Definition().Cost.Of(resource.Minerals) != 8 {
		t.Error("Expected catalog to be unaffected by mutation of a returned definition")
	}
}
