package optimizer

import (
	"testing"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

func buildSolution(t *testing.T, mods [4]model.ModuleInfo) model.ModuleSolution {
	t.Helper()
	sol, ok := model.NewModuleSolution(mods)
	if !ok {
		t.Fatalf("expected distinct uuids to build a valid solution")
	}
	return sol
}

func TestFitnessZeroOnDuplicateUUIDs(t *testing.T) {
	m := modWithParts(1, part("Strength Boost", 5))
	mods := [4]model.ModuleInfo{m, m, m, m}
	// NewModuleSolution rejects dup uuids outright, so build the invalid
	// solution by hand to exercise validSolution's defensive check.
	sol := model.ModuleSolution{Modules: mods, AttrBreakdown: map[string]uint32{"Strength Boost": 20}}
	if f := Fitness(sol, Criteria{}); f != 0 {
		t.Errorf("expected 0 fitness for a duplicate-uuid solution, got %v", f)
	}
}

func TestFitnessPrioritizedAttrsBonus(t *testing.T) {
	mods := [4]model.ModuleInfo{
		modWithParts(1, part("Strength Boost", 20)),
		modWithParts(2, part("Strength Boost", 1)),
		modWithParts(3, part("Agility Boost", 1)),
		modWithParts(4, part("Agility Boost", 1)),
	}
	sol := buildSolution(t, mods)

	withPriority := Fitness(sol, Criteria{PrioritizedAttrs: []string{"Strength Boost"}})
	withoutPriority := Fitness(sol, Criteria{})
	if withPriority <= withoutPriority {
		t.Errorf("expected prioritizing a high-value attribute to raise fitness: with=%v without=%v", withPriority, withoutPriority)
	}
}

func TestFitnessUnprioritizedPenalty(t *testing.T) {
	mods := [4]model.ModuleInfo{
		modWithParts(1, part("Strength Boost", 5)),
		modWithParts(2, part("Resistance", 20)),
		modWithParts(3, part("Resistance", 1)),
		modWithParts(4, part("Armor", 1)),
	}
	sol := buildSolution(t, mods)

	f := Fitness(sol, Criteria{PrioritizedAttrs: []string{"Strength Boost"}})
	fNoPenaltySource := Fitness(sol, Criteria{PrioritizedAttrs: []string{"Strength Boost", "Resistance", "Armor"}})
	if fNoPenaltySource <= f {
		t.Errorf("expected treating Resistance/Armor as prioritized (no penalty) to score higher: penalized=%v unpenalized=%v", f, fNoPenaltySource)
	}
}

func TestThresholdBonusTiers(t *testing.T) {
	cases := []struct {
		v        uint32
		wantZero bool
	}{
		{v: 5, wantZero: true},
		{v: 12},
		{v: 16},
		{v: 20},
		{v: 25},
	}
	var prev float64 = -1
	for _, c := range cases {
		got := thresholdBonus(c.v)
		if c.wantZero && got != 0 {
			t.Errorf("thresholdBonus(%d) = %v, want 0", c.v, got)
		}
		if !c.wantZero && got <= prev {
			t.Errorf("thresholdBonus(%d) = %v, expected strictly greater than previous tier %v", c.v, got, prev)
		}
		if !c.wantZero {
			prev = got
		}
	}
}

func TestFitnessCategoryBonus(t *testing.T) {
	mods := [4]model.ModuleInfo{
		modWithParts(1, part("Resistance", 5)),
		modWithParts(2, part("Resistance", 5)),
		modWithParts(3, part("Armor", 5)),
		modWithParts(4, part("Armor", 5)),
	}
	sol := buildSolution(t, mods)

	guardFitness := Fitness(sol, Criteria{Category: model.CategoryGuard})
	unknownFitness := Fitness(sol, Criteria{Category: model.CategoryUnknown})
	if guardFitness <= unknownFitness {
		t.Errorf("expected Guard category bonus (Resistance/Armor preferred) to raise fitness: guard=%v unknown=%v", guardFitness, unknownFitness)
	}
}

func TestFitnessPhysicalMagicConflictPenalty(t *testing.T) {
	balanced := [4]model.ModuleInfo{
		modWithParts(1, part("Strength Boost", 10)),
		modWithParts(2, part("Intellect Boost", 10)),
		modWithParts(3, part("Vitality Boost", 1)),
		modWithParts(4, part("Vitality Boost", 1)),
	}
	pureMagic := [4]model.ModuleInfo{
		modWithParts(5, part("Intellect Boost", 10)),
		modWithParts(6, part("Cast Focus", 10)),
		modWithParts(7, part("Vitality Boost", 1)),
		modWithParts(8, part("Vitality Boost", 1)),
	}
	balancedSol := buildSolution(t, balanced)
	pureMagicSol := buildSolution(t, pureMagic)

	balancedFitness := Fitness(balancedSol, Criteria{})
	pureFitness := Fitness(pureMagicSol, Criteria{})
	if balancedFitness >= pureFitness {
		t.Errorf("expected the physical/magic mix to be penalized relative to a pure-magic build: balanced=%v pure=%v", balancedFitness, pureFitness)
	}
}

func TestFitnessNeverNegative(t *testing.T) {
	mods := [4]model.ModuleInfo{
		modWithParts(1, part("Strength Boost", 1)),
		modWithParts(2, part("Intellect Boost", 1)),
		modWithParts(3, part("Strength Boost", 1)),
		modWithParts(4, part("Intellect Boost", 1)),
	}
	sol := buildSolution(t, mods)
	f := Fitness(sol, Criteria{PrioritizedAttrs: []string{"Crit Rate"}})
	if f < 0 {
		t.Errorf("expected fitness floored at 0, got %v", f)
	}
}
