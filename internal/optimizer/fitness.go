package optimizer

import (
	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
	"github.com/uzarakhq/bpsr-uza-modules/internal/schema"
)

// Criteria bundles the user-selected scoring inputs that shape fitness
// and the final sort order.
type Criteria struct {
	Category          model.ModuleCategory
	PrioritizedAttrs  []string
	PriorityOrderMode bool
}

// Fitness computes the GA's maximized objective for sol under criteria.
// It returns 0 for any solution that doesn't carry exactly 4 distinct
// modules.
func Fitness(sol model.ModuleSolution, criteria Criteria) float64 {
	if !validSolution(sol) {
		return 0
	}

	breakdown := sol.AttrBreakdown

	var total float64

	if len(criteria.PrioritizedAttrs) > 0 {
		var matched int
		var unprioritizedSum uint32
		prioritizedSet := make(map[string]struct{}, len(criteria.PrioritizedAttrs))
		for _, a := range criteria.PrioritizedAttrs {
			prioritizedSet[a] = struct{}{}
			v := breakdown[a]
			total += schema.FitnessLevelBonus[schema.Level(v)]
			if v > 0 {
				matched++
			}
		}
		total += 100 * float64(matched)

		for attr, v := range breakdown {
			if _, ok := prioritizedSet[attr]; ok {
				continue
			}
			unprioritizedSum += v
		}
		total -= 5 * float64(unprioritizedSum)
	}

	for _, v := range breakdown {
		total += thresholdBonus(v)
	}

	for _, attr := range schema.CategoryPreferredAttrs[criteria.Category] {
		total += 5 * float64(breakdown[attr])
	}

	var physicalSum, magicSum uint32
	for attr, v := range breakdown {
		if _, ok := schema.PhysicalAttrs[attr]; ok {
			physicalSum += v
		}
		if _, ok := schema.MagicAttrs[attr]; ok {
			magicSum += v
		}
	}
	conflict := physicalSum
	if magicSum < conflict {
		conflict = magicSum
	}
	total -= 10 * float64(conflict)

	var grandTotal uint32
	for _, v := range breakdown {
		grandTotal += v
	}
	total += 0.1 * float64(grandTotal)

	if total < 0 {
		total = 0
	}
	return total
}

// thresholdBonus is the all-attribute threshold bonus applied regardless
// of prioritization.
func thresholdBonus(v uint32) float64 {
	switch {
	case v >= 20:
		return 1000 + 20*float64(v-20)
	case v >= 16:
		return 500 + 15*float64(v-16)
	case v >= 12:
		return 100 + 5*float64(v-12)
	default:
		return 0
	}
}

func validSolution(sol model.ModuleSolution) bool {
	seen := make(map[uint64]struct{}, 4)
	for _, m := range sol.Modules {
		if _, dup := seen[m.UUID]; dup {
			return false
		}
		seen[m.UUID] = struct{}{}
	}
	return len(seen) == 4
}
