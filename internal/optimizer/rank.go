package optimizer

import (
	"sort"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
	"github.com/uzarakhq/bpsr-uza-modules/internal/schema"
)

// Score computes a solution's combat-power score: per-attribute power
// (basic or special table, keyed by level) plus a global total-value
// power contribution.
func Score(sol model.ModuleSolution) uint32 {
	var total uint32
	var grandSum uint32

	for attr, v := range sol.AttrBreakdown {
		grandSum += v
		level := schema.Level(v)
		if schema.IsSpecial(attr) {
			total += schema.SpecialAttrPower[level]
		} else {
			total += schema.BasicAttrPower[level]
		}
	}

	total += schema.TotalAttrPower(grandSum)
	return total
}

// attrLevelSig is one entry of the sorted (attrName, level) pairing used for
// attribute-level deduplication: solutions that land on the same
// signature are considered equivalent even if their exact values differ.
type attrLevelSig struct {
	attr  string
	level int
}

func signature(sol model.ModuleSolution) string {
	sigs := make([]attrLevelSig, 0, len(sol.AttrBreakdown))
	for attr, v := range sol.AttrBreakdown {
		sigs = append(sigs, attrLevelSig{attr: attr, level: schema.Level(v)})
	}
	sort.Slice(sigs, func(i, j int) bool {
		if sigs[i].attr != sigs[j].attr {
			return sigs[i].attr < sigs[j].attr
		}
		return sigs[i].level < sigs[j].level
	})

	out := make([]byte, 0, len(sigs)*8)
	for _, s := range sigs {
		out = append(out, s.attr...)
		out = append(out, ':', byte('0'+s.level), ';')
	}
	return string(out)
}

// Ranked is one finalized, scored solution.
type Ranked struct {
	Solution model.ModuleSolution
	Fitness  float64
}

// Rank unions every campaign's solutions, keeps the highest-fitness
// instance per canonical chromosome, deduplicates by attribute-level
// signature, sorts per criteria, and returns the first topN.
func Rank(solutions []model.ModuleSolution, criteria Criteria, topN int) []Ranked {
	bestByCanonical := make(map[[4]uint64]Ranked)
	for _, sol := range solutions {
		f := Fitness(sol, criteria)
		id := sol.CanonicalID()
		if existing, ok := bestByCanonical[id]; !ok || f > existing.Fitness {
			bestByCanonical[id] = Ranked{Solution: sol, Fitness: f}
		}
	}

	var candidates []Ranked
	for _, r := range bestByCanonical {
		candidates = append(candidates, r)
	}

	// Attribute-level dedup: keep first-encountered per signature. Sort
	// first by canonical uuid order so "first encountered" is
	// deterministic across runs.
	sort.Slice(candidates, func(i, j int) bool {
		return canonicalLess(candidates[i].Solution.CanonicalID(), candidates[j].Solution.CanonicalID())
	})

	seenSig := make(map[string]struct{})
	var deduped []Ranked
	for _, r := range candidates {
		sig := signature(r.Solution)
		if _, ok := seenSig[sig]; ok {
			continue
		}
		seenSig[sig] = struct{}{}
		r.Solution.Score = Score(r.Solution)
		r.Solution.OptimizationScore = r.Fitness
		deduped = append(deduped, r)
	}

	if criteria.PriorityOrderMode {
		sortByPriorityKey(deduped, criteria.PrioritizedAttrs)
	} else {
		sort.Slice(deduped, func(i, j int) bool {
			return deduped[i].Solution.Score > deduped[j].Solution.Score
		})
	}

	if topN > 0 && len(deduped) > topN {
		deduped = deduped[:topN]
	}
	return deduped
}

// canonicalLess gives a deterministic total order over canonical-id
// arrays for tie-breaking.
func canonicalLess(a, b [4]uint64) bool {
	for i := 0; i < 4; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// priorityKey is the lexicographic sort key for priority-order mode:
// (c6,c5,c4,c3,c2,c1, sumTop4Level, score, fitness).
type priorityKey struct {
	counts      [6]int // counts[k-1] = how many of the top-4 priority attrs are at level k
	sumTopLevel int
	score       uint32
	fitness     float64
}

func computePriorityKey(sol model.ModuleSolution, prioritizedAttrs []string) priorityKey {
	type leveled struct {
		attr  string
		level int
		idx   int
	}
	levels := make([]leveled, len(prioritizedAttrs))
	for i, a := range prioritizedAttrs {
		levels[i] = leveled{attr: a, level: schema.Level(sol.AttrBreakdown[a]), idx: i}
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].level != levels[j].level {
			return levels[i].level > levels[j].level
		}
		return levels[i].idx < levels[j].idx
	})

	top := levels
	if len(top) > 4 {
		top = top[:4]
	}

	var key priorityKey
	for _, l := range top {
		if l.level >= 1 && l.level <= 6 {
			key.counts[l.level-1]++
		}
		key.sumTopLevel += l.level
	}
	key.score = Score(sol)
	return key
}

// greaterThan reports whether k sorts strictly before other in DESCENDING
// priority order (k should come first -- i.e. k "greater").
func (k priorityKey) greaterThan(other priorityKey) bool {
	for i := 5; i >= 0; i-- {
		if k.counts[i] != other.counts[i] {
			return k.counts[i] > other.counts[i]
		}
	}
	if k.sumTopLevel != other.sumTopLevel {
		return k.sumTopLevel > other.sumTopLevel
	}
	if k.score != other.score {
		return k.score > other.score
	}
	return k.fitness > other.fitness
}

func sortByPriorityKey(ranked []Ranked, prioritizedAttrs []string) {
	keys := make([]priorityKey, len(ranked))
	for i, r := range ranked {
		k := computePriorityKey(r.Solution, prioritizedAttrs)
		k.fitness = r.Fitness
		keys[i] = k
	}
	order := make([]int, len(ranked))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return keys[order[i]].greaterThan(keys[order[j]])
	})
	sorted := make([]Ranked, len(ranked))
	for i, idx := range order {
		sorted[i] = ranked[idx]
	}
	copy(ranked, sorted)
}
