package model

import "sort"

// ModuleCategory is the derived equipment role of a module, computed from
// its configId via a fixed lookup table (see internal/schema).
type ModuleCategory uint8

// ModuleCategory values.
const (
	CategoryUnknown ModuleCategory = iota
	CategoryAttack
	CategoryGuard
	CategorySupport
	CategoryAll
)

// String returns the category name.
func (c ModuleCategory) String() string {
	switch c {
	case CategoryAttack:
		return "Attack"
	case CategoryGuard:
		return "Guard"
	case CategorySupport:
		return "Support"
	case CategoryAll:
		return "All"
	default:
		return "Unknown"
	}
}

// ParseModuleCategory maps a user-facing category name to its value.
func ParseModuleCategory(s string) ModuleCategory {
	switch s {
	case "Attack":
		return CategoryAttack
	case "Guard":
		return CategoryGuard
	case "Support":
		return CategorySupport
	case "All":
		return CategoryAll
	default:
		return CategoryUnknown
	}
}

// ModulePart is a single named attribute on a module. Observed values are
// small (1-10).
type ModulePart struct {
	AttrID   uint32
	AttrName string
	Value    uint8
}

// ModuleInfo is one decoded inventory entry.
type ModuleInfo struct {
	Name     string
	ConfigID uint32
	UUID     uint64
	Quality  uint8
	Parts    []ModulePart
	Category ModuleCategory
}

// Equal compares modules by uuid alone, per spec.
func (m ModuleInfo) Equal(other ModuleInfo) bool {
	return m.UUID == other.UUID
}

// AttrBreakdown sums a module's own parts by attribute name.
func (m ModuleInfo) AttrBreakdown() map[string]uint32 {
	out := make(map[string]uint32, len(m.Parts))
	for _, p := range m.Parts {
		out[p.AttrName] += uint32(p.Value)
	}
	return out
}

// ModuleSolution is an unordered 4-subset of distinct modules, canonicalized
// by sorting modules by uuid ascending.
type ModuleSolution struct {
	Modules           [4]ModuleInfo
	AttrBreakdown     map[string]uint32
	Score             uint32
	OptimizationScore float64
}

// NewModuleSolution builds and canonicalizes a solution from four modules.
// Returns false if the four uuids are not distinct.
func NewModuleSolution(modules [4]ModuleInfo) (ModuleSolution, bool) {
	seen := make(map[uint64]struct{}, 4)
	for _, m := range modules {
		if _, dup := seen[m.UUID]; dup {
			return ModuleSolution{}, false
		}
		seen[m.UUID] = struct{}{}
	}

	sort.Slice(modules[:], func(i, j int) bool {
		return modules[i].UUID < modules[j].UUID
	})

	sol := ModuleSolution{Modules: modules}
	sol.AttrBreakdown = sol.computeBreakdown()
	return sol, true
}

func (s ModuleSolution) computeBreakdown() map[string]uint32 {
	out := make(map[string]uint32)
	for _, m := range s.Modules {
		for _, p := range m.Parts {
			out[p.AttrName] += uint32(p.Value)
		}
	}
	return out
}

// CanonicalID returns a stable [4]uint64 identity for deduplication across
// populations: the four uuids, sorted ascending and already sorted by
// construction.
func (s ModuleSolution) CanonicalID() [4]uint64 {
	var id [4]uint64
	for i, m := range s.Modules {
		id[i] = m.UUID
	}
	return id
}

// Contains reports whether uuid is one of the solution's four modules.
func (s ModuleSolution) Contains(uuid uint64) bool {
	for _, m := range s.Modules {
		if m.UUID == uuid {
			return true
		}
	}
	return false
}
