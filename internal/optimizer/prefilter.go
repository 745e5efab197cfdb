// Package optimizer implements the combinatorial module optimizer: the
// pre-filter that bounds the working pool (C8), the parallel genetic
// algorithm with local search (C9), and the final ranker/deduper (C10).
package optimizer

import (
	"errors"
	"sort"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

// ErrInsufficientModules is returned when the working pool has fewer than
// four candidates to build a solution from.
var ErrInsufficientModules = errors.New("optimizer: insufficient modules")

const (
	topByTotalCount     = 100
	topByAttributeCount = 60
	highQualityMinSum   = 12
)

// partSum returns the sum of a module's part values.
func partSum(m model.ModuleInfo) uint32 {
	var total uint32
	for _, p := range m.Parts {
		total += uint32(p.Value)
	}
	return total
}

// valueOfAttr returns the value of the named attribute on a module, or 0
// if the module carries no part with that name.
func valueOfAttr(m model.ModuleInfo, attr string) uint32 {
	for _, p := range m.Parts {
		if p.AttrName == attr {
			return uint32(p.Value)
		}
	}
	return 0
}

// PreFilter reduces pool to the union of the top-100-by-total-value
// modules and, for every attribute present (restricted to prioritizedAttrs
// when non-empty), the top-60-by-that-attribute modules. It returns only
// that union; the high-quality subset (part-value sum >= 12) is computed
// separately by HighQuality and SelectPool.
func PreFilter(pool []model.ModuleInfo, prioritizedAttrs []string) (working []model.ModuleInfo, err error) {
	if len(pool) == 0 {
		return nil, ErrInsufficientModules
	}

	byTotal := append([]model.ModuleInfo(nil), pool...)
	sort.Slice(byTotal, func(i, j int) bool {
		si, sj := partSum(byTotal[i]), partSum(byTotal[j])
		if si != sj {
			return si > sj
		}
		return byTotal[i].UUID < byTotal[j].UUID
	})

	picked := make(map[uint64]model.ModuleInfo)
	for i := 0; i < len(byTotal) && i < topByTotalCount; i++ {
		picked[byTotal[i].UUID] = byTotal[i]
	}

	attrs := prioritizedAttrs
	if len(attrs) == 0 {
		attrs = presentAttributes(pool)
	}

	for _, attr := range attrs {
		byAttr := append([]model.ModuleInfo(nil), pool...)
		sort.Slice(byAttr, func(i, j int) bool {
			vi, vj := valueOfAttr(byAttr[i], attr), valueOfAttr(byAttr[j], attr)
			if vi != vj {
				return vi > vj
			}
			return byAttr[i].UUID < byAttr[j].UUID
		})
		for i := 0; i < len(byAttr) && i < topByAttributeCount; i++ {
			if valueOfAttr(byAttr[i], attr) == 0 {
				break
			}
			picked[byAttr[i].UUID] = byAttr[i]
		}
	}

	working = make([]model.ModuleInfo, 0, len(picked))
	for _, m := range picked {
		working = append(working, m)
	}
	sort.Slice(working, func(i, j int) bool { return working[i].UUID < working[j].UUID })

	if len(working) < 4 {
		return nil, ErrInsufficientModules
	}
	return working, nil
}

// presentAttributes lists every distinct attribute name carried by pool,
// in first-seen order.
func presentAttributes(pool []model.ModuleInfo) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range pool {
		for _, p := range m.Parts {
			if _, ok := seen[p.AttrName]; ok {
				continue
			}
			seen[p.AttrName] = struct{}{}
			out = append(out, p.AttrName)
		}
	}
	return out
}

// HighQuality returns the subset of working whose part-value sum is at
// least 12, used by the GA when it has at least 4 members.
func HighQuality(working []model.ModuleInfo) []model.ModuleInfo {
	var hq []model.ModuleInfo
	for _, m := range working {
		if partSum(m) >= highQualityMinSum {
			hq = append(hq, m)
		}
	}
	return hq
}

// SelectPool picks the GA's operating pool: the high-quality subset when
// it has at least 4 members, otherwise the full working pool.
func SelectPool(working []model.ModuleInfo) []model.ModuleInfo {
	if hq := HighQuality(working); len(hq) >= 4 {
		return hq
	}
	return working
}
