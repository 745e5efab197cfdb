package container

import (
	"strconv"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
	"github.com/uzarakhq/bpsr-uza-modules/internal/schema"
)

// heuristicConfigIDMin and heuristicConfigIDMax bound the configId values
// the byte-scanning fallback treats as plausible module hits.
const (
	heuristicConfigIDMin uint32 = 5_500_000
	heuristicConfigIDMax uint32 = 5_600_000

	heuristicScanWindow = 64 // bytes searched after a configId hit for parts
	heuristicMaxParts   = 4
)

// UUIDCounter hands out synthetic uuids for the heuristic fallback, which
// has no real uuid to key on. It must be shared across a capture session
// so synthetic modules never collide.
type UUIDCounter struct {
	next uint64
}

// Next returns the next synthetic uuid, starting above any plausible real
// uuid range so synthetic and structured modules never collide.
func (c *UUIDCounter) Next() uint64 {
	c.next++
	return 0xFFFF_0000_0000_0000 | c.next
}

// Extract runs the four-tier decode strategy against payload, a
// methodId=21 Notify body, preferring any structured result over the
// heuristic scan.
func Extract(payload []byte, counter *UUIDCounter) []model.ModuleInfo {
	if dc, ok := decodeOuter(payload); ok {
		if modules := buildModules(dc); len(modules) > 0 {
			return modules
		}
	}

	if dc, ok := decodeInner(payload); ok {
		if modules := buildModules(dc); len(modules) > 0 {
			return modules
		}
	}

	if len(payload) > 4 {
		if dc, ok := decodeOuter(payload[4:]); ok {
			if modules := buildModules(dc); len(modules) > 0 {
				return modules
			}
		}
	}

	return heuristicScan(payload, counter)
}

// buildModules pairs each item with its modInfos entry (by itemKey, then
// by stringified uuid) and converts the result to ModuleInfo records.
func buildModules(dc decodedContainer) []model.ModuleInfo {
	var modules []model.ModuleInfo
	for _, item := range dc.items {
		if !item.hasParts || len(item.modParts) == 0 {
			continue
		}

		entry, ok := dc.modInfos[item.itemKey]
		if !ok {
			entry, ok = dc.modInfos[strconv.FormatUint(item.uuid, 10)]
		}
		if !ok {
			continue
		}

		parts := make([]model.ModulePart, 0, len(item.modParts))
		for i, attrID := range item.modParts {
			value := uint8(1)
			if i < len(entry.initLinkNums) {
				value = uint8(entry.initLinkNums[i])
			}
			name, _ := schema.AttrName(attrID)
			parts = append(parts, model.ModulePart{
				AttrID:   attrID,
				AttrName: name,
				Value:    value,
			})
		}

		modules = append(modules, model.ModuleInfo{
			Name:     schema.ModuleName(item.configID),
			ConfigID: item.configID,
			UUID:     item.uuid,
			Quality:  uint8(item.quality),
			Parts:    parts,
			Category: schema.ModuleCategoryFor(item.configID),
		})
	}
	return modules
}

// heuristicScan implements the byte-pattern fallback: find plausible
// configId values, then collect nearby attrId/value pairs into a
// synthetic module.
func heuristicScan(payload []byte, counter *UUIDCounter) []model.ModuleInfo {
	var modules []model.ModuleInfo

	i := 0
	for i+4 <= len(payload) {
		v := leUint32(payload[i:])
		if v < heuristicConfigIDMin || v > heuristicConfigIDMax {
			i++
			continue
		}

		parts, consumed := scanPartsWindow(payload, i+4)
		if len(parts) > 0 {
			modules = append(modules, model.ModuleInfo{
				Name:     schema.ModuleName(v),
				ConfigID: v,
				UUID:     counter.Next(),
				Quality:  defaultHeuristicQuality(v),
				Parts:    parts,
				Category: schema.ModuleCategoryFor(v),
			})
			i += 4 + consumed
			continue
		}
		i++
	}

	return modules
}

// defaultHeuristicQuality derives a plausible quality tier from configId
// when no structured quality field is available.
func defaultHeuristicQuality(configID uint32) uint8 {
	q := configID % 10
	if q < 3 {
		q = 3
	}
	if q > 5 {
		q = 5
	}
	return uint8(q)
}

// scanPartsWindow looks for u32-LE attribute ids in the heuristic id
// range, each immediately followed by a u8 value in [1,10], within a
// bounded window starting at offset. Returns the parts found and how many
// bytes of the window were consumed.
func scanPartsWindow(payload []byte, offset int) ([]model.ModulePart, int) {
	end := offset + heuristicScanWindow
	if end > len(payload) {
		end = len(payload)
	}

	var parts []model.ModulePart
	j := offset
	lastConsumed := 0
	for j+5 <= end && len(parts) < heuristicMaxParts {
		attrID := leUint32(payload[j:])
		if schema.InHeuristicIDRange(attrID) {
			value := payload[j+4]
			if value >= 1 && value <= 10 {
				name, _ := schema.AttrName(attrID)
				parts = append(parts, model.ModulePart{
					AttrID:   attrID,
					AttrName: name,
					Value:    value,
				})
				j += 5
				lastConsumed = j - offset
				continue
			}
		}
		j++
	}
	return parts, lastConsumed
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
