// Package container decodes inventory-container payloads (C6): the
// structured CharSerialize shape carried by methodId=21 Notify messages,
// with a layered fallback strategy for tolerating schema drift.
package container

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers for the structured CharSerialize view. The live
// schema is not published; these numbers are this decoder's contract
// with itself -- consistent between encode and decode, and exercised end
// to end by the extraction tests.
const (
	fieldOuterPackages = 1 // outer container -> repeated Package
	fieldOuterModCont  = 2 // outer container -> ModContainer
	fieldInnerItems    = 1 // inner char-data -> repeated Item
	fieldInnerModCont  = 2 // inner char-data -> ModContainer

	fieldPackageTag   = 1 // Package -> uint32 packageTag
	fieldPackageItems = 2 // Package -> repeated Item

	fieldItemKey      = 1 // Item -> string itemKey
	fieldItemConfigID = 2 // Item -> uint32 configId
	fieldItemUUID     = 3 // Item -> uint64 uuid
	fieldItemQuality  = 4 // Item -> uint32 quality
	fieldItemModParts = 5 // Item -> repeated uint32 modParts (scalar or packed)

	fieldModInfoEntries = 1 // ModContainer -> repeated ModInfoEntry

	fieldModInfoKey          = 1 // ModInfoEntry -> string key (itemKey or uuid string)
	fieldModInfoInitLinkNums = 2 // ModInfoEntry -> repeated uint32 initLinkNums (scalar or packed)
)

// rawItem is the wire-level decode of one Item message, before pairing
// with its modInfos entry.
type rawItem struct {
	itemKey   string
	configID  uint32
	uuid      uint64
	quality   uint32
	modParts  []uint32
	hasParts  bool
	hasConfig bool
	hasUUID   bool
}

// rawModInfo is the wire-level decode of one ModInfoEntry message.
type rawModInfo struct {
	key          string
	initLinkNums []uint32
}

// consumeVarints decodes b as a run of one or more varints (a packed
// repeated field), reporting false if any varint is malformed.
func consumeVarints(b []byte) ([]uint32, bool) {
	// Either a single varint (scalar) or a packed sequence of varints,
	// normalized to a slice.
	var out []uint32
	rest := b
	for len(rest) > 0 {
		v, n := protowire.ConsumeVarint(rest)
		if n < 0 {
			return nil, false
		}
		out = append(out, uint32(v))
		rest = rest[n:]
	}
	return out, true
}

// decodeItem parses one Item submessage.
func decodeItem(b []byte) (rawItem, bool) {
	var item rawItem
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rawItem{}, false
		}
		b = b[n:]

		switch {
		case num == fieldItemKey && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return rawItem{}, false
			}
			item.itemKey = s
			b = b[n:]
		case num == fieldItemConfigID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return rawItem{}, false
			}
			item.configID = uint32(v)
			item.hasConfig = true
			b = b[n:]
		case num == fieldItemUUID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return rawItem{}, false
			}
			item.uuid = v
			item.hasUUID = true
			b = b[n:]
		case num == fieldItemQuality && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return rawItem{}, false
			}
			item.quality = uint32(v)
			b = b[n:]
		case num == fieldItemModParts && (typ == protowire.BytesType || typ == protowire.VarintType):
			if typ == protowire.BytesType {
				raw, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return rawItem{}, false
				}
				parts, ok := consumeVarints(raw)
				if !ok {
					return rawItem{}, false
				}
				item.modParts = append(item.modParts, parts...)
				item.hasParts = true
				b = b[n:]
			} else {
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return rawItem{}, false
				}
				item.modParts = append(item.modParts, uint32(v))
				item.hasParts = true
				b = b[n:]
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return rawItem{}, false
			}
			b = b[n:]
		}
	}
	return item, true
}

// decodeModInfoEntry parses one ModInfoEntry submessage.
func decodeModInfoEntry(b []byte) (rawModInfo, bool) {
	var entry rawModInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rawModInfo{}, false
		}
		b = b[n:]

		switch {
		case num == fieldModInfoKey && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return rawModInfo{}, false
			}
			entry.key = s
			b = b[n:]
		case num == fieldModInfoInitLinkNums && (typ == protowire.BytesType || typ == protowire.VarintType):
			if typ == protowire.BytesType {
				raw, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return rawModInfo{}, false
				}
				nums, ok := consumeVarints(raw)
				if !ok {
					return rawModInfo{}, false
				}
				entry.initLinkNums = append(entry.initLinkNums, nums...)
				b = b[n:]
			} else {
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return rawModInfo{}, false
				}
				entry.initLinkNums = append(entry.initLinkNums, uint32(v))
				b = b[n:]
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return rawModInfo{}, false
			}
			b = b[n:]
		}
	}
	return entry, true
}

// decodedContainer is the flattened result of walking either the outer or
// inner message shape: every item alongside its paired modInfo, if any.
type decodedContainer struct {
	items    []rawItem
	modInfos map[string]rawModInfo // keyed by itemKey, falling back to uuid string
}

func newDecodedContainer() decodedContainer {
	return decodedContainer{modInfos: make(map[string]rawModInfo)}
}

// decodePackage parses one Package submessage, appending its items into dc.
func decodePackage(b []byte, dc *decodedContainer) bool {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return false
		}
		b = b[n:]

		switch {
		case num == fieldPackageItems && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return false
			}
			item, ok := decodeItem(raw)
			if !ok {
				return false
			}
			dc.items = append(dc.items, item)
			b = b[n:]
		case num == fieldPackageTag && typ == protowire.VarintType:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return false
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return false
			}
			b = b[n:]
		}
	}
	return true
}

// decodeModContainer parses the ModContainer submessage.
func decodeModContainer(b []byte, dc *decodedContainer) bool {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return false
		}
		b = b[n:]

		switch {
		case num == fieldModInfoEntries && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return false
			}
			entry, ok := decodeModInfoEntry(raw)
			if !ok {
				return false
			}
			dc.modInfos[entry.key] = entry
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return false
			}
			b = b[n:]
		}
	}
	return true
}

// decodeOuter parses the top-level { itemPackages, modContainer } shape.
func decodeOuter(b []byte) (decodedContainer, bool) {
	dc := newDecodedContainer()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return dc, false
		}
		b = b[n:]

		switch {
		case num == fieldOuterPackages && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return dc, false
			}
			if !decodePackage(raw, &dc) {
				return dc, false
			}
			b = b[n:]
		case num == fieldOuterModCont && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return dc, false
			}
			if !decodeModContainer(raw, &dc) {
				return dc, false
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return dc, false
			}
			b = b[n:]
		}
	}
	return dc, true
}

// decodeInner parses the char-data-direct shape: items inline, without
// the Package wrapper.
func decodeInner(b []byte) (decodedContainer, bool) {
	dc := newDecodedContainer()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return dc, false
		}
		b = b[n:]

		switch {
		case num == fieldInnerItems && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return dc, false
			}
			item, ok := decodeItem(raw)
			if !ok {
				return dc, false
			}
			dc.items = append(dc.items, item)
			b = b[n:]
		case num == fieldInnerModCont && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return dc, false
			}
			if !decodeModContainer(raw, &dc) {
				return dc, false
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return dc, false
			}
			b = b[n:]
		}
	}
	return dc, true
}
