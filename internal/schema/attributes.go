// Package schema holds the read-only-after-load descriptor for the
// container wire format: the fixed attribute enumeration, the
// configId->name/category lookup tables, and the combat-power tables used
// by the ranker. It is loaded once at process start (internal/schema.Load)
// and optionally overridden by a YAML file; see internal/config.
package schema

import "github.com/uzarakhq/bpsr-uza-modules/internal/model"

// Basic attribute names, in display order. 13 entries.
var BasicAttrNames = []string{
	"Strength Boost",
	"Agility Boost",
	"Intellect Boost",
	"Attack SPD",
	"Cast Focus",
	"Vitality Boost",
	"Stamina Boost",
	"Crit Rate",
	"Crit Damage",
	"Block Rate",
	"Dodge Rate",
	"Resistance",
	"Armor",
}

// Special attribute names, in display order. 8 entries.
var SpecialAttrNames = []string{
	"Special Attack",
	"Elite Strike",
	"Healing Boost",
	"Healing Enhance",
	"Mana Regen",
	"HP Regen",
	"Skill Haste",
	"Block Penetration",
}

// AllAttrNames is the fixed 21-entry list exposed by listAttributes(),
// basic names first, then special names, both in declaration order.
func AllAttrNames() []string {
	out := make([]string, 0, len(BasicAttrNames)+len(SpecialAttrNames))
	out = append(out, BasicAttrNames...)
	out = append(out, SpecialAttrNames...)
	return out
}

// IsSpecial reports whether an attribute name belongs to the special set.
func IsSpecial(name string) bool {
	for _, n := range SpecialAttrNames {
		if n == name {
			return true
		}
	}
	return false
}

// IsBasic reports whether an attribute name belongs to the basic set.
func IsBasic(name string) bool {
	for _, n := range BasicAttrNames {
		if n == name {
			return true
		}
	}
	return false
}

// attrIDByName and attrNameByID are the wire attrId <-> attribute name
// mapping used by the container decoder (internal/container) and the
// heuristic fallback scanner. IDs fall in [1100, 2500] per the observed
// wire format.
var attrIDByName = map[string]uint32{
	"Strength Boost":    1110,
	"Agility Boost":      1111,
	"Intellect Boost":    1112,
	"Special Attack":     1113,
	"Elite Strike":       1114,
	"Attack SPD":         1115,
	"Cast Focus":         1116,
	"Vitality Boost":     1117,
	"Stamina Boost":      1118,
	"Crit Rate":          1119,
	"Crit Damage":        1120,
	"Block Rate":         1121,
	"Dodge Rate":         1122,
	"Resistance":         1123,
	"Armor":              1124,
	"Healing Boost":      1125,
	"Healing Enhance":    1126,
	"Mana Regen":         1127,
	"HP Regen":           1128,
	"Skill Haste":        1129,
	"Block Penetration":  1130,
}

var attrNameByID map[uint32]string

func init() {
	attrNameByID = make(map[uint32]string, len(attrIDByName))
	for name, id := range attrIDByName {
		attrNameByID[id] = name
	}
}

// AttrID returns the wire id for an attribute name, or (0, false) if the
// name is unknown.
func AttrID(name string) (uint32, bool) {
	id, ok := attrIDByName[name]
	return id, ok
}

// AttrName returns the attribute name for a wire id, or ("", false) if the
// id is not in the fixed enumeration.
func AttrName(id uint32) (string, bool) {
	name, ok := attrNameByID[id]
	return name, ok
}

// InHeuristicIDRange reports whether id falls within the attribute id band
// the heuristic fallback scanner treats as plausible.
func InHeuristicIDRange(id uint32) bool {
	return id >= 1100 && id <= 2500
}

// PhysicalAttrs and MagicAttrs are the fixed sets used by the GA's
// physical/magic conflict penalty. Special Attack and Elite Strike are
// Attack-preferred but deliberately excluded from both sets.
var PhysicalAttrs = map[string]struct{}{
	"Strength Boost": {},
	"Agility Boost":  {},
	"Attack SPD":     {},
}

var MagicAttrs = map[string]struct{}{
	"Intellect Boost": {},
	"Cast Focus":      {},
}

// CategoryPreferredAttrs maps each module category to the attributes it
// favors for the GA's category bonus term.
var CategoryPreferredAttrs = map[model.ModuleCategory][]string{
	model.CategoryAttack:  {"Strength Boost", "Agility Boost", "Intellect Boost", "Special Attack", "Elite Strike"},
	model.CategoryGuard:   {"Resistance", "Armor"},
	model.CategorySupport: {"Healing Boost", "Healing Enhance"},
}
