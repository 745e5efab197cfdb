package schema

import (
	"fmt"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

// configEntry is one row of the configId lookup table.
type configEntry struct {
	Name     string
	Category model.ModuleCategory
}

// configTable maps a module's configId to its display name and category.
// Entries are sparse by design: real captures see a small, game-version
// specific subset of ids. Unknown ids fall back to "Module(<configId>)"
// with CategoryUnknown (see ModuleName/ModuleCategoryFor below).
var configTable = map[uint32]configEntry{
	5500103: {Name: "Legendary Attack", Category: model.CategoryAttack},
	5500104: {Name: "Legendary Guard", Category: model.CategoryGuard},
	5500105: {Name: "Legendary Support", Category: model.CategorySupport},
	5500201: {Name: "Epic Attack", Category: model.CategoryAttack},
	5500202: {Name: "Epic Guard", Category: model.CategoryGuard},
	5500203: {Name: "Epic Support", Category: model.CategorySupport},
	5500301: {Name: "Rare Attack", Category: model.CategoryAttack},
	5500302: {Name: "Rare Guard", Category: model.CategoryGuard},
	5500303: {Name: "Rare Support", Category: model.CategorySupport},
}

// ModuleName resolves a configId to its display name.
func ModuleName(configID uint32) string {
	if e, ok := configTable[configID]; ok {
		return e.Name
	}
	return fmt.Sprintf("Module(%d)", configID)
}

// ModuleCategoryFor resolves a configId to its category. Unknown ids
// report CategoryUnknown.
func ModuleCategoryFor(configID uint32) model.ModuleCategory {
	if e, ok := configTable[configID]; ok {
		return e.Category
	}
	return model.CategoryUnknown
}

// RegisterConfig adds or overrides one configId entry. Used by
// internal/config when a YAML override file supplies additional ids.
func RegisterConfig(configID uint32, name string, category model.ModuleCategory) {
	configTable[configID] = configEntry{Name: name, Category: category}
}
