package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

// overrideFile is the on-disk shape of a schema descriptor override: a
// flat list of configId entries a newer game patch has introduced.
type overrideFile struct {
	Modules []struct {
		ConfigID uint32 `yaml:"config_id"`
		Name     string `yaml:"name"`
		Category string `yaml:"category"`
	} `yaml:"modules"`
}

// LoadOverrides reads a YAML descriptor file and registers every module
// entry it lists, so a new game patch's configIds can be recognized
// without a rebuild. An empty path is a no-op.
func LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("schema: read override file: %w", err)
	}

	var ov overrideFile
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("schema: parse override file: %w", err)
	}

	for _, m := range ov.Modules {
		RegisterConfig(m.ConfigID, m.Name, model.ParseModuleCategory(m.Category))
	}
	return nil
}
