package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

func TestLoadOverridesEmptyPathIsNoOp(t *testing.T) {
	if err := LoadOverrides(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadOverridesRegistersNewConfigID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	content := "modules:\n  - config_id: 9999999\n    name: Mythic Attack\n    category: Attack\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := LoadOverrides(path); err != nil {
		t.Fatalf("LoadOverrides failed: %v", err)
	}

	if got := ModuleName(9999999); got != "Mythic Attack" {
		t.Errorf("ModuleName(9999999) = %q, want %q", got, "Mythic Attack")
	}
	if got := ModuleCategoryFor(9999999); got != model.CategoryAttack {
		t.Errorf("ModuleCategoryFor(9999999) = %v, want %v", got, model.CategoryAttack)
	}
}

func TestLoadOverridesMissingFileReturnsError(t *testing.T) {
	if err := LoadOverrides("/nonexistent/path/overrides.yaml"); err == nil {
		t.Fatal("expected an error for a missing override file")
	}
}
