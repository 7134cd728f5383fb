package badger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/models"
)

func TestLoadPresetsFromFiles(t *testing.T) {
	dir := t.TempDir()

	good := `
name: quarterly-review
kind: slide_analysis
subject_id: deck-q3
items:
  - subject_id: slide-1
  - subject_id: slide-2
`
	badKind := `
name: broken
kind: teleportation
subject_id: deck-x
`
	notYaml := `{{{{`

	if err := os.WriteFile(filepath.Join(dir, "quarterly.yaml"), []byte(good), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(badKind), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "garbage.yml"), []byte(notYaml), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}

	presets, err := LoadPresetsFromFiles(dir, arbor.NewLogger())
	if err != nil {
		t.Fatalf("Failed to load presets: %v", err)
	}

	if len(presets) != 1 {
		t.Fatalf("Expected 1 valid preset, got %d", len(presets))
	}
	if presets[0].Name != "quarterly-review" || presets[0].Kind != models.KindSlideAnalysis {
		t.Errorf("Unexpected preset: %+v", presets[0])
	}
	if len(presets[0].Items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(presets[0].Items))
	}
}

func TestLoadPresetsMissingDir(t *testing.T) {
	presets, err := LoadPresetsFromFiles(filepath.Join(t.TempDir(), "absent"), arbor.NewLogger())
	if err != nil {
		t.Fatalf("Missing directory should not error: %v", err)
	}
	if presets != nil {
		t.Errorf("Expected nil presets for missing dir")
	}
}
