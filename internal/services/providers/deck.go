// -----------------------------------------------------------------------
// Deck Inspector - turns a PDF slide deck into per-slide batch items
// -----------------------------------------------------------------------

package providers

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/models"
)

// DeckInspector reads a slide deck and produces one batch item per slide.
type DeckInspector struct {
	logger arbor.ILogger
}

// NewDeckInspector creates a deck inspector.
func NewDeckInspector(logger arbor.ILogger) *DeckInspector {
	return &DeckInspector{logger: logger}
}

// Inspect counts the pages of the deck at path and returns per-slide batch
// items. Each item carries the deck path and its one-based page number so a
// provider can extract the slide it needs.
func (d *DeckInspector) Inspect(path string) ([]models.BatchItem, error) {
	if path == "" {
		return nil, fmt.Errorf("deck path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("deck not readable: %w", err)
	}

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck %s: %w", path, err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("deck %s has no pages", path)
	}

	d.logger.Info().
		Str("deck", path).
		Int("slides", pageCount).
		Msg("Deck inspected")

	return SlideItems(deckID(path), path, pageCount), nil
}

// SlideItems builds one batch item per slide page (one-based).
func SlideItems(deckID, path string, pages int) []models.BatchItem {
	items := make([]models.BatchItem, 0, pages)
	for page := 1; page <= pages; page++ {
		items = append(items, models.BatchItem{
			SubjectID: fmt.Sprintf("%s-slide-%03d", deckID, page),
			Input: map[string]string{
				"deck_path": path,
				"page":      strconv.Itoa(page),
			},
		})
	}
	return items
}

// deckID derives a stable subject prefix from the deck filename.
func deckID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
