package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestSlideItems(t *testing.T) {
	items := SlideItems("quarterly-review", "/decks/quarterly-review.pdf", 3)
	require.Len(t, items, 3)

	assert.Equal(t, "quarterly-review-slide-001", items[0].SubjectID)
	assert.Equal(t, "quarterly-review-slide-003", items[2].SubjectID)
	assert.Equal(t, "/decks/quarterly-review.pdf", items[0].Input["deck_path"])
	assert.Equal(t, "1", items[0].Input["page"])
	assert.Equal(t, "3", items[2].Input["page"])
}

func TestInspectMissingDeck(t *testing.T) {
	inspector := NewDeckInspector(arbor.NewLogger())

	_, err := inspector.Inspect("/nonexistent/deck.pdf")
	assert.Error(t, err)

	_, err = inspector.Inspect("")
	assert.Error(t, err)
}

func TestDeckID(t *testing.T) {
	assert.Equal(t, "pitch", deckID("/tmp/decks/pitch.pdf"))
	assert.Equal(t, "pitch.v2", deckID("pitch.v2.pdf"))
}
