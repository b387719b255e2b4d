package decks

import (
	"strconv"
	"strings"
)

// StructuredExport is the minimal reference form of a deck. It is accepted unchanged as
// deck creation input.
type StructuredExport struct {
	Name   string          `json:"name"`
	Format string          `json:"format"`
	Cards  []CardReference `json:"cards"`
}

// NewStructuredExport renders a deck from its raw references without reconciliation.
func NewStructuredExport(deck Deck) StructuredExport {
	references := cloneReferences(deck.Cards)
	if references == nil {
		references = []CardReference{}
	}
	return StructuredExport{Name: deck.Name, Format: deck.Format, Cards: references}
}

// Input converts the export back into deck creation input.
func (e StructuredExport) Input() DeckInput {
	return DeckInput{Name: e.Name, Format: e.Format, Cards: cloneReferences(e.Cards)}
}

// FormatDecklist renders one "<quantity> <name>" line per entry in deck order.
func FormatDecklist(entries []ReconciledEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, strconv.Itoa(entry.Quantity)+" "+entry.DisplayName())
	}
	return strings.Join(lines, "\n")
}
