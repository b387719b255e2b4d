package decks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
)

type fakeCardLookup struct {
	cards map[string]cards.Card
	calls int
	err   error
}

func (f *fakeCardLookup) GetMany(_ context.Context, externalIDs []string) (map[string]cards.Card, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	found := map[string]cards.Card{}
	for _, id := range externalIDs {
		if card, ok := f.cards[id]; ok {
			found[id] = card
		}
	}
	return found, nil
}

type fakeNameResolver struct {
	names map[string]string
	err   error
	calls int
}

func (f *fakeNameResolver) ResolveNames(_ context.Context, externalIDs []string) (map[string]string, error) {
	f.calls++
	found := map[string]string{}
	for _, id := range externalIDs {
		if name, ok := f.names[id]; ok {
			found[id] = name
		}
	}
	return found, f.err
}

func burnDeck() Deck {
	return Deck{
		ID:     "deck-1",
		Name:   "Burn",
		Format: "modern",
		Cards:  []CardReference{{ExternalID: "A", Quantity: 4}, {ExternalID: "B", Quantity: 2}},
	}
}

func TestExpandBurnScenario(t *testing.T) {
	lookup := &fakeCardLookup{cards: map[string]cards.Card{"A": {ExternalID: "A", Name: "Bolt"}}}
	reconciler := NewReconciler(lookup, &fakeNameResolver{}, nil)

	expanded, err := reconciler.Expand(context.Background(), burnDeck())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected a single batched lookup, got %d", lookup.calls)
	}
	if len(expanded.Cards) != 2 {
		t.Fatalf("expected two entries, got %d", len(expanded.Cards))
	}

	payload, err := json.Marshal(expanded.Cards)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded[0]["external_id"] != "A" || decoded[0]["name"] != "Bolt" || decoded[0]["quantity"] != float64(4) {
		t.Fatalf("unexpected resolved entry %v", decoded[0])
	}
	if _, ok := decoded[0]["unresolved"]; ok {
		t.Fatalf("resolved entry must not carry the unresolved flag: %v", decoded[0])
	}
	if decoded[1]["external_id"] != "B" || decoded[1]["quantity"] != float64(2) || decoded[1]["unresolved"] != true {
		t.Fatalf("unexpected unresolved entry %v", decoded[1])
	}
	if _, ok := decoded[1]["name"]; ok {
		t.Fatalf("unresolved entry must not carry a name: %v", decoded[1])
	}

	if got := FormatDecklist(reconciler.Backfill(context.Background(), expanded.Cards)); got != "4 Bolt\n2 B" {
		t.Fatalf("unexpected decklist %q", got)
	}
}

func TestExpandReturnsEveryReference(t *testing.T) {
	lookup := &fakeCardLookup{cards: map[string]cards.Card{
		"A": {ExternalID: "A", Name: "Alpha"},
		"C": {ExternalID: "C", Name: "Gamma"},
	}}
	reconciler := NewReconciler(lookup, nil, nil)
	deck := Deck{Cards: []CardReference{
		{ExternalID: "A", Quantity: 1},
		{ExternalID: "B", Quantity: 1},
		{ExternalID: "C", Quantity: 2},
		{ExternalID: "D", Quantity: 3},
	}}

	expanded, err := reconciler.Expand(context.Background(), deck)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resolved := 0
	for index, entry := range expanded.Cards {
		if entry.ExternalID != deck.Cards[index].ExternalID {
			t.Fatalf("entry %d out of order: %s", index, entry.ExternalID)
		}
		if !entry.Unresolved() {
			resolved++
		}
	}
	if len(expanded.Cards) != 4 || resolved != 2 {
		t.Fatalf("expected 4 entries with 2 resolved, got %d and %d", len(expanded.Cards), resolved)
	}
}

func TestExpandPropagatesLookupFailure(t *testing.T) {
	reconciler := NewReconciler(&fakeCardLookup{err: errors.New("connection refused")}, nil, nil)
	if _, err := reconciler.Expand(context.Background(), burnDeck()); err == nil {
		t.Fatalf("expected lookup failure to fail the expansion")
	}
}

func TestBackfillFillsOnlyNames(t *testing.T) {
	resolver := &fakeNameResolver{names: map[string]string{"B": "Bump"}}
	reconciler := NewReconciler(&fakeCardLookup{}, resolver, nil)
	entries := []ReconciledEntry{{ExternalID: "B", Quantity: 2}}

	filled := reconciler.Backfill(context.Background(), entries)
	if filled[0].BackfilledName != "Bump" || !filled[0].Unresolved() {
		t.Fatalf("unexpected backfilled entry %+v", filled[0])
	}
	if entries[0].BackfilledName != "" {
		t.Fatalf("input entries were modified")
	}
	if FormatDecklist(filled) != "2 Bump" {
		t.Fatalf("unexpected decklist %q", FormatDecklist(filled))
	}

	payload, _ := json.Marshal(filled[0])
	var decoded map[string]any
	_ = json.Unmarshal(payload, &decoded)
	if decoded["name"] != "Bump" || decoded["unresolved"] != true {
		t.Fatalf("unexpected backfilled json %v", decoded)
	}
}

func TestBackfillSwallowsFailures(t *testing.T) {
	resolver := &fakeNameResolver{err: errors.New("upstream down")}
	reconciler := NewReconciler(&fakeCardLookup{}, resolver, nil)
	entries := []ReconciledEntry{{ExternalID: "B", Quantity: 2}}

	filled := reconciler.Backfill(context.Background(), entries)
	if resolver.calls != 1 {
		t.Fatalf("expected one resolver call, got %d", resolver.calls)
	}
	if filled[0] != entries[0] {
		t.Fatalf("expected entries unchanged, got %+v", filled[0])
	}
}

func TestBackfillKeepsNamesResolvedBeforeFailure(t *testing.T) {
	resolver := &fakeNameResolver{names: map[string]string{"B": "Bump"}, err: errors.New("later chunk failed")}
	reconciler := NewReconciler(&fakeCardLookup{}, resolver, nil)
	entries := []ReconciledEntry{{ExternalID: "B", Quantity: 2}, {ExternalID: "C", Quantity: 1}}

	filled := reconciler.Backfill(context.Background(), entries)
	if filled[0].BackfilledName != "Bump" {
		t.Fatalf("expected the resolved name to be applied, got %+v", filled[0])
	}
	if filled[1] != entries[1] {
		t.Fatalf("expected the failed entry unchanged, got %+v", filled[1])
	}
	if FormatDecklist(filled) != "2 Bump\n1 C" {
		t.Fatalf("unexpected decklist %q", FormatDecklist(filled))
	}
}

func TestBackfillSkipsWhenEverythingResolved(t *testing.T) {
	resolver := &fakeNameResolver{}
	reconciler := NewReconciler(&fakeCardLookup{}, resolver, nil)
	card := cards.Card{ExternalID: "A", Name: "Bolt"}

	reconciler.Backfill(context.Background(), []ReconciledEntry{{ExternalID: "A", Quantity: 1, Card: &card}})
	if resolver.calls != 0 {
		t.Fatalf("expected no resolver call, got %d", resolver.calls)
	}
}

func TestStructuredExportRoundTrip(t *testing.T) {
	deck := burnDeck()
	exported := NewStructuredExport(deck)

	payload, err := json.Marshal(exported)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var input DeckInput
	if err := json.Unmarshal(payload, &input); err != nil {
		t.Fatalf("unmarshal into creation input failed: %v", err)
	}
	if input.Name != "Burn" || input.Format != "modern" {
		t.Fatalf("unexpected input %+v", input)
	}
	if !sameReferences(input.Cards, deck.Cards) {
		t.Fatalf("expected %v, got %v", deck.Cards, input.Cards)
	}

	exported.Cards[0].Quantity = 99
	if deck.Cards[0].Quantity != 4 {
		t.Fatalf("export aliases the deck references")
	}
}

func sameReferences(left, right []CardReference) bool {
	if len(left) != len(right) {
		return false
	}
	quantities := map[string]int{}
	for _, reference := range left {
		quantities[reference.ExternalID] = reference.Quantity
	}
	for _, reference := range right {
		if quantities[reference.ExternalID] != reference.Quantity {
			return false
		}
	}
	return true
}
