package decks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDeckNotFound indicates that no deck matches the requested id or name.
	ErrDeckNotFound = errors.New("decks: deck not found")
	// ErrDeckNameConflict indicates that another deck already uses the name.
	ErrDeckNameConflict = errors.New("decks: deck name already exists")
	// ErrInvalidDeck indicates malformed deck input.
	ErrInvalidDeck = errors.New("decks: invalid deck")
	// ErrReferenceNotFound indicates that the deck holds no reference to the card.
	ErrReferenceNotFound = errors.New("decks: card reference not found")
	// ErrWouldEmptyDeck indicates a removal rejected because it would leave the deck without cards.
	ErrWouldEmptyDeck = errors.New("decks: removal would empty deck")
)

// CardReference points at a catalog card by external id.
type CardReference struct {
	ExternalID string `json:"external_id"`
	Quantity   int    `json:"quantity"`
}

// Deck is a named, ordered collection of card references.
type Deck struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Format      string          `json:"format"`
	Description string          `json:"description,omitempty"`
	Cards       []CardReference `json:"cards"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DeckInput is the caller supplied shape for deck creation.
type DeckInput struct {
	Name        string          `json:"name"`
	Format      string          `json:"format"`
	Description string          `json:"description,omitempty"`
	Cards       []CardReference `json:"cards"`
}

// DeckPatch carries a partial update. Nil fields are left untouched.
type DeckPatch struct {
	Name        *string          `json:"name,omitempty"`
	Format      *string          `json:"format,omitempty"`
	Description *string          `json:"description,omitempty"`
	Cards       *[]CardReference `json:"cards,omitempty"`
}

// DeckUpdate is the set of fields a store replaces on an existing deck.
type DeckUpdate struct {
	Name        *string
	Format      *string
	Description *string
	Cards       []CardReference
	UpdatedAt   time.Time
}

// ListFilter narrows deck listings. An empty format matches every deck.
type ListFilter struct {
	Format string
}

// Store persists decks keyed by id and unique name.
type Store interface {
	GetByID(ctx context.Context, id string) (Deck, bool, error)
	GetByName(ctx context.Context, name string) (Deck, bool, error)
	GetManyByNames(ctx context.Context, names []string) (map[string]Deck, error)
	Insert(ctx context.Context, deck Deck) (Deck, error)
	Replace(ctx context.Context, id string, update DeckUpdate) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter ListFilter, limit, skip int) ([]Deck, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
}

// Apply returns a copy of deck with the update applied.
func (u DeckUpdate) Apply(deck Deck) Deck {
	if u.Name != nil {
		deck.Name = *u.Name
	}
	if u.Format != nil {
		deck.Format = *u.Format
	}
	if u.Description != nil {
		deck.Description = *u.Description
	}
	if u.Cards != nil {
		deck.Cards = cloneReferences(u.Cards)
	} else {
		deck.Cards = cloneReferences(deck.Cards)
	}
	deck.UpdatedAt = u.UpdatedAt
	return deck
}

func validateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidDeck)
	}
	return trimmed, nil
}

func validateFormat(format string) (string, error) {
	trimmed := strings.TrimSpace(format)
	if trimmed == "" {
		return "", fmt.Errorf("%w: format is required", ErrInvalidDeck)
	}
	return trimmed, nil
}

func validateQuantity(quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidDeck)
	}
	return nil
}

func validateExternalID(externalID string) (string, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return "", fmt.Errorf("%w: external_id is required", ErrInvalidDeck)
	}
	return trimmed, nil
}

// validateReferences checks every reference and merges duplicates. At least one is required.
func validateReferences(references []CardReference) ([]CardReference, error) {
	if len(references) == 0 {
		return nil, fmt.Errorf("%w: at least one card is required", ErrInvalidDeck)
	}
	cleaned := make([]CardReference, 0, len(references))
	for index, reference := range references {
		externalID, err := validateExternalID(reference.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("%w (card %d)", err, index)
		}
		if err := validateQuantity(reference.Quantity); err != nil {
			return nil, fmt.Errorf("%w (card %d)", err, index)
		}
		cleaned = append(cleaned, CardReference{ExternalID: externalID, Quantity: reference.Quantity})
	}
	return MergeReferences(cleaned), nil
}

func cloneReferences(references []CardReference) []CardReference {
	if references == nil {
		return nil
	}
	clone := make([]CardReference, len(references))
	copy(clone, references)
	return clone
}
