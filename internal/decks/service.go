package decks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/apperr"
)

var (
	errMissingStore      = errors.New("deck store is required")
	errMissingCardLookup = errors.New("card lookup is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
	tracer               = otel.Tracer("github.com/MarcoPoloResearchLab/grimoire/backend/internal/decks")
)

const (
	opServiceNew      = "decks.service.new"
	opCreate          = "decks.create"
	opGet             = "decks.get"
	opGetByName       = "decks.get_by_name"
	opList            = "decks.list"
	opUpdate          = "decks.update"
	opDelete          = "decks.delete"
	opDeleteByName    = "decks.delete_by_name"
	opAddCard         = "decks.add_card"
	opRemoveCard      = "decks.remove_card"
	opSetQuantity     = "decks.set_card_quantity"
	opExpand          = "decks.expand"
	opExportStructure = "decks.export_structured"
	opExportDecklist  = "decks.export_decklist"
	opImport          = "decks.import"

	defaultPageLimit = 50
	maxPageLimit     = 500
)

// ServiceConfig wires the deck service collaborators.
type ServiceConfig struct {
	Store      Store
	Cards      CardLookup
	Names      NameResolver
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service orchestrates deck validation, persistence, mutation, reconciliation, and export.
type Service struct {
	store      Store
	reconciler *Reconciler
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// Page is one window of a deck listing together with the total match count.
type Page struct {
	Decks []Deck `json:"decks"`
	Total int64  `json:"total"`
	Limit int    `json:"limit"`
	Skip  int    `json:"skip"`
}

// ImportResult summarizes a bulk deck import.
type ImportResult struct {
	Total     int                  `json:"total"`
	Success   int                  `json:"success"`
	Failed    int                  `json:"failed"`
	Successes []Deck               `json:"successes"`
	Failures  []apperr.ItemFailure `json:"failures"`
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.New(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Cards == nil {
		return nil, apperr.New(opServiceNew, "missing_card_lookup", errMissingCardLookup)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		reconciler: NewReconciler(cfg.Cards, cfg.Names, logger),
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create validates and stores a new deck. Duplicate references are merged.
func (s *Service) Create(ctx context.Context, input DeckInput) (Deck, error) {
	deck, err := s.buildDeck(input)
	if err != nil {
		return Deck{}, apperr.New(opCreate, "invalid_input", err)
	}

	_, exists, err := s.store.GetByName(ctx, deck.Name)
	if err != nil {
		s.logError(opCreate, "store_failed", err, zap.String("name", deck.Name))
		return Deck{}, apperr.New(opCreate, "store_failed", err)
	}
	if exists {
		return Deck{}, apperr.New(opCreate, "name_conflict", fmt.Errorf("%w: %q", ErrDeckNameConflict, deck.Name))
	}

	return s.insert(ctx, opCreate, deck)
}

func (s *Service) buildDeck(input DeckInput) (Deck, error) {
	name, err := validateName(input.Name)
	if err != nil {
		return Deck{}, err
	}
	format, err := validateFormat(input.Format)
	if err != nil {
		return Deck{}, err
	}
	references, err := validateReferences(input.Cards)
	if err != nil {
		return Deck{}, err
	}
	now := s.now()
	return Deck{
		Name:        name,
		Format:      format,
		Description: strings.TrimSpace(input.Description),
		Cards:       references,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) insert(ctx context.Context, operation string, deck Deck) (Deck, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return Deck{}, apperr.New(operation, "id_generation_failed", err)
	}
	deck.ID = id

	stored, err := s.store.Insert(ctx, deck)
	if errors.Is(err, ErrDeckNameConflict) {
		return Deck{}, apperr.New(operation, "name_conflict", err)
	}
	if err != nil {
		s.logError(operation, "store_failed", err, zap.String("name", deck.Name))
		return Deck{}, apperr.New(operation, "store_failed", err)
	}
	return stored, nil
}

// Get returns the deck with the given id.
func (s *Service) Get(ctx context.Context, id string) (Deck, error) {
	return s.load(ctx, opGet, id)
}

// GetByName returns the deck with the exact name.
func (s *Service) GetByName(ctx context.Context, name string) (Deck, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Deck{}, apperr.New(opGetByName, "invalid_input", fmt.Errorf("%w: name is required", ErrInvalidDeck))
	}
	deck, found, err := s.store.GetByName(ctx, name)
	if err != nil {
		s.logError(opGetByName, "store_failed", err, zap.String("name", name))
		return Deck{}, apperr.New(opGetByName, "store_failed", err)
	}
	if !found {
		return Deck{}, apperr.New(opGetByName, "not_found", fmt.Errorf("%w: %q", ErrDeckNotFound, name))
	}
	return deck, nil
}

func (s *Service) load(ctx context.Context, operation, id string) (Deck, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Deck{}, apperr.New(operation, "invalid_input", fmt.Errorf("%w: id is required", ErrInvalidDeck))
	}
	deck, found, err := s.store.GetByID(ctx, id)
	if err != nil {
		s.logError(operation, "store_failed", err, zap.String("deck_id", id))
		return Deck{}, apperr.New(operation, "store_failed", err)
	}
	if !found {
		return Deck{}, apperr.New(operation, "not_found", fmt.Errorf("%w: %s", ErrDeckNotFound, id))
	}
	return deck, nil
}

// List returns decks newest first together with the total number of matches.
func (s *Service) List(ctx context.Context, filter ListFilter, limit, skip int) (Page, error) {
	if limit < 0 || skip < 0 {
		return Page{}, apperr.New(opList, "invalid_page", fmt.Errorf("%w: limit and skip must not be negative", ErrInvalidDeck))
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	filter.Format = strings.TrimSpace(filter.Format)

	decks, err := s.store.List(ctx, filter, limit, skip)
	if err != nil {
		s.logError(opList, "store_failed", err)
		return Page{}, apperr.New(opList, "store_failed", err)
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		s.logError(opList, "count_failed", err)
		return Page{}, apperr.New(opList, "count_failed", err)
	}
	if decks == nil {
		decks = []Deck{}
	}
	return Page{Decks: decks, Total: total, Limit: limit, Skip: skip}, nil
}

// Update applies a partial update. A rename is checked against other decks before writing.
func (s *Service) Update(ctx context.Context, id string, patch DeckPatch) (Deck, error) {
	deck, err := s.load(ctx, opUpdate, id)
	if err != nil {
		return Deck{}, err
	}

	update := DeckUpdate{UpdatedAt: s.now()}
	if patch.Name != nil {
		name, err := validateName(*patch.Name)
		if err != nil {
			return Deck{}, apperr.New(opUpdate, "invalid_input", err)
		}
		update.Name = &name
	}
	if patch.Format != nil {
		format, err := validateFormat(*patch.Format)
		if err != nil {
			return Deck{}, apperr.New(opUpdate, "invalid_input", err)
		}
		update.Format = &format
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		update.Description = &description
	}
	if patch.Cards != nil {
		references, err := validateReferences(*patch.Cards)
		if err != nil {
			return Deck{}, apperr.New(opUpdate, "invalid_input", err)
		}
		update.Cards = references
	}

	if update.Name != nil && *update.Name != deck.Name {
		other, exists, err := s.store.GetByName(ctx, *update.Name)
		if err != nil {
			s.logError(opUpdate, "store_failed", err, zap.String("deck_id", deck.ID))
			return Deck{}, apperr.New(opUpdate, "store_failed", err)
		}
		if exists && other.ID != deck.ID {
			return Deck{}, apperr.New(opUpdate, "name_conflict", fmt.Errorf("%w: %q", ErrDeckNameConflict, *update.Name))
		}
	}

	return s.replace(ctx, opUpdate, deck, update)
}

func (s *Service) replace(ctx context.Context, operation string, deck Deck, update DeckUpdate) (Deck, error) {
	replaced, err := s.store.Replace(ctx, deck.ID, update)
	if errors.Is(err, ErrDeckNameConflict) {
		return Deck{}, apperr.New(operation, "name_conflict", err)
	}
	if err != nil {
		s.logError(operation, "store_failed", err, zap.String("deck_id", deck.ID))
		return Deck{}, apperr.New(operation, "store_failed", err)
	}
	if !replaced {
		return Deck{}, apperr.New(operation, "not_found", fmt.Errorf("%w: %s", ErrDeckNotFound, deck.ID))
	}
	return update.Apply(deck), nil
}

// Delete removes the deck with the given id.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperr.New(opDelete, "invalid_input", fmt.Errorf("%w: id is required", ErrInvalidDeck))
	}
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		s.logError(opDelete, "store_failed", err, zap.String("deck_id", id))
		return apperr.New(opDelete, "store_failed", err)
	}
	if !deleted {
		return apperr.New(opDelete, "not_found", fmt.Errorf("%w: %s", ErrDeckNotFound, id))
	}
	return nil
}

// DeleteByName removes the deck with the exact name.
func (s *Service) DeleteByName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.New(opDeleteByName, "invalid_input", fmt.Errorf("%w: name is required", ErrInvalidDeck))
	}
	deck, found, err := s.store.GetByName(ctx, name)
	if err != nil {
		s.logError(opDeleteByName, "store_failed", err, zap.String("name", name))
		return apperr.New(opDeleteByName, "store_failed", err)
	}
	if !found {
		return apperr.New(opDeleteByName, "not_found", fmt.Errorf("%w: %q", ErrDeckNotFound, name))
	}
	deleted, err := s.store.Delete(ctx, deck.ID)
	if err != nil {
		s.logError(opDeleteByName, "store_failed", err, zap.String("deck_id", deck.ID))
		return apperr.New(opDeleteByName, "store_failed", err)
	}
	if !deleted {
		return apperr.New(opDeleteByName, "not_found", fmt.Errorf("%w: %q", ErrDeckNotFound, deck.Name))
	}
	return nil
}

// AddCard adds quantity copies of the card to the deck.
func (s *Service) AddCard(ctx context.Context, id, externalID string, quantity int) (Deck, error) {
	externalID, err := validateExternalID(externalID)
	if err != nil {
		return Deck{}, apperr.New(opAddCard, "invalid_input", err)
	}
	if err := validateQuantity(quantity); err != nil {
		return Deck{}, apperr.New(opAddCard, "invalid_input", err)
	}
	deck, err := s.load(ctx, opAddCard, id)
	if err != nil {
		return Deck{}, err
	}
	update := DeckUpdate{Cards: AddCard(deck.Cards, externalID, quantity), UpdatedAt: s.now()}
	return s.replace(ctx, opAddCard, deck, update)
}

// RemoveCard drops the card from the deck. Removing the last card is rejected.
func (s *Service) RemoveCard(ctx context.Context, id, externalID string) (Deck, error) {
	externalID, err := validateExternalID(externalID)
	if err != nil {
		return Deck{}, apperr.New(opRemoveCard, "invalid_input", err)
	}
	deck, err := s.load(ctx, opRemoveCard, id)
	if err != nil {
		return Deck{}, err
	}
	references, err := RemoveCard(deck.Cards, externalID)
	switch {
	case errors.Is(err, ErrReferenceNotFound):
		return Deck{}, apperr.New(opRemoveCard, "reference_not_found", fmt.Errorf("%w: %s", err, externalID))
	case errors.Is(err, ErrWouldEmptyDeck):
		return Deck{}, apperr.New(opRemoveCard, "would_empty_deck", err)
	}
	update := DeckUpdate{Cards: references, UpdatedAt: s.now()}
	return s.replace(ctx, opRemoveCard, deck, update)
}

// SetCardQuantity replaces the quantity of a card already in the deck.
func (s *Service) SetCardQuantity(ctx context.Context, id, externalID string, quantity int) (Deck, error) {
	externalID, err := validateExternalID(externalID)
	if err != nil {
		return Deck{}, apperr.New(opSetQuantity, "invalid_input", err)
	}
	if err := validateQuantity(quantity); err != nil {
		return Deck{}, apperr.New(opSetQuantity, "invalid_input", err)
	}
	deck, err := s.load(ctx, opSetQuantity, id)
	if err != nil {
		return Deck{}, err
	}
	references, err := SetQuantity(deck.Cards, externalID, quantity)
	if err != nil {
		return Deck{}, apperr.New(opSetQuantity, "reference_not_found", fmt.Errorf("%w: %s", err, externalID))
	}
	update := DeckUpdate{Cards: references, UpdatedAt: s.now()}
	return s.replace(ctx, opSetQuantity, deck, update)
}

// Expand returns the deck with every reference joined to its catalog card.
func (s *Service) Expand(ctx context.Context, id string) (ReconciledDeck, error) {
	deck, err := s.load(ctx, opExpand, id)
	if err != nil {
		return ReconciledDeck{}, err
	}
	expanded, err := s.reconciler.Expand(ctx, deck)
	if err != nil {
		s.logError(opExpand, "catalog_failed", err, zap.String("deck_id", deck.ID))
		return ReconciledDeck{}, apperr.New(opExpand, "catalog_failed", err)
	}
	return expanded, nil
}

// ExportStructured returns the minimal reference form of the deck.
func (s *Service) ExportStructured(ctx context.Context, id string) (StructuredExport, error) {
	deck, err := s.load(ctx, opExportStructure, id)
	if err != nil {
		return StructuredExport{}, err
	}
	return NewStructuredExport(deck), nil
}

// ExportDecklist renders the deck as plain-text decklist lines, backfilling names of
// cards missing from the catalog when the external service knows them.
func (s *Service) ExportDecklist(ctx context.Context, id string) (string, error) {
	ctx, span := tracer.Start(ctx, opExportDecklist)
	defer span.End()

	deck, err := s.load(ctx, opExportDecklist, id)
	if err != nil {
		return "", err
	}
	expanded, err := s.reconciler.Expand(ctx, deck)
	if err != nil {
		s.logError(opExportDecklist, "catalog_failed", err, zap.String("deck_id", deck.ID))
		return "", apperr.New(opExportDecklist, "catalog_failed", err)
	}
	return FormatDecklist(s.reconciler.Backfill(ctx, expanded.Cards)), nil
}

// ImportDecks creates several decks at once. Invalid inputs and name conflicts are reported
// per item without aborting the batch.
func (s *Service) ImportDecks(ctx context.Context, inputs []DeckInput) (ImportResult, error) {
	ctx, span := tracer.Start(ctx, opImport)
	defer span.End()

	if len(inputs) == 0 {
		return ImportResult{}, apperr.New(opImport, "invalid_input", fmt.Errorf("%w: at least one deck is required", ErrInvalidDeck))
	}

	result := ImportResult{
		Total:     len(inputs),
		Successes: []Deck{},
		Failures:  []apperr.ItemFailure{},
	}

	built := make([]Deck, 0, len(inputs))
	names := make([]string, 0, len(inputs))
	for index, input := range inputs {
		deck, err := s.buildDeck(input)
		if err != nil {
			result.Failures = append(result.Failures, apperr.ItemFailure{Key: importKey(input, index), Error: err.Error()})
			continue
		}
		built = append(built, deck)
		names = append(names, deck.Name)
	}

	existing := map[string]Deck{}
	if len(names) > 0 {
		found, err := s.store.GetManyByNames(ctx, names)
		if err != nil {
			s.logError(opImport, "store_failed", err, zap.Int("decks", len(names)))
			return ImportResult{}, apperr.New(opImport, "store_failed", err)
		}
		existing = found
	}

	claimed := make(map[string]struct{}, len(built))
	for _, deck := range built {
		_, taken := existing[deck.Name]
		if _, duplicate := claimed[deck.Name]; taken || duplicate {
			result.Failures = append(result.Failures, apperr.ItemFailure{Key: deck.Name, Error: ErrDeckNameConflict.Error()})
			continue
		}
		claimed[deck.Name] = struct{}{}

		stored, err := s.insert(ctx, opImport, deck)
		if err != nil {
			result.Failures = append(result.Failures, apperr.ItemFailure{Key: deck.Name, Error: err.Error()})
			continue
		}
		result.Successes = append(result.Successes, stored)
	}

	result.Success = len(result.Successes)
	result.Failed = len(result.Failures)
	span.SetAttributes(
		attribute.Int("decks.success", result.Success),
		attribute.Int("decks.failed", result.Failed),
	)
	return result, nil
}

func importKey(input DeckInput, index int) string {
	if name := strings.TrimSpace(input.Name); name != "" {
		return name
	}
	return fmt.Sprintf("#%d", index)
}

// now is truncated to whole seconds, the resolution stores keep.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Second)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("decks service error", attrs...)
}
