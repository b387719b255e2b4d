package decks

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
)

// CardLookup resolves external ids against the card catalog in one call.
type CardLookup interface {
	GetMany(ctx context.Context, externalIDs []string) (map[string]cards.Card, error)
}

// NameResolver looks display names up directly in the external catalog service.
type NameResolver interface {
	ResolveNames(ctx context.Context, externalIDs []string) (map[string]string, error)
}

// ReconciledEntry joins a card reference with its catalog card, when one exists.
type ReconciledEntry struct {
	ExternalID     string
	Quantity       int
	Card           *cards.Card
	BackfilledName string
}

// Unresolved reports whether the catalog had no card for the reference.
func (e ReconciledEntry) Unresolved() bool {
	return e.Card == nil
}

// DisplayName prefers the catalog name, then a backfilled name, then the raw external id.
func (e ReconciledEntry) DisplayName() string {
	if e.Card != nil && e.Card.Name != "" {
		return e.Card.Name
	}
	if e.BackfilledName != "" {
		return e.BackfilledName
	}
	return e.ExternalID
}

type resolvedEntryJSON struct {
	cards.Card
	Quantity int `json:"quantity"`
}

type unresolvedEntryJSON struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name,omitempty"`
	Quantity   int    `json:"quantity"`
	Unresolved bool   `json:"unresolved"`
}

// MarshalJSON flattens resolved entries into card fields plus quantity and renders
// unresolved entries in their degraded form.
func (e ReconciledEntry) MarshalJSON() ([]byte, error) {
	if e.Card != nil {
		return json.Marshal(resolvedEntryJSON{Card: *e.Card, Quantity: e.Quantity})
	}
	return json.Marshal(unresolvedEntryJSON{
		ExternalID: e.ExternalID,
		Name:       e.BackfilledName,
		Quantity:   e.Quantity,
		Unresolved: true,
	})
}

// ReconciledDeck is a deck whose references were expanded into catalog data.
type ReconciledDeck struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Format      string            `json:"format"`
	Description string            `json:"description,omitempty"`
	Cards       []ReconciledEntry `json:"cards"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Reconciler expands deck references into full card data.
type Reconciler struct {
	lookup   CardLookup
	resolver NameResolver
	logger   *zap.Logger
}

// NewReconciler builds a Reconciler. The resolver is optional; without it Backfill is a no-op.
func NewReconciler(lookup CardLookup, resolver NameResolver, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{lookup: lookup, resolver: resolver, logger: logger}
}

// Expand resolves every reference with a single catalog read. Missing cards yield
// unresolved entries; only a failing catalog read is an error.
func (r *Reconciler) Expand(ctx context.Context, deck Deck) (ReconciledDeck, error) {
	ctx, span := tracer.Start(ctx, "decks.reconciler.expand")
	defer span.End()

	externalIDs := distinctExternalIDs(deck.Cards)
	found := map[string]cards.Card{}
	if len(externalIDs) > 0 {
		resolved, err := r.lookup.GetMany(ctx, externalIDs)
		if err != nil {
			span.RecordError(err)
			return ReconciledDeck{}, err
		}
		found = resolved
	}

	entries := make([]ReconciledEntry, 0, len(deck.Cards))
	unresolved := 0
	for _, reference := range deck.Cards {
		entry := ReconciledEntry{ExternalID: reference.ExternalID, Quantity: reference.Quantity}
		if card, ok := found[reference.ExternalID]; ok {
			resolvedCard := card
			entry.Card = &resolvedCard
		} else {
			unresolved++
		}
		entries = append(entries, entry)
	}
	span.SetAttributes(
		attribute.Int("decks.references", len(entries)),
		attribute.Int("decks.unresolved", unresolved),
	)

	return ReconciledDeck{
		ID:          deck.ID,
		Name:        deck.Name,
		Format:      deck.Format,
		Description: deck.Description,
		Cards:       entries,
		CreatedAt:   deck.CreatedAt,
		UpdatedAt:   deck.UpdatedAt,
	}, nil
}

// Backfill fills display names of unresolved entries from the external catalog service.
// It is best effort: any failure leaves the entries unchanged.
func (r *Reconciler) Backfill(ctx context.Context, entries []ReconciledEntry) []ReconciledEntry {
	filled := make([]ReconciledEntry, len(entries))
	copy(filled, entries)
	if r.resolver == nil {
		return filled
	}

	seen := map[string]struct{}{}
	missing := []string{}
	for _, entry := range filled {
		if !entry.Unresolved() || entry.BackfilledName != "" {
			continue
		}
		if _, ok := seen[entry.ExternalID]; ok {
			continue
		}
		seen[entry.ExternalID] = struct{}{}
		missing = append(missing, entry.ExternalID)
	}
	if len(missing) == 0 {
		return filled
	}

	ctx, span := tracer.Start(ctx, "decks.reconciler.backfill")
	defer span.End()
	span.SetAttributes(attribute.Int("decks.unresolved", len(missing)))

	names, err := r.resolver.ResolveNames(ctx, missing)
	if err != nil {
		r.logger.Debug("backfill lookup failed",
			zap.Int("unresolved", len(missing)),
			zap.Int("resolved", len(names)),
			zap.Error(err))
	}
	for index := range filled {
		if !filled[index].Unresolved() {
			continue
		}
		if name, ok := names[filled[index].ExternalID]; ok && name != "" {
			filled[index].BackfilledName = name
		}
	}
	return filled
}

func distinctExternalIDs(references []CardReference) []string {
	seen := make(map[string]struct{}, len(references))
	ids := make([]string, 0, len(references))
	for _, reference := range references {
		if _, ok := seen[reference.ExternalID]; ok {
			continue
		}
		seen[reference.ExternalID] = struct{}{}
		ids = append(ids, reference.ExternalID)
	}
	return ids
}
