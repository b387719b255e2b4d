package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/decks"
)

type referenceDocument struct {
	ExternalID string `bson:"external_id"`
	Quantity   int    `bson:"quantity"`
}

type deckDocument struct {
	ID          string              `bson:"_id"`
	Name        string              `bson:"name"`
	Format      string              `bson:"format"`
	Description string              `bson:"description,omitempty"`
	Cards       []referenceDocument `bson:"cards"`
	CreatedAt   time.Time           `bson:"created_at"`
	UpdatedAt   time.Time           `bson:"updated_at"`
}

func newReferenceDocuments(references []decks.CardReference) []referenceDocument {
	documents := make([]referenceDocument, len(references))
	for index, reference := range references {
		documents[index] = referenceDocument{ExternalID: reference.ExternalID, Quantity: reference.Quantity}
	}
	return documents
}

func newDeckDocument(deck decks.Deck) deckDocument {
	return deckDocument{
		ID:          deck.ID,
		Name:        deck.Name,
		Format:      deck.Format,
		Description: deck.Description,
		Cards:       newReferenceDocuments(deck.Cards),
		CreatedAt:   deck.CreatedAt.UTC(),
		UpdatedAt:   deck.UpdatedAt.UTC(),
	}
}

func (d deckDocument) toDeck() decks.Deck {
	references := make([]decks.CardReference, len(d.Cards))
	for index, reference := range d.Cards {
		references[index] = decks.CardReference{ExternalID: reference.ExternalID, Quantity: reference.Quantity}
	}
	return decks.Deck{
		ID:          d.ID,
		Name:        d.Name,
		Format:      d.Format,
		Description: d.Description,
		Cards:       references,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

// DeckStore persists decks in a MongoDB collection keyed by deck id.
type DeckStore struct {
	collection *mongo.Collection
}

func (s *DeckStore) GetByID(ctx context.Context, id string) (decks.Deck, bool, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *DeckStore) GetByName(ctx context.Context, name string) (decks.Deck, bool, error) {
	return s.findOne(ctx, bson.M{"name": name})
}

func (s *DeckStore) findOne(ctx context.Context, filter bson.M) (decks.Deck, bool, error) {
	var document deckDocument
	err := s.collection.FindOne(ctx, filter).Decode(&document)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return decks.Deck{}, false, nil
	}
	if err != nil {
		return decks.Deck{}, false, err
	}
	return document.toDeck(), true, nil
}

func (s *DeckStore) GetManyByNames(ctx context.Context, names []string) (map[string]decks.Deck, error) {
	found := make(map[string]decks.Deck, len(names))
	if len(names) == 0 {
		return found, nil
	}
	documents, err := s.find(ctx, bson.M{"name": bson.M{"$in": names}}, options.Find())
	if err != nil {
		return nil, err
	}
	for _, document := range documents {
		found[document.Name] = document.toDeck()
	}
	return found, nil
}

func (s *DeckStore) Insert(ctx context.Context, deck decks.Deck) (decks.Deck, error) {
	document := newDeckDocument(deck)
	if _, err := s.collection.InsertOne(ctx, document); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return decks.Deck{}, fmt.Errorf("%w: %q", decks.ErrDeckNameConflict, deck.Name)
		}
		return decks.Deck{}, err
	}
	return document.toDeck(), nil
}

func (s *DeckStore) Replace(ctx context.Context, id string, update decks.DeckUpdate) (bool, error) {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updateFields(update)})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, fmt.Errorf("%w: %v", decks.ErrDeckNameConflict, err)
		}
		return false, err
	}
	return result.MatchedCount > 0, nil
}

func updateFields(update decks.DeckUpdate) bson.M {
	fields := bson.M{"updated_at": update.UpdatedAt.UTC()}
	if update.Name != nil {
		fields["name"] = *update.Name
	}
	if update.Format != nil {
		fields["format"] = *update.Format
	}
	if update.Description != nil {
		fields["description"] = *update.Description
	}
	if update.Cards != nil {
		fields["cards"] = newReferenceDocuments(update.Cards)
	}
	return fields
}

func (s *DeckStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

func (s *DeckStore) List(ctx context.Context, filter decks.ListFilter, limit, skip int) ([]decks.Deck, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(skip))
	documents, err := s.find(ctx, deckFilter(filter), findOptions)
	if err != nil {
		return nil, err
	}
	found := make([]decks.Deck, 0, len(documents))
	for _, document := range documents {
		found = append(found, document.toDeck())
	}
	return found, nil
}

func (s *DeckStore) Count(ctx context.Context, filter decks.ListFilter) (int64, error) {
	return s.collection.CountDocuments(ctx, deckFilter(filter))
}

func (s *DeckStore) find(ctx context.Context, filter bson.M, findOptions *options.FindOptions) ([]deckDocument, error) {
	cursor, err := s.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	var documents []deckDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, err
	}
	return documents, nil
}

func deckFilter(filter decks.ListFilter) bson.M {
	query := bson.M{}
	if filter.Format != "" {
		query["format"] = filter.Format
	}
	return query
}
