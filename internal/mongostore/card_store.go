package mongostore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
)

type cardDocument struct {
	ExternalID        string            `bson:"external_id"`
	OracleID          string            `bson:"oracle_id,omitempty"`
	Name              string            `bson:"name"`
	NameLower         string            `bson:"name_lower"`
	ManaCost          string            `bson:"mana_cost,omitempty"`
	ConvertedManaCost *float64          `bson:"converted_mana_cost,omitempty"`
	TypeLine          string            `bson:"type_line,omitempty"`
	RulesText         string            `bson:"rules_text,omitempty"`
	Power             string            `bson:"power,omitempty"`
	Toughness         string            `bson:"toughness,omitempty"`
	Colors            []string          `bson:"colors"`
	ColorIdentity     []string          `bson:"color_identity"`
	Rarity            string            `bson:"rarity,omitempty"`
	SetName           string            `bson:"set_name,omitempty"`
	SetCode           string            `bson:"set_code,omitempty"`
	ImageURIs         map[string]string `bson:"image_uris,omitempty"`
	Prices            map[string]string `bson:"prices,omitempty"`
	ImportedAt        time.Time         `bson:"imported_at"`
}

func newCardDocument(card cards.Card, importedAt time.Time) cardDocument {
	return cardDocument{
		ExternalID:        card.ExternalID,
		OracleID:          card.OracleID,
		Name:              card.Name,
		NameLower:         strings.ToLower(card.Name),
		ManaCost:          card.ManaCost,
		ConvertedManaCost: card.ConvertedManaCost,
		TypeLine:          card.TypeLine,
		RulesText:         card.RulesText,
		Power:             card.Power,
		Toughness:         card.Toughness,
		Colors:            card.Colors,
		ColorIdentity:     card.ColorIdentity,
		Rarity:            card.Rarity,
		SetName:           card.SetName,
		SetCode:           card.SetCode,
		ImageURIs:         card.ImageURIs,
		Prices:            card.Prices,
		ImportedAt:        importedAt.UTC(),
	}
}

func (d cardDocument) toCard() cards.Card {
	return cards.Card{
		ExternalID:        d.ExternalID,
		OracleID:          d.OracleID,
		Name:              d.Name,
		ManaCost:          d.ManaCost,
		ConvertedManaCost: d.ConvertedManaCost,
		TypeLine:          d.TypeLine,
		RulesText:         d.RulesText,
		Power:             d.Power,
		Toughness:         d.Toughness,
		Colors:            d.Colors,
		ColorIdentity:     d.ColorIdentity,
		Rarity:            d.Rarity,
		SetName:           d.SetName,
		SetCode:           d.SetCode,
		ImageURIs:         d.ImageURIs,
		Prices:            d.Prices,
	}
}

// CardStore persists catalog cards in a MongoDB collection.
type CardStore struct {
	collection *mongo.Collection
	clock      func() time.Time
}

func (s *CardStore) Get(ctx context.Context, externalID string) (cards.Card, bool, error) {
	return s.findOne(ctx, bson.M{"external_id": externalID}, nil)
}

func (s *CardStore) GetMany(ctx context.Context, externalIDs []string) (map[string]cards.Card, error) {
	found := make(map[string]cards.Card, len(externalIDs))
	if len(externalIDs) == 0 {
		return found, nil
	}
	cursor, err := s.collection.Find(ctx, bson.M{"external_id": bson.M{"$in": externalIDs}})
	if err != nil {
		return nil, err
	}
	var documents []cardDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, err
	}
	for _, document := range documents {
		found[document.ExternalID] = document.toCard()
	}
	return found, nil
}

func (s *CardStore) FindByName(ctx context.Context, name string) (cards.Card, bool, error) {
	filter := bson.M{"name_lower": strings.ToLower(strings.TrimSpace(name))}
	return s.findOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "external_id", Value: 1}}))
}

func (s *CardStore) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (cards.Card, bool, error) {
	var document cardDocument
	var err error
	if opts != nil {
		err = s.collection.FindOne(ctx, filter, opts).Decode(&document)
	} else {
		err = s.collection.FindOne(ctx, filter).Decode(&document)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return cards.Card{}, false, nil
	}
	if err != nil {
		return cards.Card{}, false, err
	}
	return document.toCard(), true, nil
}

// Upsert replaces the whole document with the same external id, inserting it when absent.
func (s *CardStore) Upsert(ctx context.Context, card cards.Card) (cards.Card, error) {
	if err := card.Validate(); err != nil {
		return cards.Card{}, err
	}
	document := newCardDocument(card, s.clock())
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"external_id": card.ExternalID},
		document,
		options.Replace().SetUpsert(true))
	if err != nil {
		return cards.Card{}, err
	}
	return document.toCard(), nil
}

func (s *CardStore) Search(ctx context.Context, filter cards.SearchFilter, limit, skip int) ([]cards.Card, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}, {Key: "external_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(skip))
	cursor, err := s.collection.Find(ctx, cardFilter(filter), findOptions)
	if err != nil {
		return nil, err
	}
	var documents []cardDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, err
	}
	found := make([]cards.Card, 0, len(documents))
	for _, document := range documents {
		found = append(found, document.toCard())
	}
	return found, nil
}

func (s *CardStore) Count(ctx context.Context, filter cards.SearchFilter) (int64, error) {
	return s.collection.CountDocuments(ctx, cardFilter(filter))
}

func cardFilter(filter cards.SearchFilter) bson.M {
	query := bson.M{}
	if name := strings.TrimSpace(filter.Name); name != "" {
		query["name"] = bson.M{"$regex": regexp.QuoteMeta(name), "$options": "i"}
	}
	if typeLine := strings.TrimSpace(filter.TypeLine); typeLine != "" {
		query["type_line"] = bson.M{"$regex": regexp.QuoteMeta(typeLine), "$options": "i"}
	}
	if rarity := strings.TrimSpace(filter.Rarity); rarity != "" {
		query["rarity"] = strings.ToLower(rarity)
	}
	if colors := filter.NormalizedColors(); len(colors) > 0 {
		query["colors"] = bson.M{"$all": colors}
	}
	return query
}
