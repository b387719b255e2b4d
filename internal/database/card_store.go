package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
)

// CardRecord is the row shape of a catalog card.
type CardRecord struct {
	ExternalID        string         `gorm:"column:external_id;primaryKey;size:64;not null"`
	OracleID          string         `gorm:"column:oracle_id;size:64"`
	Name              string         `gorm:"column:name;size:190;not null;index:idx_cards_name"`
	ManaCost          string         `gorm:"column:mana_cost;size:64"`
	ConvertedManaCost *float64       `gorm:"column:converted_mana_cost"`
	TypeLine          string         `gorm:"column:type_line;size:190;index:idx_cards_type_line"`
	RulesText         string         `gorm:"column:rules_text;type:text"`
	Power             string         `gorm:"column:power;size:16"`
	Toughness         string         `gorm:"column:toughness;size:16"`
	Colors            datatypes.JSON `gorm:"column:colors"`
	ColorIdentity     datatypes.JSON `gorm:"column:color_identity"`
	ColorCodes        string         `gorm:"column:color_codes;size:32;not null;default:''"`
	Rarity            string         `gorm:"column:rarity;size:32;index:idx_cards_rarity"`
	SetName           string         `gorm:"column:set_name;size:190"`
	SetCode           string         `gorm:"column:set_code;size:16"`
	ImageURIs         datatypes.JSON `gorm:"column:image_uris"`
	Prices            datatypes.JSON `gorm:"column:prices"`
	ImportedAtSeconds int64          `gorm:"column:imported_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CardRecord) TableName() string {
	return "cards"
}

func newCardRecord(card cards.Card, importedAt time.Time) (CardRecord, error) {
	colors, err := json.Marshal(card.Colors)
	if err != nil {
		return CardRecord{}, err
	}
	colorIdentity, err := json.Marshal(card.ColorIdentity)
	if err != nil {
		return CardRecord{}, err
	}
	imageURIs, err := json.Marshal(card.ImageURIs)
	if err != nil {
		return CardRecord{}, err
	}
	prices, err := json.Marshal(card.Prices)
	if err != nil {
		return CardRecord{}, err
	}
	return CardRecord{
		ExternalID:        card.ExternalID,
		OracleID:          card.OracleID,
		Name:              card.Name,
		ManaCost:          card.ManaCost,
		ConvertedManaCost: card.ConvertedManaCost,
		TypeLine:          card.TypeLine,
		RulesText:         card.RulesText,
		Power:             card.Power,
		Toughness:         card.Toughness,
		Colors:            datatypes.JSON(colors),
		ColorIdentity:     datatypes.JSON(colorIdentity),
		ColorCodes:        cards.ColorKey(card.Colors),
		Rarity:            card.Rarity,
		SetName:           card.SetName,
		SetCode:           card.SetCode,
		ImageURIs:         datatypes.JSON(imageURIs),
		Prices:            datatypes.JSON(prices),
		ImportedAtSeconds: importedAt.UTC().Unix(),
	}, nil
}

func (r CardRecord) toCard() (cards.Card, error) {
	card := cards.Card{
		ExternalID:        r.ExternalID,
		OracleID:          r.OracleID,
		Name:              r.Name,
		ManaCost:          r.ManaCost,
		ConvertedManaCost: r.ConvertedManaCost,
		TypeLine:          r.TypeLine,
		RulesText:         r.RulesText,
		Power:             r.Power,
		Toughness:         r.Toughness,
		Rarity:            r.Rarity,
		SetName:           r.SetName,
		SetCode:           r.SetCode,
	}
	if err := decodeJSON(r.Colors, &card.Colors); err != nil {
		return cards.Card{}, fmt.Errorf("decode colors of %s: %w", r.ExternalID, err)
	}
	if err := decodeJSON(r.ColorIdentity, &card.ColorIdentity); err != nil {
		return cards.Card{}, fmt.Errorf("decode color identity of %s: %w", r.ExternalID, err)
	}
	if err := decodeJSON(r.ImageURIs, &card.ImageURIs); err != nil {
		return cards.Card{}, fmt.Errorf("decode image uris of %s: %w", r.ExternalID, err)
	}
	if err := decodeJSON(r.Prices, &card.Prices); err != nil {
		return cards.Card{}, fmt.Errorf("decode prices of %s: %w", r.ExternalID, err)
	}
	return card, nil
}

func decodeJSON(raw datatypes.JSON, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

// CardStore persists catalog cards through GORM.
type CardStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewCardStore wraps an opened database handle.
func NewCardStore(db *gorm.DB) (*CardStore, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	return &CardStore{db: db, clock: time.Now}, nil
}

func (s *CardStore) Get(ctx context.Context, externalID string) (cards.Card, bool, error) {
	var record CardRecord
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cards.Card{}, false, nil
	}
	if err != nil {
		return cards.Card{}, false, err
	}
	card, err := record.toCard()
	if err != nil {
		return cards.Card{}, false, err
	}
	return card, true, nil
}

func (s *CardStore) GetMany(ctx context.Context, externalIDs []string) (map[string]cards.Card, error) {
	found := make(map[string]cards.Card, len(externalIDs))
	if len(externalIDs) == 0 {
		return found, nil
	}
	var records []CardRecord
	if err := s.db.WithContext(ctx).Where("external_id IN ?", externalIDs).Find(&records).Error; err != nil {
		return nil, err
	}
	for _, record := range records {
		card, err := record.toCard()
		if err != nil {
			return nil, err
		}
		found[card.ExternalID] = card
	}
	return found, nil
}

// FindByName matches the name case-insensitively. Reprints share a name, so the lowest
// external id wins for a stable answer.
func (s *CardStore) FindByName(ctx context.Context, name string) (cards.Card, bool, error) {
	var record CardRecord
	err := s.db.WithContext(ctx).
		Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).
		Order("external_id ASC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cards.Card{}, false, nil
	}
	if err != nil {
		return cards.Card{}, false, err
	}
	card, err := record.toCard()
	if err != nil {
		return cards.Card{}, false, err
	}
	return card, true, nil
}

// Upsert inserts the card or fully replaces the row with the same external id in one statement.
func (s *CardStore) Upsert(ctx context.Context, card cards.Card) (cards.Card, error) {
	if err := card.Validate(); err != nil {
		return cards.Card{}, err
	}
	record, err := newCardRecord(card, s.clock())
	if err != nil {
		return cards.Card{}, err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			UpdateAll: true,
		}).
		Create(&record).Error
	if err != nil {
		return cards.Card{}, err
	}
	return record.toCard()
}

func (s *CardStore) Search(ctx context.Context, filter cards.SearchFilter, limit, skip int) ([]cards.Card, error) {
	var records []CardRecord
	err := s.filtered(ctx, filter).
		Order("name ASC").
		Order("external_id ASC").
		Limit(limit).
		Offset(skip).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	found := make([]cards.Card, 0, len(records))
	for _, record := range records {
		card, err := record.toCard()
		if err != nil {
			return nil, err
		}
		found = append(found, card)
	}
	return found, nil
}

func (s *CardStore) Count(ctx context.Context, filter cards.SearchFilter) (int64, error) {
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *CardStore) filtered(ctx context.Context, filter cards.SearchFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&CardRecord{})
	if name := strings.TrimSpace(filter.Name); name != "" {
		query = query.Where(`LOWER(name) LIKE ? ESCAPE '\'`, containsPattern(strings.ToLower(name)))
	}
	if typeLine := strings.TrimSpace(filter.TypeLine); typeLine != "" {
		query = query.Where(`LOWER(type_line) LIKE ? ESCAPE '\'`, containsPattern(strings.ToLower(typeLine)))
	}
	if rarity := strings.TrimSpace(filter.Rarity); rarity != "" {
		query = query.Where("rarity = ?", strings.ToLower(rarity))
	}
	for _, color := range filter.NormalizedColors() {
		query = query.Where(`color_codes LIKE ? ESCAPE '\'`, containsPattern(","+color+","))
	}
	return query
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern matches value literally anywhere in a column under LIKE ... ESCAPE '\'.
func containsPattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}
