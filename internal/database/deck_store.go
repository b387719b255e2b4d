package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/decks"
)

// DeckRecord is the row shape of a deck. Card references are kept as one JSON document
// so a deck is always read and written as a whole.
type DeckRecord struct {
	ID               string         `gorm:"column:id;primaryKey;size:64;not null"`
	Name             string         `gorm:"column:name;size:190;not null;uniqueIndex:idx_decks_name"`
	Format           string         `gorm:"column:format;size:64;not null;index:idx_decks_format"`
	Description      string         `gorm:"column:description;type:text"`
	Cards            datatypes.JSON `gorm:"column:cards;not null"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null;index:idx_decks_created"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DeckRecord) TableName() string {
	return "decks"
}

func newDeckRecord(deck decks.Deck) (DeckRecord, error) {
	references, err := encodeReferences(deck.Cards)
	if err != nil {
		return DeckRecord{}, err
	}
	return DeckRecord{
		ID:               deck.ID,
		Name:             deck.Name,
		Format:           deck.Format,
		Description:      deck.Description,
		Cards:            references,
		CreatedAtSeconds: deck.CreatedAt.UTC().Unix(),
		UpdatedAtSeconds: deck.UpdatedAt.UTC().Unix(),
	}, nil
}

func (r DeckRecord) toDeck() (decks.Deck, error) {
	references := []decks.CardReference{}
	if err := decodeJSON(r.Cards, &references); err != nil {
		return decks.Deck{}, fmt.Errorf("decode cards of deck %s: %w", r.ID, err)
	}
	return decks.Deck{
		ID:          r.ID,
		Name:        r.Name,
		Format:      r.Format,
		Description: r.Description,
		Cards:       references,
		CreatedAt:   time.Unix(r.CreatedAtSeconds, 0).UTC(),
		UpdatedAt:   time.Unix(r.UpdatedAtSeconds, 0).UTC(),
	}, nil
}

func encodeReferences(references []decks.CardReference) (datatypes.JSON, error) {
	if references == nil {
		references = []decks.CardReference{}
	}
	payload, err := json.Marshal(references)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}

// DeckStore persists decks through GORM.
type DeckStore struct {
	db *gorm.DB
}

// NewDeckStore wraps an opened database handle.
func NewDeckStore(db *gorm.DB) (*DeckStore, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	return &DeckStore{db: db}, nil
}

func (s *DeckStore) GetByID(ctx context.Context, id string) (decks.Deck, bool, error) {
	return s.take(ctx, "id = ?", id)
}

func (s *DeckStore) GetByName(ctx context.Context, name string) (decks.Deck, bool, error) {
	return s.take(ctx, "name = ?", name)
}

func (s *DeckStore) take(ctx context.Context, condition string, value string) (decks.Deck, bool, error) {
	var record DeckRecord
	err := s.db.WithContext(ctx).Where(condition, value).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decks.Deck{}, false, nil
	}
	if err != nil {
		return decks.Deck{}, false, err
	}
	deck, err := record.toDeck()
	if err != nil {
		return decks.Deck{}, false, err
	}
	return deck, true, nil
}

func (s *DeckStore) GetManyByNames(ctx context.Context, names []string) (map[string]decks.Deck, error) {
	found := make(map[string]decks.Deck, len(names))
	if len(names) == 0 {
		return found, nil
	}
	var records []DeckRecord
	if err := s.db.WithContext(ctx).Where("name IN ?", names).Find(&records).Error; err != nil {
		return nil, err
	}
	for _, record := range records {
		deck, err := record.toDeck()
		if err != nil {
			return nil, err
		}
		found[deck.Name] = deck
	}
	return found, nil
}

func (s *DeckStore) Insert(ctx context.Context, deck decks.Deck) (decks.Deck, error) {
	record, err := newDeckRecord(deck)
	if err != nil {
		return decks.Deck{}, err
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return decks.Deck{}, fmt.Errorf("%w: %q", decks.ErrDeckNameConflict, deck.Name)
		}
		return decks.Deck{}, err
	}
	return record.toDeck()
}

func (s *DeckStore) Replace(ctx context.Context, id string, update decks.DeckUpdate) (bool, error) {
	fields := map[string]any{"updated_at_s": update.UpdatedAt.UTC().Unix()}
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
		references, err := encodeReferences(update.Cards)
		if err != nil {
			return false, err
		}
		fields["cards"] = references
	}

	result := s.db.WithContext(ctx).Model(&DeckRecord{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, fmt.Errorf("%w: %v", decks.ErrDeckNameConflict, result.Error)
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *DeckStore) Delete(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&DeckRecord{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// List orders decks newest first. Ids are UUIDv7, so they break ties within one second.
func (s *DeckStore) List(ctx context.Context, filter decks.ListFilter, limit, skip int) ([]decks.Deck, error) {
	var records []DeckRecord
	err := s.filtered(ctx, filter).
		Order("created_at_s DESC").
		Order("id DESC").
		Limit(limit).
		Offset(skip).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	found := make([]decks.Deck, 0, len(records))
	for _, record := range records {
		deck, err := record.toDeck()
		if err != nil {
			return nil, err
		}
		found = append(found, deck)
	}
	return found, nil
}

func (s *DeckStore) Count(ctx context.Context, filter decks.ListFilter) (int64, error) {
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *DeckStore) filtered(ctx context.Context, filter decks.ListFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&DeckRecord{})
	if filter.Format != "" {
		query = query.Where("format = ?", filter.Format)
	}
	return query
}
