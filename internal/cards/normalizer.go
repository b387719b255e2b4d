package cards

import (
	"strings"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/scryfall"
)

// Normalize maps a raw Scryfall record into the catalog Card shape.
// The record identifier and name are required; everything else passes through.
func Normalize(record scryfall.Card) (Card, error) {
	externalID := strings.TrimSpace(record.ID)
	if externalID == "" {
		return Card{}, missingField("id")
	}
	name := strings.TrimSpace(record.Name)
	if name == "" {
		return Card{}, missingField("name")
	}

	card := Card{
		ExternalID:    externalID,
		OracleID:      record.OracleID,
		Name:          name,
		ManaCost:      record.ManaCost,
		TypeLine:      record.TypeLine,
		RulesText:     record.OracleText,
		Power:         record.Power,
		Toughness:     record.Toughness,
		Colors:        copyStrings(record.Colors),
		ColorIdentity: copyStrings(record.ColorIdentity),
		Rarity:        record.Rarity,
		SetName:       record.SetName,
		SetCode:       record.Set,
		ImageURIs:     copyStringMap(record.ImageURIs),
		Prices:        flattenPrices(record.Prices),
	}
	if record.CMC != nil {
		cmc := *record.CMC
		card.ConvertedManaCost = &cmc
	}
	// double-faced printings carry images per face only
	if card.ImageURIs == nil {
		for _, face := range record.CardFaces {
			if len(face.ImageURIs) > 0 {
				card.ImageURIs = copyStringMap(face.ImageURIs)
				break
			}
		}
	}
	return card, nil
}

func copyStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func copyStringMap(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}

// flattenPrices drops entries Scryfall reports as null.
func flattenPrices(values map[string]*string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		if value == nil {
			continue
		}
		out[key] = *value
	}
	return out
}
