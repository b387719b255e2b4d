package cards

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCard indicates that a card record violates the catalog invariants.
var ErrInvalidCard = errors.New("cards: invalid card")

// ValidationError names the field that made a card record unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidCard.Error(), e.Field, e.Reason)
}

// Unwrap lets callers match every ValidationError with errors.Is(err, ErrInvalidCard).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidCard
}

func missingField(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

// Card is one uniquely identified printing stored in the catalog.
type Card struct {
	ExternalID        string            `json:"external_id"`
	OracleID          string            `json:"oracle_id,omitempty"`
	Name              string            `json:"name"`
	ManaCost          string            `json:"mana_cost,omitempty"`
	ConvertedManaCost *float64          `json:"converted_mana_cost,omitempty"`
	TypeLine          string            `json:"type_line,omitempty"`
	RulesText         string            `json:"rules_text,omitempty"`
	Power             string            `json:"power,omitempty"`
	Toughness         string            `json:"toughness,omitempty"`
	Colors            []string          `json:"colors"`
	ColorIdentity     []string          `json:"color_identity"`
	Rarity            string            `json:"rarity,omitempty"`
	SetName           string            `json:"set_name,omitempty"`
	SetCode           string            `json:"set_code,omitempty"`
	ImageURIs         map[string]string `json:"image_uris,omitempty"`
	Prices            map[string]string `json:"prices,omitempty"`
}

// Validate reports whether the card may be persisted.
func (c Card) Validate() error {
	if strings.TrimSpace(c.ExternalID) == "" {
		return missingField("external_id")
	}
	if strings.TrimSpace(c.Name) == "" {
		return missingField("name")
	}
	return nil
}

// ColorKey encodes colors as ",R,U," so stores can match single codes with a LIKE pattern.
func ColorKey(colors []string) string {
	if len(colors) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString(",")
	for _, color := range colors {
		builder.WriteString(strings.ToUpper(strings.TrimSpace(color)))
		builder.WriteString(",")
	}
	return builder.String()
}

// SearchFilter narrows catalog searches. Empty fields match everything.
type SearchFilter struct {
	Name     string
	Colors   []string
	TypeLine string
	Rarity   string
}

// NormalizedColors returns upper-cased, de-duplicated color codes.
func (f SearchFilter) NormalizedColors() []string {
	seen := make(map[string]struct{}, len(f.Colors))
	colors := make([]string, 0, len(f.Colors))
	for _, raw := range f.Colors {
		color := strings.ToUpper(strings.TrimSpace(raw))
		if color == "" {
			continue
		}
		if _, ok := seen[color]; ok {
			continue
		}
		seen[color] = struct{}{}
		colors = append(colors, color)
	}
	return colors
}

// Clone returns a deep copy so cached cards never share slices or maps with callers.
func (c Card) Clone() Card {
	clone := c
	clone.Colors = copyStrings(c.Colors)
	clone.ColorIdentity = copyStrings(c.ColorIdentity)
	clone.ImageURIs = copyStringMap(c.ImageURIs)
	clone.Prices = copyStringMap(c.Prices)
	if c.ConvertedManaCost != nil {
		cmc := *c.ConvertedManaCost
		clone.ConvertedManaCost = &cmc
	}
	return clone
}
