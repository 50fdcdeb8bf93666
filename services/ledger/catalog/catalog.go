// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the fixed set of known store locations and menu items
// and resolves free-text mentions against it.
//
// The catalog is small and static by design: entity resolution is a keyword
// problem, not a search problem. Each entity carries lowercase aliases; a
// mention matches when an alias appears as a substring of the input, or when
// the canonical name overlaps the input on key tokens (tokens longer than two
// characters, so "and", "of", "vs" never match anything).
package catalog

import "strings"

// Entity is one canonical catalog entry.
//
// Thread Safety: Entity is immutable and safe for concurrent read access.
type Entity struct {
	// ID is the canonical identifier used everywhere downstream.
	ID string

	// Name is the display name.
	Name string

	// Aliases are lowercase keywords that identify this entity in free text.
	Aliases []string
}

// Locations is the fixed location catalog.
var Locations = []Entity{
	{ID: "loc_bloor", Name: "Bloor Street", Aliases: []string{"bloor", "bloor street", "bloor st", "annex"}},
	{ID: "loc_kingston", Name: "Kingston Road", Aliases: []string{"kingston", "kingston road", "kingston rd", "beaches"}},
	{ID: "loc_queen", Name: "Queen West", Aliases: []string{"queen", "queen west", "queen street", "west queen west"}},
	{ID: "loc_leslieville", Name: "Leslieville", Aliases: []string{"leslieville", "leslie", "east end"}},
}

// Items is the fixed menu item catalog.
var Items = []Entity{
	{ID: "item_croissant", Name: "Butter Croissant", Aliases: []string{"croissant", "croissants", "butter croissant"}},
	{ID: "item_sourdough", Name: "Sourdough Loaf", Aliases: []string{"sourdough", "loaf", "bread"}},
	{ID: "item_baguette", Name: "Baguette", Aliases: []string{"baguette", "baguettes"}},
	{ID: "item_danish", Name: "Fruit Danish", Aliases: []string{"danish", "danishes", "pastry"}},
	{ID: "item_coffee", Name: "Drip Coffee", Aliases: []string{"coffee", "drip", "drip coffee"}},
	{ID: "item_latte", Name: "Latte", Aliases: []string{"latte", "lattes", "espresso"}},
	{ID: "item_sandwich", Name: "Lunch Sandwich", Aliases: []string{"sandwich", "sandwiches", "lunch"}},
	{ID: "item_cookie", Name: "Oat Cookie", Aliases: []string{"cookie", "cookies", "oat cookie"}},
}

// minTokenLen filters conjunctions and other glue words from token overlap.
const minTokenLen = 3

// MatchLocations returns the canonical IDs of every location mentioned in
// text. No match yields an empty slice, never an error. Ties are not broken;
// callers decide how to handle multiplicity.
func MatchLocations(text string) []string {
	return match(text, Locations)
}

// MatchItems returns the canonical IDs of every menu item mentioned in text.
func MatchItems(text string) []string {
	return match(text, Items)
}

// LocationByID looks up a location by canonical ID.
func LocationByID(id string) (Entity, bool) {
	return byID(id, Locations)
}

// ItemByID looks up a menu item by canonical ID.
func ItemByID(id string) (Entity, bool) {
	return byID(id, Items)
}

// KnownLocation reports whether id is a canonical location ID.
func KnownLocation(id string) bool {
	_, ok := byID(id, Locations)
	return ok
}

// KnownItem reports whether id is a canonical item ID.
func KnownItem(id string) bool {
	_, ok := byID(id, Items)
	return ok
}

// LocationIDs returns every canonical location ID in catalog order.
func LocationIDs() []string {
	ids := make([]string, len(Locations))
	for i, e := range Locations {
		ids[i] = e.ID
	}
	return ids
}

func byID(id string, entities []Entity) (Entity, bool) {
	for _, e := range entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

func match(text string, entities []Entity) []string {
	lower := strings.ToLower(text)
	tokens := tokenSet(lower)

	var ids []string
	for _, e := range entities {
		if matchesEntity(lower, tokens, e) {
			ids = append(ids, e.ID)
		}
	}
	if ids == nil {
		return []string{}
	}
	return ids
}

func matchesEntity(lower string, tokens map[string]bool, e Entity) bool {
	for _, alias := range e.Aliases {
		if strings.Contains(lower, alias) {
			return true
		}
	}
	// Key-token overlap on the canonical name: "Kingston Road" matches any
	// text containing the token "kingston" or "road", but never "rd"-length
	// fragments.
	for _, tok := range strings.Fields(strings.ToLower(e.Name)) {
		if len(tok) >= minTokenLen && tokens[tok] {
			return true
		}
	}
	return false
}

func tokenSet(lower string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(tok) >= minTokenLen {
			set[tok] = true
		}
	}
	return set
}
