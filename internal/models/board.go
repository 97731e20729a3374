package models

import (
	"cmp"
	"slices"
	"strings"
)

// UncategorizedID is the category every unclassified record lands in.
const UncategorizedID = "uncategorized"

// CategoryDef is the configured identity of a board column.
type CategoryDef struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
}

// DefaultCategories is the fixed category set the board starts with.
var DefaultCategories = []CategoryDef{
	{ID: UncategorizedID, Title: "Uncategorized"},
	{ID: "ui_ux", Title: "UI/UX"},
	{ID: "library", Title: "Library"},
	{ID: "ai", Title: "AI"},
	{ID: "headless", Title: "Headless"},
}

// Category is a named bucket holding an ordered set of records.
type Category struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Items []Record `json:"items"`
}

// Board is the full set of categories plus their display order.
type Board struct {
	Categories map[string]*Category `json:"categories"`
	Order      []string             `json:"categoryOrder"`
}

// NewBoard returns an empty board with one category per definition, in order.
func NewBoard(defs []CategoryDef) *Board {
	b := &Board{
		Categories: make(map[string]*Category, len(defs)),
		Order:      make([]string, 0, len(defs)),
	}
	for _, d := range defs {
		b.Categories[d.ID] = &Category{ID: d.ID, Title: d.Title, Items: []Record{}}
		b.Order = append(b.Order, d.ID)
	}
	return b
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	out := &Board{
		Categories: make(map[string]*Category, len(b.Categories)),
		Order:      slices.Clone(b.Order),
	}
	for id, c := range b.Categories {
		items := make([]Record, len(c.Items))
		copy(items, c.Items)
		out.Categories[id] = &Category{ID: c.ID, Title: c.Title, Items: items}
	}
	return out
}

// Records returns every record on the board, walking categories in display order.
func (b *Board) Records() []Record {
	var out []Record
	for _, id := range b.Order {
		if c, ok := b.Categories[id]; ok {
			out = append(out, c.Items...)
		}
	}
	return out
}

// Len returns the number of records across all categories.
func (b *Board) Len() int {
	n := 0
	for _, c := range b.Categories {
		n += len(c.Items)
	}
	return n
}

// Counts returns the number of records per category id.
func (b *Board) Counts() map[string]int {
	out := make(map[string]int, len(b.Categories))
	for id, c := range b.Categories {
		out[id] = len(c.Items)
	}
	return out
}

// Lookup finds a category id case-insensitively.
func (b *Board) Lookup(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if _, ok := b.Categories[id]; ok {
		return id, true
	}
	for key := range b.Categories {
		if strings.EqualFold(key, id) {
			return key, true
		}
	}
	return "", false
}

// Locate returns the category id holding the record with the given id.
func (b *Board) Locate(recordID int) (string, bool) {
	for id, c := range b.Categories {
		for _, r := range c.Items {
			if r.ID == recordID {
				return id, true
			}
		}
	}
	return "", false
}

// SortByLikes orders records by likes descending, keeping the prior
// relative order of records with equal likes.
func SortByLikes(items []Record) {
	slices.SortStableFunc(items, func(a, b Record) int {
		return cmp.Compare(NormalizeLikes(b.Likes), NormalizeLikes(a.Likes))
	})
}

// Classification is the category and sentiment an external classifier
// assigned to one record.
type Classification struct {
	Category  string `json:"category"`
	Sentiment string `json:"sentiment"`
}

// Complete reports whether both fields are present.
func (c Classification) Complete() bool {
	return strings.TrimSpace(c.Category) != "" && strings.TrimSpace(c.Sentiment) != ""
}

// PendingItem is the classifier input for one record.
type PendingItem struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}
