package board

import (
	"encoding/json"
	"slices"
	"sort"

	"github.com/starford/sift/internal/models"
)

// schemaVersion tags the shape a persisted board blob was written in.
type schemaVersion int

const (
	// schemaLegacy is any blob lacking the sentinel category, including the
	// older "columns" layout. It is flattened into the default board.
	schemaLegacy schemaVersion = 1
	// schemaCurrent carries the configured category set.
	schemaCurrent schemaVersion = 2
)

// persistedBoard is the on-disk board document.
type persistedBoard struct {
	Version    schemaVersion              `json:"version,omitempty"`
	Categories map[string]json.RawMessage `json:"categories"`
	Order      []string                   `json:"categoryOrder"`
	Columns    map[string]json.RawMessage `json:"columns,omitempty"`
}

// persistedCategory tolerates both the category object and a bare item array.
type persistedCategory struct {
	Title string
	Items []models.Record
}

func decodeCategory(raw json.RawMessage) persistedCategory {
	var obj struct {
		Title string            `json:"title"`
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return persistedCategory{Title: obj.Title, Items: decodeRecords(obj.Items)}
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return persistedCategory{Items: decodeRecords(arr)}
	}
	return persistedCategory{}
}

// decodeRecords keeps every element that decodes as a record object.
func decodeRecords(raws []json.RawMessage) []models.Record {
	out := make([]models.Record, 0, len(raws))
	for _, raw := range raws {
		var r models.Record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

// detect picks the schema variant of doc.
func detect(doc persistedBoard, sentinel string) schemaVersion {
	if _, ok := doc.Categories[sentinel]; ok {
		return schemaCurrent
	}
	return schemaLegacy
}

// categoriesOf returns the category map of doc, whichever key it was stored under.
func categoriesOf(doc persistedBoard) map[string]json.RawMessage {
	if doc.Categories != nil {
		return doc.Categories
	}
	return doc.Columns
}

// walkOrder lists the keys of cats: those named in order first, then the
// rest sorted so the walk is deterministic.
func walkOrder(cats map[string]json.RawMessage, order []string) []string {
	seen := make(map[string]struct{}, len(cats))
	out := make([]string, 0, len(cats))
	for _, id := range order {
		if _, ok := cats[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	var rest []string
	for id := range cats {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// flatten is the single transform for legacy blobs: every stored record,
// whatever column it was in, moves to uncategorized on a default board.
func flatten(doc persistedBoard, defs []models.CategoryDef) *models.Board {
	b := models.NewBoard(defs)
	cats := categoriesOf(doc)
	unc := b.Categories[models.UncategorizedID]
	for _, id := range walkOrder(cats, doc.Order) {
		unc.Items = append(unc.Items, decodeCategory(cats[id]).Items...)
	}
	return b
}

// upgrade maps a current-schema blob onto the configured category set.
func upgrade(doc persistedBoard, defs []models.CategoryDef) *models.Board {
	b := models.NewBoard(defs)
	unc := b.Categories[models.UncategorizedID]
	var strays []models.Record
	for _, id := range walkOrder(doc.Categories, doc.Order) {
		pc := decodeCategory(doc.Categories[id])
		if c, ok := b.Categories[id]; ok {
			c.Items = append(c.Items, pc.Items...)
		} else {
			strays = append(strays, pc.Items...)
		}
	}
	unc.Items = append(unc.Items, strays...)

	order := make([]string, 0, len(defs))
	for _, id := range doc.Order {
		if _, ok := b.Categories[id]; ok && !slices.Contains(order, id) {
			order = append(order, id)
		}
	}
	for _, d := range defs {
		if !slices.Contains(order, d.ID) {
			order = append(order, d.ID)
		}
	}
	b.Order = order
	return b
}

// normalize enforces board-wide id uniqueness (first occurrence in display
// order wins), clamps likes and re-sorts every category.
func normalize(b *models.Board) {
	seen := make(map[int]struct{})
	for _, id := range b.Order {
		c := b.Categories[id]
		kept := c.Items[:0]
		for _, r := range c.Items {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			r.Likes = models.NormalizeLikes(r.Likes)
			kept = append(kept, r)
		}
		c.Items = kept
		models.SortByLikes(c.Items)
	}
}

// decodeRawLog reads the raw ingestion ledger. A flat array of records
// (the older layout) becomes a single batch.
func decodeRawLog(data []byte) (models.RawLog, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, err
	}
	var out models.RawLog
	var legacy []models.Record
	for _, raw := range elems {
		var probe struct {
			Records json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if probe.Records != nil {
			var b models.RawBatch
			if err := json.Unmarshal(raw, &b); err == nil {
				out = append(out, b)
			}
			continue
		}
		var r models.Record
		if err := json.Unmarshal(raw, &r); err == nil {
			legacy = append(legacy, r)
		}
	}
	if len(legacy) > 0 {
		out = append(models.RawLog{{ID: "legacy", Source: "legacy", Records: legacy}}, out...)
	}
	return out, nil
}
