// Package resolve implements the Column Resolver (C6): matching an
// ExtractionConfig's anchors and extras against a Table's (parent, child)
// header grid, in pin/melt/flat value modes.
package resolve

import (
	"strings"

	"github.com/priceledger/pricelistd/internal/storage"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

// Mode is the value-column resolution strategy selected by an
// ExtractionConfig (spec §4.6).
type Mode string

const (
	ModePin  Mode = "pin"
	ModeMelt Mode = "melt"
	ModeFlat Mode = "flat"
)

// ValueColumn is one resolved value-bearing column. In melt mode there is
// one per matched child column; otherwise exactly one.
type ValueColumn struct {
	Col     int
	Display string
}

// FieldMapping is C6's output for a single Table.
type FieldMapping struct {
	Table        tableparse.Table
	Mode         Mode
	RowAnchorCol int // -1 if unresolved
	ValueCols    []ValueColumn
	ExtraCols    map[string]int // extra name -> column index, absent if unmatched
}

// Usable reports whether the table resolves at least a row_anchor and one
// value column (spec §4.6's usability rule).
func (f FieldMapping) Usable() bool {
	return f.RowAnchorCol >= 0 && len(f.ValueCols) > 0
}

// synonymGroups maps vendor-specific terms onto each other for matching
// (spec §4.6: "ref ↔ reference, mrp ↔ list price").
var synonymGroups = [][]string{
	{"ref", "reference", "code", "item code", "sku", "part no", "part number"},
	{"mrp", "list price", "price", "rate", "unit price"},
	{"desc", "description", "particulars", "item"},
	{"qty", "quantity", "units"},
	{"disc", "discount", "off"},
}

// Resolve produces a FieldMapping for each table in tables.
func Resolve(cfg storage.ExtractionConfig, tables []tableparse.Table) []FieldMapping {
	mappings := make([]FieldMapping, 0, len(tables))
	for _, t := range tables {
		mappings = append(mappings, resolveTable(cfg, t))
	}
	return mappings
}

func resolveTable(cfg storage.ExtractionConfig, t tableparse.Table) FieldMapping {
	mapping := FieldMapping{Table: t, ExtraCols: map[string]int{}}

	mapping.RowAnchorCol = resolveRowAnchor(t, cfg.RowAnchor)

	switch {
	case cfg.MatchChild != nil && *cfg.MatchChild != "":
		mapping.Mode = ModePin
		mapping.ValueCols = resolvePin(t, cfg.ValueAnchor, *cfg.MatchChild)
	case cfg.Melt:
		mapping.Mode = ModeMelt
		mapping.ValueCols = resolveMelt(t, cfg.ValueAnchor)
	default:
		mapping.Mode = ModeFlat
		mapping.ValueCols = resolveFlat(t, cfg.ValueAnchor)
	}

	for _, extra := range cfg.Extras {
		if col := firstMatchingColumn(t, extra); col >= 0 {
			mapping.ExtraCols[extra] = col
		}
	}

	return mapping
}

// resolveRowAnchor finds the first column whose parent or child matches,
// breaking parent-level ties in favor of the highest non-empty ratio (then
// leftmost) among that parent's children (spec §4.6).
func resolveRowAnchor(t tableparse.Table, anchor string) int {
	norm := tableparse.Normalize(anchor)
	if norm == "" {
		return -1
	}

	var parentMatchCol = -1
	var parentGroup []int

	for i, col := range t.Columns {
		if isMatch(norm, col.NormChild) {
			return i
		}
	}
	for i, col := range t.Columns {
		if isMatch(norm, col.NormParent) {
			if parentMatchCol == -1 {
				parentMatchCol = i
			}
			parentGroup = append(parentGroup, i)
		}
	}
	if parentMatchCol == -1 {
		return -1
	}
	if len(parentGroup) == 1 {
		return parentMatchCol
	}

	best := parentGroup[0]
	bestRatio := nonEmptyRatio(t, best)
	for _, col := range parentGroup[1:] {
		ratio := nonEmptyRatio(t, col)
		if ratio > bestRatio {
			best, bestRatio = col, ratio
		}
	}
	return best
}

func resolvePin(t tableparse.Table, valueAnchor, matchChild string) []ValueColumn {
	normParent := tableparse.Normalize(valueAnchor)
	normChild := tableparse.Normalize(matchChild)
	for i, col := range t.Columns {
		if isMatch(normParent, col.NormParent) && isMatch(normChild, col.NormChild) {
			return []ValueColumn{{Col: i, Display: col.Display()}}
		}
	}
	return nil
}

func resolveMelt(t tableparse.Table, valueAnchor string) []ValueColumn {
	norm := tableparse.Normalize(valueAnchor)
	var cols []ValueColumn
	for i, col := range t.Columns {
		if isMatch(norm, col.NormParent) {
			cols = append(cols, ValueColumn{Col: i, Display: col.Display()})
		}
	}
	return cols
}

func resolveFlat(t tableparse.Table, valueAnchor string) []ValueColumn {
	if col := firstMatchingColumn(t, valueAnchor); col >= 0 {
		return []ValueColumn{{Col: col, Display: t.Columns[col].Display()}}
	}
	return nil
}

func firstMatchingColumn(t tableparse.Table, query string) int {
	norm := tableparse.Normalize(query)
	if norm == "" {
		return -1
	}
	for i, col := range t.Columns {
		if isMatch(norm, col.NormParent) || isMatch(norm, col.NormChild) {
			return i
		}
	}
	return -1
}

func nonEmptyRatio(t tableparse.Table, col int) float64 {
	if len(t.Rows) == 0 {
		return 0
	}
	nonEmpty := 0
	for _, row := range t.Rows {
		if col < len(row) && strings.TrimSpace(row[col].Text) != "" {
			nonEmpty++
		}
	}
	return float64(nonEmpty) / float64(len(t.Rows))
}

// isMatch is the normalized substring-both-ways match plus synonym
// expansion described in spec §4.6.
func isMatch(query, candidate string) bool {
	if query == "" || candidate == "" {
		return false
	}
	if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
		return true
	}
	for _, group := range synonymGroups {
		if !groupContains(group, query) {
			continue
		}
		for _, term := range group {
			if strings.Contains(candidate, term) || strings.Contains(term, candidate) {
				return true
			}
		}
	}
	return false
}

func groupContains(group []string, term string) bool {
	for _, g := range group {
		if strings.Contains(term, g) || strings.Contains(g, term) {
			return true
		}
	}
	return false
}
