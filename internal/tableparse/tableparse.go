// Package tableparse implements the Table Parser (C5): discovery of HTML
// <table> blocks embedded in a page's markdown, and a lenient rowspan/colspan
// aware conversion of each block into a Table grid.
package tableparse

import (
	"fmt"
	"regexp"
	"strings"
)

// Column identifies a resolved (parent, child) header pair.
type Column struct {
	Parent     string
	Child      string
	NormParent string
	NormChild  string
}

// Display returns "parent · child" when they differ, else just parent.
func (c Column) Display() string {
	if c.Parent == c.Child {
		return c.Parent
	}
	return c.Parent + " · " + c.Child
}

// Cell is one physical grid slot. A spanning source cell occupies multiple
// (row, col) slots, all carrying the same text and span dimensions.
type Cell struct {
	Row, Col       int
	Text           string
	SourceRowSpan  int
	SourceColSpan  int
}

// Table is the derived, unpersisted output of parsing one <table> block.
type Table struct {
	Index    int // 0-based position of this block within the page's markdown
	Columns  []Column
	Rows     [][]Cell // data rows only, header rows excluded
	Heading  string   // nearest preceding heading text, if any
}

var (
	tableBlockRe = regexp.MustCompile(`(?is)<table\b[^>]*>.*?</table>`)
	rowRe        = regexp.MustCompile(`(?is)<tr\b[^>]*>(.*?)</tr>`)
	cellRe       = regexp.MustCompile(`(?is)<(t[hd])\b([^>]*)>(.*?)</t[hd]>`)
	attrRe       = regexp.MustCompile(`(?i)(rowspan|colspan)\s*=\s*["']?(\d+)["']?`)
	tagStripRe   = regexp.MustCompile(`(?s)<[^>]+>`)
	headingRe    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
)

// Parse scans markdown for HTML table blocks in source order and returns one
// Table per block, index-stable across re-renders of the same markdown
// (spec §4.5). Parsing never fails: a malformed block yields an empty Table.
func Parse(markdown string) []Table {
	blocks := tableBlockRe.FindAllStringIndex(markdown, -1)
	headings := collectHeadings(markdown)

	tables := make([]Table, 0, len(blocks))
	for i, loc := range blocks {
		block := markdown[loc[0]:loc[1]]
		t := parseBlock(block)
		t.Index = i
		t.Heading = nearestHeadingBefore(headings, loc[0])
		tables = append(tables, t)
	}
	return tables
}

// ReplaceTable substitutes the index-th <table>...</table> block (0-based,
// in the same discovery order Parse uses) with replacement, leaving every
// other byte of markdown untouched. Used by the Correction Loop's surgical
// single-table replacement (spec §4.8).
func ReplaceTable(markdown string, index int, replacement string) (string, error) {
	blocks := tableBlockRe.FindAllStringIndex(markdown, -1)
	if index < 0 || index >= len(blocks) {
		return "", fmt.Errorf("table index %d out of range (found %d tables)", index, len(blocks))
	}
	loc := blocks[index]
	return markdown[:loc[0]] + replacement + markdown[loc[1]:], nil
}

// BlockAt returns the raw HTML of the index-th <table>...</table> block in
// markdown, in the same discovery order Parse and ReplaceTable use. Used by
// the Correction Loop to recover a table's current markup (spec §4.8).
func BlockAt(markdown string, index int) (string, error) {
	blocks := tableBlockRe.FindAllStringIndex(markdown, -1)
	if index < 0 || index >= len(blocks) {
		return "", fmt.Errorf("table index %d out of range (found %d tables)", index, len(blocks))
	}
	loc := blocks[index]
	return markdown[loc[0]:loc[1]], nil
}

type headingMark struct {
	pos  int
	text string
}

func collectHeadings(markdown string) []headingMark {
	matches := headingRe.FindAllStringSubmatchIndex(markdown, -1)
	marks := make([]headingMark, 0, len(matches))
	for _, m := range matches {
		marks = append(marks, headingMark{pos: m[0], text: strings.TrimSpace(markdown[m[4]:m[5]])})
	}
	return marks
}

func nearestHeadingBefore(marks []headingMark, pos int) string {
	best := ""
	for _, m := range marks {
		if m.pos < pos {
			best = m.text
		} else {
			break
		}
	}
	return best
}

// parseBlock converts one <table>...</table> block into a Table, honoring
// rowspan/colspan via an active-span carry map (spec §4.5's "spanning cell
// occupies every covered slot").
func parseBlock(block string) Table {
	rowMatches := rowRe.FindAllStringSubmatch(block, -1)
	if len(rowMatches) == 0 {
		return Table{Rows: nil}
	}

	type rawCell struct {
		text     string
		rowspan  int
		colspan  int
		isHeader bool
	}

	rawRows := make([][]rawCell, 0, len(rowMatches))
	for _, rm := range rowMatches {
		cellMatches := cellRe.FindAllStringSubmatch(rm[1], -1)
		row := make([]rawCell, 0, len(cellMatches))
		for _, cm := range cellMatches {
			tag := strings.ToLower(cm[1])
			attrs := cm[2]
			text := cleanCellText(cm[3])
			rowspan, colspan := 1, 1
			for _, am := range attrRe.FindAllStringSubmatch(attrs, -1) {
				n := parseIntDefault(am[2], 1)
				if strings.EqualFold(am[1], "rowspan") {
					rowspan = n
				} else {
					colspan = n
				}
			}
			if rowspan < 1 {
				rowspan = 1
			}
			if colspan < 1 {
				colspan = 1
			}
			row = append(row, rawCell{text: text, rowspan: rowspan, colspan: colspan, isHeader: tag == "th"})
		}
		rawRows = append(rawRows, row)
	}

	// activeSpans[col] tracks a cell still covering this column in future
	// rows, and how many more rows it covers.
	type activeSpan struct {
		text          string
		remainingRows int
		colspan       int
		sourceRowSpan int
		sourceColSpan int
	}
	activeSpans := map[int]activeSpan{}

	grid := make([][]Cell, 0, len(rawRows))
	maxCols := 0

	for r, rawRow := range rawRows {
		col := 0
		gridRow := []Cell{}

		ci := 0
		for {
			if sp, ok := activeSpans[col]; ok && sp.remainingRows > 0 {
				key := col
				for k := 0; k < sp.colspan; k++ {
					gridRow = append(gridRow, Cell{Row: r, Col: col, Text: sp.text, SourceRowSpan: sp.sourceRowSpan, SourceColSpan: sp.sourceColSpan})
					col++
				}
				sp.remainingRows--
				if sp.remainingRows > 0 {
					activeSpans[key] = sp
				} else {
					delete(activeSpans, key)
				}
				continue
			}
			if ci >= len(rawRow) {
				break
			}
			rc := rawRow[ci]
			ci++
			startCol := col
			for k := 0; k < rc.colspan; k++ {
				gridRow = append(gridRow, Cell{Row: r, Col: col, Text: rc.text, SourceRowSpan: rc.rowspan, SourceColSpan: rc.colspan})
				col++
			}
			if rc.rowspan > 1 {
				activeSpans[startCol] = activeSpan{
					text: rc.text, remainingRows: rc.rowspan - 1, colspan: rc.colspan,
					sourceRowSpan: rc.rowspan, sourceColSpan: rc.colspan,
				}
			}
		}

		grid = append(grid, gridRow)
		if len(gridRow) > maxCols {
			maxCols = len(gridRow)
		}
	}

	// Pad every row to maxCols with empty cells (spec §4.5).
	for r := range grid {
		for len(grid[r]) < maxCols {
			grid[r] = append(grid[r], Cell{Row: r, Col: len(grid[r]), Text: ""})
		}
	}

	headerRowCount := 0
	for i, rawRow := range rawRows {
		if i >= 2 {
			break
		}
		hasHeader := false
		for _, c := range rawRow {
			if c.isHeader {
				hasHeader = true
				break
			}
		}
		if hasHeader || i == 0 {
			headerRowCount++
		} else {
			break
		}
	}
	if headerRowCount > len(grid) {
		headerRowCount = len(grid)
	}
	if headerRowCount > 2 {
		headerRowCount = 2
	}

	columns := inferColumns(grid, headerRowCount, maxCols)

	dataRows := grid[headerRowCount:]
	for i := range dataRows {
		for j := range dataRows[i] {
			dataRows[i][j].Row = i
		}
	}

	return Table{Columns: columns, Rows: dataRows}
}

func inferColumns(grid [][]Cell, headerRowCount, maxCols int) []Column {
	columns := make([]Column, maxCols)
	for col := 0; col < maxCols; col++ {
		var parent, child string
		if headerRowCount == 0 {
			parent, child = "", ""
		} else if headerRowCount == 1 {
			parent = grid[0][col].Text
			child = parent
		} else {
			parent = grid[0][col].Text
			child = grid[1][col].Text
			if child == "" {
				child = parent
			}
			if parent == child {
				// consecutive-level dedup: identical parent/child collapses to one level
			}
		}
		columns[col] = Column{
			Parent: parent, Child: child,
			NormParent: Normalize(parent), NormChild: Normalize(child),
		}
	}
	return columns
}

// Normalize lowercases, strips non-alphanumerics, and collapses whitespace
// for column-matching purposes (spec §4.5, §4.6).
func Normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSpace = false
		case r == ' ', r == '\t', r == '\n':
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
		default:
			// drop punctuation entirely
		}
	}
	return strings.TrimSpace(b.String())
}

func cleanCellText(html string) string {
	html = strings.ReplaceAll(html, "<br>", "\n")
	html = strings.ReplaceAll(html, "<br/>", "\n")
	html = strings.ReplaceAll(html, "<br />", "\n")
	text := tagStripRe.ReplaceAllString(html, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	return strings.TrimSpace(text)
}

func parseIntDefault(s string, def int) int {
	n := 0
	if s == "" {
		return def
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
