// Package extract implements the Extraction Engine (C7): turns resolved
// tables into the output row matrix, with fill-down, melt expansion, and
// anomaly flagging.
package extract

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/priceledger/pricelistd/internal/resolve"
	"github.com/priceledger/pricelistd/internal/storage"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

// PageInput is one page's discovered tables, ready for resolution.
type PageInput struct {
	PageNum int
	Tables  []tableparse.Table
}

// Flag is one advisory anomaly on a single output cell.
type Flag struct {
	Row    int
	Col    int
	Reason string
}

const (
	ReasonNonNumericInNumericColumn = "non_numeric_in_numeric_column"
	ReasonOutlierLength             = "outlier_length"
	ReasonRarePattern               = "rare_pattern"
)

// RowTableIndex records the source (page, table_index) for an output row.
type RowTableIndex struct {
	Page       int
	TableIndex int
}

// Result is the Extraction Engine's output (spec §3 ExtractionResult).
type Result struct {
	Headers         []string
	Rows            [][]string
	Flags           []Flag
	RowCount        int
	PageCount       int
	FlaggedCount    int
	RowTableIndices []RowTableIndex
}

// Extract runs C6's resolver over every table on every page and assembles
// the output row matrix per spec §4.7.
func Extract(cfg storage.ExtractionConfig, pages []PageInput) *Result {
	hasMelt := false
	type usableTable struct {
		pageNum int
		mapping resolve.FieldMapping
	}
	var usableTables []usableTable

	pageSet := map[int]bool{}
	for _, p := range pages {
		pageSet[p.PageNum] = true
		mappings := resolve.Resolve(cfg, p.Tables)
		for _, m := range mappings {
			if !m.Usable() {
				continue
			}
			usableTables = append(usableTables, usableTable{pageNum: p.PageNum, mapping: m})
			if m.Mode == resolve.ModeMelt {
				hasMelt = true
			}
		}
	}

	headers := []string{"reference"}
	if hasMelt {
		headers = append(headers, "variant")
	}
	headers = append(headers, cfg.Extras...)
	headers = append(headers, "value")
	if cfg.IncludeHeading {
		headers = append(headers, "heading")
	}
	if cfg.IncludePage {
		headers = append(headers, "page")
	}

	valueCol := len(headers) - 1
	if cfg.IncludePage {
		valueCol--
	}
	if cfg.IncludeHeading {
		valueCol--
	}

	var rows [][]string
	var rowTableIndices []RowTableIndex

	for _, ut := range usableTables {
		t := ut.mapping.Table
		references := fillDownColumn(t, ut.mapping.RowAnchorCol)
		tableStartRow := len(rows)

		for r := range t.Rows {
			ref := references[r]
			if ref == "" {
				continue
			}

			emit := func(variant, value string) {
				row := make([]string, 0, len(headers))
				row = append(row, ref)
				if hasMelt {
					row = append(row, variant)
				}
				for _, extra := range cfg.Extras {
					if col, ok := ut.mapping.ExtraCols[extra]; ok && col < len(t.Rows[r]) {
						row = append(row, t.Rows[r][col].Text)
					} else {
						row = append(row, "")
					}
				}
				row = append(row, value)
				if cfg.IncludeHeading {
					row = append(row, t.Heading)
				}
				if cfg.IncludePage {
					row = append(row, strconv.Itoa(ut.pageNum))
				}
				rows = append(rows, row)
				rowTableIndices = append(rowTableIndices, RowTableIndex{Page: ut.pageNum, TableIndex: t.Index})
			}

			switch ut.mapping.Mode {
			case resolve.ModeMelt:
				for _, vc := range ut.mapping.ValueCols {
					value := ""
					if vc.Col < len(t.Rows[r]) {
						value = t.Rows[r][vc.Col].Text
					}
					variant := vc.Display
					if vc.Col < len(t.Columns) {
						variant = t.Columns[vc.Col].Child
					}
					emit(variant, value)
				}
			default:
				value := ""
				if len(ut.mapping.ValueCols) > 0 && ut.mapping.ValueCols[0].Col < len(t.Rows[r]) {
					value = t.Rows[r][ut.mapping.ValueCols[0].Col].Text
				}
				emit("", value)
			}
		}

		if cfg.FillDownValue && ut.mapping.Mode != resolve.ModeMelt && len(ut.mapping.ValueCols) > 0 {
			fillDownValueColumn(rows, tableStartRow, valueCol)
		}
	}

	flags := flagAnomalies(rows, valueCol)

	return &Result{
		Headers:         headers,
		Rows:            rows,
		Flags:           flags,
		RowCount:        len(rows),
		PageCount:       len(pageSet),
		FlaggedCount:    len(flags),
		RowTableIndices: rowTableIndices,
	}
}

// fillDownColumn reads the row_anchor column for every data row of t and
// carries the last non-empty value forward over empty or sub-row cells
// (spec §4.7 step 2).
func fillDownColumn(t tableparse.Table, col int) []string {
	out := make([]string, len(t.Rows))
	last := ""
	for r, row := range t.Rows {
		text := ""
		if col >= 0 && col < len(row) {
			text = strings.TrimSpace(row[col].Text)
		}
		if text == "" || isSubRowAnnotation(text) {
			out[r] = last
			continue
		}
		last = text
		out[r] = text
	}
	return out
}

var digitOnlyRe = regexp.MustCompile(`^[0-9]+$`)

func isSubRowAnnotation(text string) bool {
	if text == "" {
		return true
	}
	r := []rune(text)[0]
	if r >= 'a' && r <= 'z' {
		return true
	}
	return digitOnlyRe.MatchString(text) && len(text) <= 3
}

// fillDownValueColumn applies the same fill-down rule to the single value
// column of a flat-mode table, starting at the table's first emitted row.
func fillDownValueColumn(rows [][]string, startIdx, valueCol int) {
	if startIdx < 0 {
		startIdx = 0
	}
	last := ""
	for i := startIdx; i < len(rows); i++ {
		if valueCol >= len(rows[i]) {
			continue
		}
		v := strings.TrimSpace(rows[i][valueCol])
		if v == "" {
			rows[i][valueCol] = last
			continue
		}
		last = v
	}
}

// placeholderRe matches cells that stand in for "no value" rather than an
// actual figure.
var placeholderRe = regexp.MustCompile(`^[-—–]+$`)

// unitSuffixRe matches a trailing unit token after a number, e.g. "25.49
// km/l" or "176 hp" (spec's unlabelled-value-column supplement).
var unitSuffixRe = regexp.MustCompile(`(?i)^([0-9.,\-\s]+)\s*([a-z/%°]+)$`)

// ParsePriceWithUnit behaves like ParsePrice but also recognizes a unit
// suffix embedded in the raw cell (e.g. "25.49 km/l", "176 hp") and returns
// it separately instead of letting it defeat numeric parsing.
func ParsePriceWithUnit(raw string) (value float64, unit string, ok bool) {
	s := strings.TrimSpace(raw)
	if m := unitSuffixRe.FindStringSubmatch(s); m != nil {
		if v, pok := ParsePrice(m[1]); pok {
			return v, strings.TrimSpace(m[2]), true
		}
	}
	v, pok := ParsePrice(s)
	return v, "", pok
}

// ParsePrice parses a decimal number tolerant of comma/dot decimal
// separators, currency symbols, and surrounding whitespace (spec §4.7,
// §4.9). ok is false for blanks, placeholders, or unparsable text.
func ParsePrice(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || placeholderRe.MatchString(s) {
		return 0, false
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		case r == ' ', r == ' ':
			// currency spacing, drop
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	var normalized string
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			normalized = strings.ReplaceAll(cleaned[:lastComma], ".", "") + "." + cleaned[lastComma+1:]
		} else {
			normalized = strings.ReplaceAll(cleaned[:lastDot], ",", "") + "." + cleaned[lastDot+1:]
		}
	case lastComma >= 0:
		decimals := len(cleaned) - lastComma - 1
		if strings.Count(cleaned, ",") == 1 && decimals > 0 && decimals <= 2 {
			normalized = cleaned[:lastComma] + "." + cleaned[lastComma+1:]
		} else {
			normalized = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastDot >= 0:
		decimals := len(cleaned) - lastDot - 1
		if strings.Count(cleaned, ".") == 1 && decimals > 0 && decimals <= 2 {
			normalized = cleaned
		} else {
			normalized = strings.ReplaceAll(cleaned, ".", "")
		}
	default:
		normalized = cleaned
	}

	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// flagAnomalies profiles every column across rows and flags outlier cells
// (spec §4.7). valueCol is always profiled numerically.
func flagAnomalies(rows [][]string, valueCol int) []Flag {
	if len(rows) == 0 {
		return nil
	}
	numCols := len(rows[0])

	var flags []Flag
	for col := 0; col < numCols; col++ {
		values := make([]string, len(rows))
		for r, row := range rows {
			if col < len(row) {
				values[r] = row[col]
			}
		}

		numericFraction := numericFraction(values, col == valueCol)
		mean, stdev := lengthStats(values)
		freq := frequencyMap(values)
		topCount, topTotal := topFrequency(freq, len(values))

		for r, v := range values {
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				continue
			}
			if (col == valueCol || numericFraction >= 0.8) {
				if _, _, ok := ParsePriceWithUnit(trimmed); !ok {
					flags = append(flags, Flag{Row: r, Col: col, Reason: ReasonNonNumericInNumericColumn})
					continue
				}
			}
			if stdev >= 2 && math.Abs(float64(len(trimmed))-mean) > 3*stdev {
				flags = append(flags, Flag{Row: r, Col: col, Reason: ReasonOutlierLength})
				continue
			}
			if topTotal > 0 && float64(topCount)/float64(topTotal) >= 0.5 && freq[strings.ToLower(trimmed)] == 1 {
				flags = append(flags, Flag{Row: r, Col: col, Reason: ReasonRarePattern})
			}
		}
	}

	sort.Slice(flags, func(i, j int) bool {
		if flags[i].Row != flags[j].Row {
			return flags[i].Row < flags[j].Row
		}
		return flags[i].Col < flags[j].Col
	})
	return flags
}

func numericFraction(values []string, forceValueColumn bool) float64 {
	total, numeric := 0, 0
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		total++
		if _, _, ok := ParsePriceWithUnit(trimmed); ok {
			numeric++
		}
	}
	if total == 0 {
		if forceValueColumn {
			return 1
		}
		return 0
	}
	return float64(numeric) / float64(total)
}

func lengthStats(values []string) (mean, stdev float64) {
	var lens []float64
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		lens = append(lens, float64(len(trimmed)))
	}
	if len(lens) == 0 {
		return 0, 0
	}
	var sum float64
	for _, l := range lens {
		sum += l
	}
	mean = sum / float64(len(lens))

	var variance float64
	for _, l := range lens {
		variance += (l - mean) * (l - mean)
	}
	variance /= float64(len(lens))
	return mean, math.Sqrt(variance)
}

func frequencyMap(values []string) map[string]int {
	freq := map[string]int{}
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		freq[strings.ToLower(trimmed)]++
	}
	return freq
}

func topFrequency(freq map[string]int, total int) (topCount, totalNonEmpty int) {
	for _, c := range freq {
		totalNonEmpty += c
		if c > topCount {
			topCount = c
		}
	}
	return topCount, totalNonEmpty
}
