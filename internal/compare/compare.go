// Package compare implements the Comparator (C9): a reference(+variant)-keyed
// inner/outer join between two ExtractionResults, classifying each row's
// price movement.
package compare

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/priceledger/pricelistd/internal/cache"
	"github.com/priceledger/pricelistd/internal/extract"
)

// CacheTTL bounds how long a ComparisonResult is reused for an unchanged
// (base, target) extraction pair before recomputation.
const CacheTTL = 10 * time.Minute

// Status is one of the seven price-change classifications (spec §4.9).
type Status string

const (
	StatusNew     Status = "NEW"
	StatusRemoved Status = "REMOVED"
	StatusUnavail Status = "UNAVAIL"
	StatusAvail   Status = "AVAIL"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusSame    Status = "SAME"
)

// Tolerance is the fractional price-equality band below which a change is
// classified SAME rather than UP/DOWN (spec §4.9).
const Tolerance = 0.005

// Row is one joined (base, target) pair for a single reference+variant key.
type Row struct {
	Reference       string
	Variant         string
	BasePage        int
	TargetPage      int
	BaseValue       string
	TargetValue     string
	Status          Status
	AbsoluteChange  *float64
	PercentChange   *float64
}

// Result is the Comparator's output (spec §3 ComparisonResult).
type Result struct {
	Rows           []Row
	BaseRowCount   int
	TargetRowCount int
}

type entry struct {
	value string
	page  int
}

// CachedCompare wraps Compare with a cache.Client lookup keyed by cacheKey,
// so repeated comparisons of the same (base, target) pair — e.g. a user
// revisiting a comparison view — skip recomputation (spec §4.9).
func CachedCompare(ctx context.Context, c cache.Client, cacheKey string, base, target *extract.Result) (*Result, error) {
	if c != nil {
		if raw, err := c.Get(ctx, cacheKey); err == nil {
			var cached Result
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	result := Compare(base, target)

	if c != nil {
		if raw, err := json.Marshal(result); err == nil {
			_ = c.Set(ctx, cacheKey, raw, CacheTTL)
		}
	}
	return result, nil
}

// Compare joins base against target by (reference, variant) key and
// classifies every row (spec §4.9).
func Compare(base, target *extract.Result) *Result {
	baseIdx := columnIndex(base.Headers)
	targetIdx := columnIndex(target.Headers)

	baseMap := indexRows(base, baseIdx)
	targetMap := indexRows(target, targetIdx)

	seen := map[string]bool{}
	var order []string
	for _, r := range base.Rows {
		key := rowKey(r, baseIdx)
		ref, _ := splitKey(key)
		if !validReference(ref) {
			continue
		}
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}
	for _, r := range target.Rows {
		key := rowKey(r, targetIdx)
		ref, _ := splitKey(key)
		if !validReference(ref) {
			continue
		}
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}

	rows := make([]Row, 0, len(order))
	for _, key := range order {
		b, inBase := baseMap[key]
		t, inTarget := targetMap[key]
		rows = append(rows, classify(key, b, inBase, t, inTarget))
	}

	return &Result{Rows: rows, BaseRowCount: len(base.Rows), TargetRowCount: len(target.Rows)}
}

type columns struct {
	reference int
	variant   int // -1 if absent
	value     int
}

func columnIndex(headers []string) columns {
	c := columns{reference: 0, variant: -1, value: -1}
	for i, h := range headers {
		switch h {
		case "variant":
			c.variant = i
		case "value":
			c.value = i
		}
	}
	return c
}

// indexRows builds the join map, keeping the first occurrence of each
// (reference, variant) key and silently skipping later duplicates rather
// than letting a malformed table overwrite it (spec-supplemented "variant-
// aware dedup").
func indexRows(result *extract.Result, idx columns) map[string]entry {
	m := make(map[string]entry, len(result.Rows))
	for i, r := range result.Rows {
		key := rowKey(r, idx)
		ref, _ := splitKey(key)
		if !validReference(ref) {
			continue
		}
		if _, dup := m[key]; dup {
			continue
		}
		value := ""
		if idx.value >= 0 && idx.value < len(r) {
			value = r[idx.value]
		}
		page := 0
		if i < len(result.RowTableIndices) {
			page = result.RowTableIndices[i].Page
		}
		m[key] = entry{value: value, page: page}
	}
	return m
}

// validReference excludes references that are almost always a row index or
// a stray cell rather than an actual product code: purely numeric, under 3
// characters, or containing no letters at all.
func validReference(ref string) bool {
	trimmed := strings.TrimSpace(ref)
	if len(trimmed) < 3 {
		return false
	}
	hasLetter := false
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			hasLetter = true
			break
		}
	}
	return hasLetter
}

func rowKey(row []string, idx columns) string {
	ref := ""
	if idx.reference < len(row) {
		ref = row[idx.reference]
	}
	variant := ""
	if idx.variant >= 0 && idx.variant < len(row) {
		variant = row[idx.variant]
	}
	return ref + "\x00" + variant
}

func classify(key string, b entry, inBase bool, t entry, inTarget bool) Row {
	ref, variant := splitKey(key)
	row := Row{Reference: ref, Variant: variant, BasePage: b.page, TargetPage: t.page, BaseValue: b.value, TargetValue: t.value}

	switch {
	case !inBase && inTarget:
		row.Status = StatusNew
	case inBase && !inTarget:
		row.Status = StatusRemoved
	default:
		baseNum, baseOk := extract.ParsePrice(b.value)
		targetNum, targetOk := extract.ParsePrice(t.value)
		switch {
		case baseOk && !targetOk:
			row.Status = StatusUnavail
		case !baseOk && targetOk:
			row.Status = StatusAvail
		case !baseOk && !targetOk:
			row.Status = StatusSame
		default:
			diff := targetNum - baseNum
			row.AbsoluteChange = ptr(diff)
			if baseNum != 0 {
				pct := diff / baseNum * 100
				row.PercentChange = ptr(pct)
				if math.Abs(pct)/100 <= Tolerance {
					row.Status = StatusSame
				} else if diff > 0 {
					row.Status = StatusUp
				} else {
					row.Status = StatusDown
				}
			} else if diff == 0 {
				row.Status = StatusSame
			} else if diff > 0 {
				row.Status = StatusUp
			} else {
				row.Status = StatusDown
			}
		}
	}
	return row
}

func splitKey(key string) (ref, variant string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func ptr(f float64) *float64 { return &f }

// FormatChange renders a Row's absolute/percent change for display
// (spec §4.9), e.g. "+120.00 (+4.35%)".
func FormatChange(r Row) string {
	if r.AbsoluteChange == nil || r.PercentChange == nil {
		return ""
	}
	sign := "+"
	if *r.AbsoluteChange < 0 {
		sign = ""
	}
	return fmt.Sprintf("%s%.2f (%s%.2f%%)", sign, *r.AbsoluteChange, sign, *r.PercentChange)
}
