// Package correction implements the Correction Loop (C8): a VLM/LLM
// round-trip re-OCR of one table region, a structural diagnosis of the
// existing table, an equivalence test against the proposed replacement, and
// the surgical single-table replacement itself.
package correction

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/priceledger/pricelistd/internal/ocrclient"
	"github.com/priceledger/pricelistd/internal/pricelisterr"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

// Diagnosis reports, per row, whether its effective (unspanned) column
// count diverges from the table's dominant shape — a signal that a rowspan
// or colspan was parsed incorrectly (spec §4.8).
type Diagnosis struct {
	ModeColumnCount int
	FlaggedRows     []int
}

// Diagnose computes the effective column count of every row (the number of
// distinct source cells once colspan-duplicated slots are collapsed) and
// flags rows whose count differs from the table's most common count.
func Diagnose(t tableparse.Table) Diagnosis {
	if len(t.Rows) == 0 {
		return Diagnosis{}
	}

	counts := make([]int, len(t.Rows))
	freq := map[int]int{}
	for i, row := range t.Rows {
		counts[i] = effectiveColumnCount(row)
		freq[counts[i]]++
	}

	mode, modeFreq := 0, 0
	for count, f := range freq {
		if f > modeFreq || (f == modeFreq && count < mode) {
			mode, modeFreq = count, f
		}
	}

	var flagged []int
	for i, c := range counts {
		if c != mode {
			flagged = append(flagged, i)
		}
	}
	return Diagnosis{ModeColumnCount: mode, FlaggedRows: flagged}
}

func effectiveColumnCount(row []tableparse.Cell) int {
	count := 0
	lastKey := ""
	for _, c := range row {
		key := c.Text + "\x00" + strconv.Itoa(c.SourceRowSpan) + "\x00" + strconv.Itoa(c.SourceColSpan)
		if key != lastKey {
			count++
			lastKey = key
		}
	}
	return count
}

// Equivalent reports whether two tables carry the same text content once
// flattened, lowercased, and whitespace-normalized — i.e. the proposed
// correction would not actually change anything observable (spec §4.8).
func Equivalent(a, b tableparse.Table) bool {
	return flatten(a) == flatten(b)
}

func flatten(t tableparse.Table) string {
	var sb strings.Builder
	for _, row := range t.Rows {
		for _, c := range row {
			sb.WriteString(strings.ToLower(strings.Join(strings.Fields(c.Text), " ")))
			sb.WriteByte('|')
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ValidateVLM re-transcribes just the table region of a page image into a
// single corrected HTML table. The original HTML is deliberately withheld
// from the prompt to avoid anchoring the model on the existing (possibly
// wrong) transcription (spec §4.8's "validate_vlm").
func ValidateVLM(ctx context.Context, vlm *ocrclient.Client, imageBytes []byte, mime string) (string, error) {
	prompt := "This image is one page of a pricelist. Re-transcribe only the pricing table region as a single HTML <table>, " +
		"using only thead, tbody, tr, td, th, rowspan and colspan. Reproduce every row and column exactly as shown, including " +
		"merged cells. Return nothing but the <table>...</table> markup: no prose, no markdown fences, no commentary."
	corrected, err := vlm.Prompt(ctx, imageBytes, mime, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(corrected), nil
}

// ValidateLLM asks a text-only LLM to correct one table given its current
// HTML, a structural Diagnosis of its row shapes, and the full page markdown
// for surrounding context, and returns the model's corrected HTML table
// (spec §4.8's "validate_llm").
func ValidateLLM(ctx context.Context, llm *ocrclient.Client, originalHTML string, diag Diagnosis, pageMarkdown string) (string, error) {
	prompt := fmt.Sprintf(
		"The following HTML table was OCR'd from a pricelist page and may contain rowspan/colspan errors.\n\n"+
			"Structural diagnosis: the table's dominant row has %d columns; rows %v (0-based) diverge from it.\n\n"+
			"Original table:\n%s\n\n"+
			"Full page, for context:\n%s\n\n"+
			"Return a single corrected HTML <table>, using only thead, tbody, tr, td, th, rowspan and colspan. "+
			"Return nothing but the <table>...</table> markup: no prose, no markdown fences, no commentary.",
		diag.ModeColumnCount, diag.FlaggedRows, originalHTML, pageMarkdown,
	)
	corrected, err := llm.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(corrected), nil
}

// ApplyCorrection replaces the tableIndex-th table block in pageMarkdown
// with replacementMarkdown and returns the new page markdown. tableIndex
// must match the discovery order tableparse.Parse produced (spec §4.8:
// "replace the N-th <table> block").
func ApplyCorrection(pageMarkdown string, tableIndex int, replacementMarkdown string) (string, error) {
	updated, err := tableparse.ReplaceTable(pageMarkdown, tableIndex, replacementMarkdown)
	if err != nil {
		return "", pricelisterr.NewValidation("apply correction: %v", err)
	}
	return updated, nil
}
