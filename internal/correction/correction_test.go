package correction

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceledger/pricelistd/internal/ocrclient"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

func cell(text string, rowspan, colspan int) tableparse.Cell {
	return tableparse.Cell{Text: text, SourceRowSpan: rowspan, SourceColSpan: colspan}
}

func TestDiagnose_FlagsRowsWithDivergentColumnCount(t *testing.T) {
	tbl := tableparse.Table{
		Rows: [][]tableparse.Cell{
			{cell("A1", 1, 1), cell("Engine", 1, 1), cell("1.2L", 1, 1)},
			{cell("A2", 1, 1), cell("Engine", 1, 1), cell("1.5L", 1, 1)},
			{cell("A3", 1, 1), cell("Engine", 1, 1)},
		},
	}
	d := Diagnose(tbl)
	assert.Equal(t, 3, d.ModeColumnCount)
	assert.Equal(t, []int{2}, d.FlaggedRows)
}

func TestDiagnose_CollapsesColspanDuplicatesToOneColumn(t *testing.T) {
	// A colspan="2" header cell occupies two adjacent grid slots with
	// identical (text, rowspan, colspan); those collapse to one effective
	// column rather than inflating the count.
	header := cell("Header", 1, 2)
	tbl := tableparse.Table{
		Rows: [][]tableparse.Cell{
			{header, header, cell("Value", 1, 1)},
			{header, header, cell("Other", 1, 1)},
		},
	}
	d := Diagnose(tbl)
	assert.Equal(t, 2, d.ModeColumnCount)
	assert.Empty(t, d.FlaggedRows)
}

func TestDiagnose_EmptyTable(t *testing.T) {
	d := Diagnose(tableparse.Table{})
	assert.Equal(t, 0, d.ModeColumnCount)
	assert.Empty(t, d.FlaggedRows)
}

func TestEquivalent_IgnoresWhitespaceAndCase(t *testing.T) {
	a := tableparse.Table{Rows: [][]tableparse.Cell{{cell("A1", 1, 1), cell("  1,200.00 ", 1, 1)}}}
	b := tableparse.Table{Rows: [][]tableparse.Cell{{cell("a1", 1, 1), cell("1,200.00", 1, 1)}}}
	assert.True(t, Equivalent(a, b))
}

func TestEquivalent_DifferentContentIsNotEquivalent(t *testing.T) {
	a := tableparse.Table{Rows: [][]tableparse.Cell{{cell("A1", 1, 1), cell("1200", 1, 1)}}}
	b := tableparse.Table{Rows: [][]tableparse.Cell{{cell("A1", 1, 1), cell("1500", 1, 1)}}}
	assert.False(t, Equivalent(a, b))
}

func testClient(serverURL string) *ocrclient.Client {
	return ocrclient.New(ocrclient.Config{
		ServerURL:       serverURL,
		Model:           "test-model",
		Timeout:         2 * time.Second,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   4 * time.Millisecond,
		RetryMaxAttempt: 3,
	})
}

func TestValidateVLM_ReturnsCorrectedTable(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Write([]byte(`{"choices":[{"message":{"content":"<table><tr><td>A1</td></tr></table>"}}]}`))
	}))
	defer srv.Close()

	corrected, err := ValidateVLM(context.Background(), testClient(srv.URL), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Contains(t, corrected, "<table>")
	assert.NotContains(t, body, "anchoring") // prompt withholds the original transcription
}

func TestValidateLLM_ReturnsCorrectedTable(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Write([]byte(`{"choices":[{"message":{"content":"<table><tr><td>A1</td><td>10.00</td></tr></table>"}}]}`))
	}))
	defer srv.Close()

	original := "<table><tr><td>A1</td><td>10.0</td></tr></table>"
	diag := Diagnosis{ModeColumnCount: 2, FlaggedRows: nil}
	corrected, err := ValidateLLM(context.Background(), testClient(srv.URL), original, diag, "# Pricelist\n"+original)
	require.NoError(t, err)
	assert.Contains(t, corrected, "<table>")
	assert.Contains(t, body, "A1")
}

func TestApplyCorrection_ReplacesTargetTableOnly(t *testing.T) {
	md := "<table><tr><td>a</td></tr></table>\ntext\n<table><tr><td>b</td></tr></table>"
	out, err := ApplyCorrection(md, 1, "<table><tr><td>NEW</td></tr></table>")
	require.NoError(t, err)
	assert.Contains(t, out, "<td>a</td>")
	assert.Contains(t, out, "<td>NEW</td>")
	assert.NotContains(t, out, "<td>b</td>")
}

func TestApplyCorrection_OutOfRangeIsValidationError(t *testing.T) {
	_, err := ApplyCorrection("<table><tr><td>a</td></tr></table>", 5, "x")
	require.Error(t, err)
}
