package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceledger/pricelistd/internal/storage"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

func col(parent, child string) tableparse.Column {
	return tableparse.Column{
		Parent: parent, Child: child,
		NormParent: tableparse.Normalize(parent), NormChild: tableparse.Normalize(child),
	}
}

func TestExtract_FlatTable(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows: [][]tableparse.Cell{
			{{Text: "A1"}, {Text: "100"}},
			{{Text: "A2"}, {Text: "200"}},
		},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "reference", ValueAnchor: "price"}
	result := Extract(cfg, []PageInput{{PageNum: 1, Tables: []tableparse.Table{tbl}}})

	require.Equal(t, []string{"reference", "value"}, result.Headers)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, []string{"A1", "100"}, result.Rows[0])
	assert.Equal(t, []string{"A2", "200"}, result.Rows[1])
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, 1, result.PageCount)
}

func TestExtract_FillsDownRowAnchor(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows: [][]tableparse.Cell{
			{{Text: "A1"}, {Text: "100"}},
			{{Text: ""}, {Text: "120"}},
		},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp"}
	result := Extract(cfg, []PageInput{{PageNum: 1, Tables: []tableparse.Table{tbl}}})

	require.Len(t, result.Rows, 2)
	assert.Equal(t, "A1", result.Rows[0][0])
	assert.Equal(t, "A1", result.Rows[1][0])
}

func TestExtract_FillDownValueDoesNotCrossTableBoundary(t *testing.T) {
	// first has no skipped rows, so its fill-down carries "10" into "A2".
	first := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows: [][]tableparse.Cell{
			{{Text: "A1"}, {Text: "10"}},
			{{Text: "A2"}, {Text: ""}},
		},
	}
	// second has one skipped row (empty reference) ahead of its real data,
	// so len(t.Rows) overcounts how many rows second actually emitted.
	second := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows: [][]tableparse.Cell{
			{{Text: ""}, {Text: "999"}},
			{{Text: "B1"}, {Text: ""}},
			{{Text: "B2"}, {Text: "20"}},
		},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp", FillDownValue: true}
	result := Extract(cfg, []PageInput{{PageNum: 1, Tables: []tableparse.Table{first, second}}})

	require.Len(t, result.Rows, 4)
	assert.Equal(t, []string{"A1", "10"}, result.Rows[0])
	assert.Equal(t, []string{"A2", "10"}, result.Rows[1])
	assert.Equal(t, []string{"B1", ""}, result.Rows[2]) // must not inherit "10" from table one
	assert.Equal(t, []string{"B2", "20"}, result.Rows[3])
}

func TestExtract_MeltProducesVariantColumn(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{
			col("Item", "Item"),
			col("Price", "LXi"),
			col("Price", "VXi"),
		},
		Rows: [][]tableparse.Cell{
			{{Text: "A1"}, {Text: "100"}, {Text: "120"}},
		},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "item", ValueAnchor: "price", Melt: true}
	result := Extract(cfg, []PageInput{{PageNum: 1, Tables: []tableparse.Table{tbl}}})

	require.Equal(t, []string{"reference", "variant", "value"}, result.Headers)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, []string{"A1", "LXi", "100"}, result.Rows[0])
	assert.Equal(t, []string{"A1", "VXi", "120"}, result.Rows[1])
}

func TestExtract_IncludesHeadingAndPage(t *testing.T) {
	tbl := tableparse.Table{
		Heading: "Sedans",
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows:    [][]tableparse.Cell{{{Text: "A1"}, {Text: "100"}}},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp", IncludeHeading: true, IncludePage: true}
	result := Extract(cfg, []PageInput{{PageNum: 3, Tables: []tableparse.Table{tbl}}})

	require.Equal(t, []string{"reference", "value", "heading", "page"}, result.Headers)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, []string{"A1", "100", "Sedans", "3"}, result.Rows[0])
	require.Len(t, result.RowTableIndices, 1)
	assert.Equal(t, 3, result.RowTableIndices[0].Page)
}

func TestExtract_ExtrasBlankWhenUnmatched(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows:    [][]tableparse.Cell{{{Text: "A1"}, {Text: "100"}}},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp", Extras: []string{"discount"}}
	result := Extract(cfg, []PageInput{{PageNum: 1, Tables: []tableparse.Table{tbl}}})

	require.Equal(t, []string{"reference", "discount", "value"}, result.Headers)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "", result.Rows[0][1])
}

func TestExtract_SkipsRowsWithNoResolvedReference(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows:    [][]tableparse.Cell{{{Text: ""}, {Text: "100"}}},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp"}
	result := Extract(cfg, []PageInput{{PageNum: 1, Tables: []tableparse.Table{tbl}}})
	assert.Empty(t, result.Rows)
}

func TestExtract_FlagsNonNumericInValueColumn(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows: [][]tableparse.Cell{
			{{Text: "A1"}, {Text: "100"}},
			{{Text: "A2"}, {Text: "200"}},
			{{Text: "A3"}, {Text: "ask dealer"}},
		},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp"}
	result := Extract(cfg, []PageInput{{PageNum: 1, Tables: []tableparse.Table{tbl}}})

	require.NotEmpty(t, result.Flags)
	found := false
	for _, f := range result.Flags {
		if f.Row == 2 && f.Reason == ReasonNonNumericInNumericColumn {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtract_UnitSuffixedValueNotFlagged(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("Mileage", "Mileage")},
		Rows: [][]tableparse.Cell{
			{{Text: "A1"}, {Text: "25.49 km/l"}},
			{{Text: "A2"}, {Text: "22.10 km/l"}},
		},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mileage"}
	result := Extract(cfg, []PageInput{{PageNum: 1, Tables: []tableparse.Table{tbl}}})

	for _, f := range result.Flags {
		assert.NotEqual(t, ReasonNonNumericInNumericColumn, f.Reason)
	}
}

func TestParsePriceWithUnit(t *testing.T) {
	cases := []struct {
		in       string
		wantVal  float64
		wantUnit string
		ok       bool
	}{
		{"25.49 km/l", 25.49, "km/l", true},
		{"176 hp", 176, "hp", true},
		{"1,234.50", 1234.50, "", true},
		{"ask dealer", 0, "", false},
	}
	for _, c := range cases {
		val, unit, ok := ParsePriceWithUnit(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		if ok {
			assert.InDelta(t, c.wantVal, val, 0.001, "input %q", c.in)
			assert.Equal(t, c.wantUnit, unit, "input %q", c.in)
		}
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1234.50", 1234.50, true},
		{"1,234.50", 1234.50, true},
		{"1.234,50", 1234.50, true},
		{"₹ 1,234", 1234, true},
		{"-", 0, false},
		{"", 0, false},
		{"call for price", 0, false},
	}
	for _, c := range cases {
		got, ok := ParsePrice(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		if ok {
			assert.InDelta(t, c.want, got, 0.001, "input %q", c.in)
		}
	}
}
