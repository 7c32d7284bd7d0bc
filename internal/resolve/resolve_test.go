package resolve

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

func TestResolveFlat(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows: [][]tableparse.Cell{
			{{Text: "A1"}, {Text: "100"}},
			{{Text: "A2"}, {Text: "200"}},
		},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "reference", ValueAnchor: "price"}
	mappings := Resolve(cfg, []tableparse.Table{tbl})
	require.Len(t, mappings, 1)
	m := mappings[0]
	assert.Equal(t, ModeFlat, m.Mode)
	assert.Equal(t, 0, m.RowAnchorCol)
	require.Len(t, m.ValueCols, 1)
	assert.Equal(t, 1, m.ValueCols[0].Col)
	assert.True(t, m.Usable())
}

func TestResolveMelt(t *testing.T) {
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
	mappings := Resolve(cfg, []tableparse.Table{tbl})
	require.Len(t, mappings, 1)
	m := mappings[0]
	assert.Equal(t, ModeMelt, m.Mode)
	require.Len(t, m.ValueCols, 2)
	assert.Equal(t, "Price · LXi", m.ValueCols[0].Display)
}

func TestResolvePin(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{
			col("Item", "Item"),
			col("Price", "LXi"),
			col("Price", "VXi"),
		},
		Rows: [][]tableparse.Cell{{{Text: "A1"}, {Text: "100"}, {Text: "120"}}},
	}
	matchChild := "VXi"
	cfg := storage.ExtractionConfig{RowAnchor: "item", ValueAnchor: "price", MatchChild: &matchChild}
	mappings := Resolve(cfg, []tableparse.Table{tbl})
	require.Len(t, mappings, 1)
	m := mappings[0]
	assert.Equal(t, ModePin, m.Mode)
	require.Len(t, m.ValueCols, 1)
	assert.Equal(t, 2, m.ValueCols[0].Col)
}

func TestResolveRowAnchor_PicksHighestNonEmptyRatio(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Code", "Old"), col("Code", "New"), col("Price", "Price")},
		Rows: [][]tableparse.Cell{
			{{Text: ""}, {Text: "A1"}, {Text: "100"}},
			{{Text: ""}, {Text: "A2"}, {Text: "200"}},
		},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "code", ValueAnchor: "price"}
	mappings := Resolve(cfg, []tableparse.Table{tbl})
	assert.Equal(t, 1, mappings[0].RowAnchorCol)
}

func TestResolveUnmatchedExtrasBlank(t *testing.T) {
	tbl := tableparse.Table{
		Columns: []tableparse.Column{col("Ref", "Ref"), col("MRP", "MRP")},
		Rows:    [][]tableparse.Cell{{{Text: "A1"}, {Text: "100"}}},
	}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp", Extras: []string{"discount"}}
	mappings := Resolve(cfg, []tableparse.Table{tbl})
	_, ok := mappings[0].ExtraCols["discount"]
	assert.False(t, ok)
}

func TestNotUsableWhenNoRowAnchor(t *testing.T) {
	tbl := tableparse.Table{Columns: []tableparse.Column{col("Foo", "Foo")}}
	cfg := storage.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp"}
	mappings := Resolve(cfg, []tableparse.Table{tbl})
	assert.False(t, mappings[0].Usable())
}
