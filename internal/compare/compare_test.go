package compare

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceledger/pricelistd/internal/cache"
	"github.com/priceledger/pricelistd/internal/extract"
)

func result(headers []string, rows [][]string, pages []int) *extract.Result {
	idx := make([]extract.RowTableIndex, len(pages))
	for i, p := range pages {
		idx[i] = extract.RowTableIndex{Page: p}
	}
	return &extract.Result{Headers: headers, Rows: rows, RowTableIndices: idx}
}

func TestCompare_SamePriceWithinTolerance(t *testing.T) {
	base := result([]string{"reference", "value"}, [][]string{{"A100", "1000.00"}}, []int{1})
	target := result([]string{"reference", "value"}, [][]string{{"A100", "1004.00"}}, []int{1})

	res := Compare(base, target)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, StatusSame, res.Rows[0].Status)
}

func TestCompare_PriceUp(t *testing.T) {
	base := result([]string{"reference", "value"}, [][]string{{"A100", "1000"}}, []int{1})
	target := result([]string{"reference", "value"}, [][]string{{"A100", "1200"}}, []int{1})

	res := Compare(base, target)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, StatusUp, res.Rows[0].Status)
	require.NotNil(t, res.Rows[0].AbsoluteChange)
	assert.InDelta(t, 200.0, *res.Rows[0].AbsoluteChange, 0.01)
}

func TestCompare_PriceDown(t *testing.T) {
	base := result([]string{"reference", "value"}, [][]string{{"A100", "1200"}}, []int{1})
	target := result([]string{"reference", "value"}, [][]string{{"A100", "1000"}}, []int{1})

	res := Compare(base, target)
	assert.Equal(t, StatusDown, res.Rows[0].Status)
}

func TestCompare_NewReference(t *testing.T) {
	base := result([]string{"reference", "value"}, nil, nil)
	target := result([]string{"reference", "value"}, [][]string{{"A100", "1000"}}, []int{1})

	res := Compare(base, target)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, StatusNew, res.Rows[0].Status)
}

func TestCompare_RemovedReference(t *testing.T) {
	base := result([]string{"reference", "value"}, [][]string{{"A100", "1000"}}, []int{1})
	target := result([]string{"reference", "value"}, nil, nil)

	res := Compare(base, target)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, StatusRemoved, res.Rows[0].Status)
}

func TestCompare_UnavailableThenAvailable(t *testing.T) {
	base := result([]string{"reference", "value"}, [][]string{{"A100", "1000"}}, []int{1})
	target := result([]string{"reference", "value"}, [][]string{{"A100", "-"}}, []int{1})

	res := Compare(base, target)
	assert.Equal(t, StatusUnavail, res.Rows[0].Status)

	res2 := Compare(target, base)
	assert.Equal(t, StatusAvail, res2.Rows[0].Status)
}

func TestCompare_VariantKeyedJoin(t *testing.T) {
	headers := []string{"reference", "variant", "value"}
	base := result(headers, [][]string{{"A100", "LXi", "1000"}, {"A100", "VXi", "1200"}}, []int{1, 1})
	target := result(headers, [][]string{{"A100", "LXi", "1000"}, {"A100", "VXi", "1500"}}, []int{1, 1})

	res := Compare(base, target)
	require.Len(t, res.Rows, 2)
	byVariant := map[string]Row{}
	for _, r := range res.Rows {
		byVariant[r.Variant] = r
	}
	assert.Equal(t, StatusSame, byVariant["LXi"].Status)
	assert.Equal(t, StatusUp, byVariant["VXi"].Status)
}

func TestFormatChange(t *testing.T) {
	abs, pct := 120.0, 4.35
	r := Row{AbsoluteChange: &abs, PercentChange: &pct}
	assert.Equal(t, "+120.00 (+4.35%)", FormatChange(r))
}

func TestCachedCompare_SecondCallHitsCache(t *testing.T) {
	mem := cache.NewMemoryClient(0)
	base := result([]string{"reference", "value"}, [][]string{{"A100", "1000"}}, []int{1})
	target := result([]string{"reference", "value"}, [][]string{{"A100", "1200"}}, []int{1})

	first, err := CachedCompare(context.Background(), mem, "cmp:1", base, target)
	require.NoError(t, err)
	assert.Equal(t, StatusUp, first.Rows[0].Status)

	// A miss-producing pair should be ignored on the cache hit path: mutate
	// the inputs and confirm the cached (stale) result still comes back.
	target2 := result([]string{"reference", "value"}, [][]string{{"A100", "900"}}, []int{1})
	second, err := CachedCompare(context.Background(), mem, "cmp:1", base, target2)
	require.NoError(t, err)
	assert.Equal(t, StatusUp, second.Rows[0].Status)
}

func TestCompare_FiltersNumericAndShortReferences(t *testing.T) {
	headers := []string{"reference", "value"}
	base := result(headers, [][]string{{"1", "100"}, {"42", "200"}, {"A100", "1000"}}, []int{1, 1, 1})
	target := result(headers, [][]string{{"1", "110"}, {"42", "220"}, {"A100", "1000"}}, []int{1, 1, 1})

	res := Compare(base, target)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "A100", res.Rows[0].Reference)
}

func TestCompare_DedupsDuplicateReferenceVariant(t *testing.T) {
	headers := []string{"reference", "value"}
	base := result(headers, [][]string{{"A100", "1000"}, {"A100", "999"}}, []int{1, 2})
	target := result(headers, [][]string{{"A100", "1200"}}, []int{1})

	res := Compare(base, target)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 1, res.Rows[0].BasePage)
}

func TestCachedCompare_NilClientComputesDirectly(t *testing.T) {
	base := result([]string{"reference", "value"}, [][]string{{"A100", "1000"}}, []int{1})
	target := result([]string{"reference", "value"}, [][]string{{"A100", "1200"}}, []int{1})

	res, err := CachedCompare(context.Background(), nil, "cmp:2", base, target)
	require.NoError(t, err)
	assert.Equal(t, StatusUp, res.Rows[0].Status)
}
