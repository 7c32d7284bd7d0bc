package httpapi

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/priceledger/pricelistd/internal/authmw"
	"github.com/priceledger/pricelistd/internal/storage"
)

const compareBaseMarkdown = `<table>
<tr><th>SKU</th><th>Price</th></tr>
<tr><td>A100</td><td>10.00</td></tr>
<tr><td>A200</td><td>20.00</td></tr>
</table>
`

const compareTargetMarkdown = `<table>
<tr><th>SKU</th><th>Price</th></tr>
<tr><td>A100</td><td>12.00</td></tr>
<tr><td>A300</td><td>30.00</td></tr>
</table>
`

func createComparableUploads(t *testing.T, h *Handlers) (base, target *storage.Upload) {
	t.Helper()
	ctx := t.Context()

	base = &storage.Upload{WorkspaceID: "ws1", Filename: "base.pdf", Company: "Acme", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, base))
	require.NoError(t, h.repos.Pages.EnsurePending(ctx, base.ID, 1))
	require.NoError(t, h.repos.Pages.MarkDone(ctx, base.ID, 1, compareBaseMarkdown))

	target = &storage.Upload{WorkspaceID: "ws1", Filename: "target.pdf", Company: "Acme", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, target))
	require.NoError(t, h.repos.Pages.EnsurePending(ctx, target.ID, 1))
	require.NoError(t, h.repos.Pages.MarkDone(ctx, target.ID, 1, compareTargetMarkdown))

	schema := &storage.Schema{
		WorkspaceID: "ws1", Company: "Acme", Name: "default",
		Config: storage.ExtractionConfig{RowAnchor: "SKU", ValueAnchor: "Price"},
	}
	require.NoError(t, h.repos.Schemas.Create(ctx, schema))
	require.NoError(t, h.repos.Schemas.SetDefault(ctx, "ws1", "Acme", schema.ID))

	return base, target
}

func TestCompare_JoinsOnFallbackSchemaExtraction(t *testing.T) {
	h := newTestHandlers(t)
	base, target := createComparableUploads(t, h)

	body := `{"base_upload_id":"` + base.ID + `","target_upload_id":"` + target.ID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/compare", bytes.NewBufferString(body))
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	rec := httptest.NewRecorder()
	withWorkspace(h.Compare).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto compareResultDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, 2, dto.BaseRowCount)
	require.Equal(t, 2, dto.TargetRowCount)
	require.Len(t, dto.Rows, 3) // A100 matched, A200 removed, A300 added
}

func TestCompare_RequiresBothUploadIDs(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/compare", bytes.NewBufferString(`{"base_upload_id":"x"}`))
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	rec := httptest.NewRecorder()
	withWorkspace(h.Compare).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompare_NoDefaultSchemaIsNotFound(t *testing.T) {
	h := newTestHandlers(t)
	ctx := t.Context()

	base := &storage.Upload{WorkspaceID: "ws1", Filename: "base.pdf", Company: "NoSchemaCo", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, base))
	target := &storage.Upload{WorkspaceID: "ws1", Filename: "target.pdf", Company: "NoSchemaCo", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, target))

	body := `{"base_upload_id":"` + base.ID + `","target_upload_id":"` + target.ID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/compare", bytes.NewBufferString(body))
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	rec := httptest.NewRecorder()
	withWorkspace(h.Compare).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompareCSV_RendersCSV(t *testing.T) {
	h := newTestHandlers(t)
	base, target := createComparableUploads(t, h)

	body := `{"base_upload_id":"` + base.ID + `","target_upload_id":"` + target.ID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/compare/csv", bytes.NewBufferString(body))
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	rec := httptest.NewRecorder()
	withWorkspace(h.CompareCSV).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	cr := csv.NewReader(bytes.NewReader(rec.Body.Bytes()))
	records, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4) // header + 3 rows
}
