package httpapi

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/priceledger/pricelistd/internal/storage"
)

const extractPageMarkdown = `<table>
<tr><th>SKU</th><th>Price</th></tr>
<tr><td>A1</td><td>10.00</td></tr>
<tr><td>A2</td><td>20.00</td></tr>
</table>
`

func createExtractableUpload(t *testing.T, h *Handlers) *storage.Upload {
	t.Helper()
	ctx := t.Context()
	upload := &storage.Upload{WorkspaceID: "ws1", Filename: "acme.pdf", Company: "Acme", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, upload))
	require.NoError(t, h.repos.Pages.EnsurePending(ctx, upload.ID, 1))
	require.NoError(t, h.repos.Pages.MarkDone(ctx, upload.ID, 1, extractPageMarkdown))
	return upload
}

func TestScanColumns_ReturnsUsableMapping(t *testing.T) {
	h := newTestHandlers(t)
	upload := createExtractableUpload(t, h)

	body := `{"config":{"row_anchor":"SKU","value_anchor":"Price"}}`
	req := httptest.NewRequest(http.MethodPost, "/uploads/"+upload.ID+"/scan-columns", bytes.NewBufferString(body))
	req = withURLParams(req, map[string]string{"id": upload.ID})
	rec := httptest.NewRecorder()
	h.ScanColumns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dtos []fieldMappingDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 1)
	require.True(t, dtos[0].Usable)
	require.Equal(t, 1, dtos[0].Page)
}

func TestScanColumns_RejectsInvalidConfig(t *testing.T) {
	h := newTestHandlers(t)
	upload := createExtractableUpload(t, h)

	body := `{"config":{"row_anchor":"","value_anchor":"Price"}}`
	req := httptest.NewRequest(http.MethodPost, "/uploads/"+upload.ID+"/scan-columns", bytes.NewBufferString(body))
	req = withURLParams(req, map[string]string{"id": upload.ID})
	rec := httptest.NewRecorder()
	h.ScanColumns(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractUpload_ReturnsRowMatrix(t *testing.T) {
	h := newTestHandlers(t)
	upload := createExtractableUpload(t, h)

	body := `{"config":{"row_anchor":"SKU","value_anchor":"Price"}}`
	req := httptest.NewRequest(http.MethodPost, "/uploads/"+upload.ID+"/extract", bytes.NewBufferString(body))
	req = withURLParams(req, map[string]string{"id": upload.ID})
	rec := httptest.NewRecorder()
	h.ExtractUpload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto extractResultDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, 2, dto.RowCount)
}

func TestExtractUploadCSV_RendersCSV(t *testing.T) {
	h := newTestHandlers(t)
	upload := createExtractableUpload(t, h)

	body := `{"config":{"row_anchor":"SKU","value_anchor":"Price"}}`
	req := httptest.NewRequest(http.MethodPost, "/uploads/"+upload.ID+"/extract/csv", bytes.NewBufferString(body))
	req = withURLParams(req, map[string]string{"id": upload.ID})
	rec := httptest.NewRecorder()
	h.ExtractUploadCSV(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	cr := csv.NewReader(bytes.NewReader(rec.Body.Bytes()))
	records, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + 2 rows
}

func TestEncodeCSVRows_UsesCRLF(t *testing.T) {
	out, err := encodeCSVRows([]string{"a", "b"}, [][]string{{"1", "2"}})
	require.NoError(t, err)
	require.Contains(t, string(out), "a,b\r\n")
}
