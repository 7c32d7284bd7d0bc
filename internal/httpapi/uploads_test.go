package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/priceledger/pricelistd/internal/authmw"
	"github.com/priceledger/pricelistd/internal/storage"
)

func TestDocTypeForFilename(t *testing.T) {
	cases := map[string]storage.DocType{
		"a.pdf": storage.DocTypePDF, "A.PDF": storage.DocTypePDF,
		"a.png": storage.DocTypeImage, "a.jpg": storage.DocTypeImage, "a.jpeg": storage.DocTypeImage,
	}
	for name, want := range cases {
		got, err := docTypeForFilename(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := docTypeForFilename("a.txt")
	require.Error(t, err)
}

func TestListUploads_ScopesByWorkspace(t *testing.T) {
	h := newTestHandlers(t)
	ctx := t.Context()

	require.NoError(t, h.repos.Uploads.Create(ctx, &storage.Upload{WorkspaceID: "ws1", Filename: "a.pdf", Company: "Acme", DocType: storage.DocTypePDF}))
	require.NoError(t, h.repos.Uploads.Create(ctx, &storage.Upload{WorkspaceID: "ws2", Filename: "b.pdf", Company: "Other", DocType: storage.DocTypePDF}))

	req := httptest.NewRequest(http.MethodGet, "/uploads", nil)
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	rec := httptest.NewRecorder()
	withWorkspace(h.ListUploads).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dtos []uploadDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 1)
	require.Equal(t, "Acme", dtos[0].Company)
}

func TestGetUpload_UnknownIDIsNotFound(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/uploads/missing", nil)
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	req = withURLParams(req, map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()
	withWorkspace(h.GetUpload).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateUpload_RequiresCompany(t *testing.T) {
	h := newTestHandlers(t)
	ctx := t.Context()

	upload := &storage.Upload{WorkspaceID: "ws1", Filename: "a.pdf", Company: "Acme", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, upload))

	req := httptest.NewRequest(http.MethodPut, "/uploads/"+upload.ID, bytes.NewBufferString(`{}`))
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	req = withURLParams(req, map[string]string{"id": upload.ID})
	rec := httptest.NewRecorder()
	withWorkspace(h.UpdateUpload).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateUpload_ChangesCompanyAndYear(t *testing.T) {
	h := newTestHandlers(t)
	ctx := t.Context()

	upload := &storage.Upload{WorkspaceID: "ws1", Filename: "a.pdf", Company: "Acme", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, upload))

	req := httptest.NewRequest(http.MethodPut, "/uploads/"+upload.ID, bytes.NewBufferString(`{"company":"Acme Corp","year":2026}`))
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	req = withURLParams(req, map[string]string{"id": upload.ID})
	rec := httptest.NewRecorder()
	withWorkspace(h.UpdateUpload).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto uploadDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, "Acme Corp", dto.Company)
	require.NotNil(t, dto.Year)
	require.Equal(t, 2026, *dto.Year)
}

func TestListComparable_ExcludesSelfAndOtherCompanies(t *testing.T) {
	h := newTestHandlers(t)
	ctx := t.Context()

	target := &storage.Upload{WorkspaceID: "ws1", Filename: "a.pdf", Company: "Acme", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, target))
	sibling := &storage.Upload{WorkspaceID: "ws1", Filename: "b.pdf", Company: "Acme", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, sibling))
	other := &storage.Upload{WorkspaceID: "ws1", Filename: "c.pdf", Company: "Other", DocType: storage.DocTypePDF}
	require.NoError(t, h.repos.Uploads.Create(ctx, other))

	req := httptest.NewRequest(http.MethodGet, "/uploads/"+target.ID+"/comparable", nil)
	req.Header.Set(authmw.WorkspaceHeader, "ws1")
	req = withURLParams(req, map[string]string{"id": target.ID})
	rec := httptest.NewRecorder()
	withWorkspace(h.ListComparable).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dtos []uploadDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 1)
	require.Equal(t, sibling.ID, dtos[0].ID)
}
