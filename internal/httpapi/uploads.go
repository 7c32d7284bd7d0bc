package httpapi

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/priceledger/pricelistd/internal/authmw"
	"github.com/priceledger/pricelistd/internal/objectstore"
	"github.com/priceledger/pricelistd/internal/pricelisterr"
	"github.com/priceledger/pricelistd/internal/storage"
)

// uploadDTO is the JSON projection of a storage.Upload (spec §6).
type uploadDTO struct {
	ID            string  `json:"id"`
	WorkspaceID   string  `json:"workspace_id"`
	Filename      string  `json:"filename"`
	Company       string  `json:"company"`
	Year          *int    `json:"year,omitempty"`
	Month         *int    `json:"month,omitempty"`
	DocType       string  `json:"doc_type"`
	TotalPages    int     `json:"total_pages"`
	State         string  `json:"state"`
	Message       string  `json:"message"`
	CurrentPage   int     `json:"current_page"`
	ExtractState  string  `json:"extract_state"`
	ExtractCSVKey *string `json:"extract_csv_key,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func toUploadDTO(u *storage.Upload) uploadDTO {
	return uploadDTO{
		ID: u.ID, WorkspaceID: u.WorkspaceID, Filename: u.Filename, Company: u.Company,
		Year: u.Year, Month: u.Month, DocType: string(u.DocType), TotalPages: u.TotalPages,
		State: string(u.State), Message: u.Message, CurrentPage: u.CurrentPage,
		ExtractState: string(u.ExtractState), ExtractCSVKey: u.ExtractCSVKey,
		CreatedAt: u.CreatedAt.Format(timeFormat), UpdatedAt: u.UpdatedAt.Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// docTypeForFilename infers pdf vs image from the uploaded file's extension
// (spec §6: "file (pdf/png/jpg)").
func docTypeForFilename(name string) (storage.DocType, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return storage.DocTypePDF, nil
	case ".png", ".jpg", ".jpeg":
		return storage.DocTypeImage, nil
	default:
		return "", pricelisterr.NewValidation("unsupported file extension for %q, expected pdf/png/jpg", name)
	}
}

func parseOptionalInt(r *http.Request, field string) (*int, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, pricelisterr.NewValidation("%s must be an integer", field)
	}
	return &n, nil
}

// CreateUpload handles POST /upload (spec §6).
func (h *Handlers) CreateUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := authmw.WorkspaceFromContext(ctx)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, pricelisterr.NewValidation("parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, pricelisterr.NewValidation("missing file field: %v", err))
		return
	}
	defer file.Close()

	company := r.FormValue("company")
	if company == "" {
		writeError(w, pricelisterr.NewValidation("company is required"))
		return
	}

	year, err := parseOptionalInt(r, "year")
	if err != nil {
		writeError(w, err)
		return
	}
	month, err := parseOptionalInt(r, "month")
	if err != nil {
		writeError(w, err)
		return
	}

	docType, err := docTypeForFilename(header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, pricelisterr.NewValidation("read uploaded file: %v", err))
		return
	}

	upload := &storage.Upload{
		WorkspaceID: workspaceID, Filename: header.Filename, Company: company,
		Year: year, Month: month, DocType: docType,
	}
	if err := h.repos.Uploads.Create(ctx, upload); err != nil {
		writeError(w, pricelisterr.NewInternal(err, "create upload"))
		return
	}

	key := objectstore.PDFKey(upload.ID, objectExt(docType))
	if err := h.objects.Put(ctx, objectstore.BucketPDFs, key, data, contentTypeOf(header)); err != nil {
		writeError(w, err)
		return
	}

	go func() {
		bgCtx := context.Background()
		if err := h.pipeline.Run(bgCtx, workspaceID, upload.ID); err != nil {
			h.logger.Error().Err(err).Str("upload_id", upload.ID).Msg("ingest run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": upload.ID})
}

func contentTypeOf(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/pdf"
	}
}

// ListUploads handles GET /uploads (spec §6).
func (h *Handlers) ListUploads(w http.ResponseWriter, r *http.Request) {
	workspaceID := authmw.WorkspaceFromContext(r.Context())
	uploads, err := h.repos.Uploads.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		writeError(w, pricelisterr.NewInternal(err, "list uploads"))
		return
	}
	dtos := make([]uploadDTO, len(uploads))
	for i, u := range uploads {
		dtos[i] = toUploadDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUpload handles GET /uploads/{id} (spec §6).
func (h *Handlers) GetUpload(w http.ResponseWriter, r *http.Request) {
	workspaceID := authmw.WorkspaceFromContext(r.Context())
	id := chi.URLParam(r, "id")
	u, err := h.repos.Uploads.GetByID(r.Context(), workspaceID, id)
	if err != nil {
		writeError(w, mapStorageErr(err, "upload %s", id))
		return
	}
	writeJSON(w, http.StatusOK, toUploadDTO(u))
}

type updateUploadRequest struct {
	Company string `json:"company"`
	Year    *int   `json:"year,omitempty"`
	Month   *int   `json:"month,omitempty"`
}

// UpdateUpload handles PUT /uploads/{id} (spec §6).
func (h *Handlers) UpdateUpload(w http.ResponseWriter, r *http.Request) {
	workspaceID := authmw.WorkspaceFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req updateUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Company == "" {
		writeError(w, pricelisterr.NewValidation("company is required"))
		return
	}

	if err := h.repos.Uploads.UpdateFields(r.Context(), workspaceID, id, req.Company, req.Year, req.Month); err != nil {
		writeError(w, mapStorageErr(err, "upload %s", id))
		return
	}
	u, err := h.repos.Uploads.GetByID(r.Context(), workspaceID, id)
	if err != nil {
		writeError(w, mapStorageErr(err, "upload %s", id))
		return
	}
	writeJSON(w, http.StatusOK, toUploadDTO(u))
}

// DeleteUpload handles DELETE /uploads/{id} (spec §6: cascade-delete).
func (h *Handlers) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := authmw.WorkspaceFromContext(ctx)
	id := chi.URLParam(r, "id")

	if _, err := h.repos.Uploads.GetByID(ctx, workspaceID, id); err != nil {
		writeError(w, mapStorageErr(err, "upload %s", id))
		return
	}

	_ = h.repos.Uploads.MarkCancelled(ctx, id)
	h.pipeline.InvalidateExtraction(ctx, id)

	for _, bucket := range []string{objectstore.BucketPDFs, objectstore.BucketPages, objectstore.BucketOutput} {
		if err := h.objects.DeletePrefix(ctx, bucket, id); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := h.repos.Uploads.Delete(ctx, workspaceID, id); err != nil {
		writeError(w, mapStorageErr(err, "upload %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeUpload handles POST /uploads/{id}/resume (spec §6, §4.4 "Resume").
func (h *Handlers) ResumeUpload(w http.ResponseWriter, r *http.Request) {
	h.runAsyncAction(w, r, h.pipeline.Resume)
}

// ReparseUpload handles POST /uploads/{id}/reparse (spec §6, §4.4 "done→reparse").
func (h *Handlers) ReparseUpload(w http.ResponseWriter, r *http.Request) {
	h.runAsyncAction(w, r, h.pipeline.Reparse)
}

func (h *Handlers) runAsyncAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, workspaceID, uploadID string) error) {
	ctx := r.Context()
	workspaceID := authmw.WorkspaceFromContext(ctx)
	id := chi.URLParam(r, "id")

	if _, err := h.repos.Uploads.GetByID(ctx, workspaceID, id); err != nil {
		writeError(w, mapStorageErr(err, "upload %s", id))
		return
	}

	go func() {
		bgCtx := context.Background()
		if err := action(bgCtx, workspaceID, id); err != nil {
			h.logger.Error().Err(err).Str("upload_id", id).Msg("pipeline action failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

type pageStateDTO struct {
	PageNum int    `json:"page_num"`
	State   string `json:"state"`
}

// ListPageStates handles GET /uploads/{id}/page-states (spec §6).
func (h *Handlers) ListPageStates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pages, err := h.repos.Pages.ListByUpload(r.Context(), id)
	if err != nil {
		writeError(w, pricelisterr.NewInternal(err, "list pages"))
		return
	}
	dtos := make([]pageStateDTO, len(pages))
	for i, p := range pages {
		dtos[i] = pageStateDTO{PageNum: p.PageNum, State: string(p.State)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPages handles GET /uploads/{id}/pages: ordered PNG filenames (spec §6).
func (h *Handlers) ListPages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pages, err := h.repos.Pages.ListByUpload(r.Context(), id)
	if err != nil {
		writeError(w, pricelisterr.NewInternal(err, "list pages"))
		return
	}
	names := make([]string, len(pages))
	for i, p := range pages {
		names[i] = objectstore.PageKey(id, p.PageNum)
	}
	writeJSON(w, http.StatusOK, names)
}

type pageDTO struct {
	Markdown string `json:"markdown"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
}

// GetPage handles GET /uploads/{id}/page/{n} (spec §6).
func (h *Handlers) GetPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := pageNumParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.repos.Pages.GetByUploadAndPage(r.Context(), id, n)
	if err != nil {
		writeError(w, mapStorageErr(err, "page %d of upload %s", n, id))
		return
	}
	dto := pageDTO{State: string(p.State)}
	if p.Markdown != nil {
		dto.Markdown = *p.Markdown
	}
	if p.Error != nil {
		dto.Error = *p.Error
	}
	writeJSON(w, http.StatusOK, dto)
}

func pageNumParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "n")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, pricelisterr.NewValidation("invalid page number %q", raw)
	}
	return n, nil
}

// ListComparable handles GET /uploads/{id}/comparable — the supplemented
// compare-picker endpoint backed by UploadRepository.ListComparable.
func (h *Handlers) ListComparable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := authmw.WorkspaceFromContext(ctx)
	id := chi.URLParam(r, "id")

	u, err := h.repos.Uploads.GetByID(ctx, workspaceID, id)
	if err != nil {
		writeError(w, mapStorageErr(err, "upload %s", id))
		return
	}

	others, err := h.repos.Uploads.ListComparable(ctx, workspaceID, u.Company, id)
	if err != nil {
		writeError(w, pricelisterr.NewInternal(err, "list comparable uploads"))
		return
	}
	dtos := make([]uploadDTO, len(others))
	for i, o := range others {
		dtos[i] = toUploadDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// mapStorageErr turns storage.ErrNotFound/ErrConflict into the right Kind.
func mapStorageErr(err error, format string, args ...interface{}) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return pricelisterr.NewNotFound(format, args...)
	case errors.Is(err, storage.ErrConflict):
		return pricelisterr.NewConflict(format, args...)
	default:
		return pricelisterr.NewInternal(err, format, args...)
	}
}
