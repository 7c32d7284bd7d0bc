package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/priceledger/pricelistd/internal/correction"
	"github.com/priceledger/pricelistd/internal/objectstore"
	"github.com/priceledger/pricelistd/internal/pricelisterr"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

type validateTableRequest struct {
	TableIndex int    `json:"table_index"`
	Method     string `json:"method"` // "vlm" or "llm"
}

type validateTableResponse struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	NoChange  bool   `json:"no_change,omitempty"`
}

// ValidateTable handles POST /uploads/{id}/page/{n}/validate-table (spec
// §4.8, §6): re-derives one table via the vision model (validate_vlm) or the
// text model (validate_llm) and reports the original and corrected HTML,
// flagging no_change when the Equivalence test finds no observable diff.
func (h *Handlers) ValidateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	n, err := pageNumParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req validateTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Method != "vlm" && req.Method != "llm" {
		writeError(w, pricelisterr.NewValidation(`method must be "vlm" or "llm"`))
		return
	}

	page, err := h.repos.Pages.GetByUploadAndPage(ctx, id, n)
	if err != nil {
		writeError(w, mapStorageErr(err, "page %d of upload %s", n, id))
		return
	}
	if page.Markdown == nil {
		writeError(w, pricelisterr.NewValidation("page %d has no parsed markdown yet", n))
		return
	}

	originalHTML, err := tableparse.BlockAt(*page.Markdown, req.TableIndex)
	if err != nil {
		writeError(w, pricelisterr.NewValidation("%v", err))
		return
	}
	tables := tableparse.Parse(*page.Markdown)
	table, err := tableAt(tables, req.TableIndex)
	if err != nil {
		writeError(w, err)
		return
	}

	var corrected string
	switch req.Method {
	case "vlm":
		if h.vlm == nil {
			writeError(w, pricelisterr.NewValidation("vlm correction is not configured"))
			return
		}
		imageBytes, err := h.objects.Get(ctx, objectstore.BucketPages, objectstore.PageKey(id, n))
		if err != nil {
			writeError(w, err)
			return
		}
		corrected, err = correction.ValidateVLM(ctx, h.vlm, imageBytes, "image/png")
		if err != nil {
			writeError(w, err)
			return
		}
	case "llm":
		if h.llm == nil {
			writeError(w, pricelisterr.NewValidation("llm correction is not configured"))
			return
		}
		diag := correction.Diagnose(table)
		corrected, err = correction.ValidateLLM(ctx, h.llm, originalHTML, diag, *page.Markdown)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	resp := validateTableResponse{Original: originalHTML, Corrected: corrected}
	if correctedTables := tableparse.Parse(corrected); len(correctedTables) > 0 {
		resp.NoChange = correction.Equivalent(table, correctedTables[0])
	}

	writeJSON(w, http.StatusOK, resp)
}

type applyCorrectionRequest struct {
	TableIndex     int    `json:"table_index"`
	CorrectedTable string `json:"corrected_table"`
}

// ApplyCorrection handles POST /uploads/{id}/page/{n}/apply-correction
// (spec §4.8, §6): surgically replaces one table block in the page's
// markdown and invalidates any cached extraction for the upload.
func (h *Handlers) ApplyCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	n, err := pageNumParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req applyCorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CorrectedTable == "" {
		writeError(w, pricelisterr.NewValidation("corrected_table is required"))
		return
	}

	page, err := h.repos.Pages.GetByUploadAndPage(ctx, id, n)
	if err != nil {
		writeError(w, mapStorageErr(err, "page %d of upload %s", n, id))
		return
	}
	if page.Markdown == nil {
		writeError(w, pricelisterr.NewValidation("page %d has no parsed markdown yet", n))
		return
	}

	updated, err := correction.ApplyCorrection(*page.Markdown, req.TableIndex, req.CorrectedTable)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repos.Pages.UpdateMarkdown(ctx, id, n, updated); err != nil {
		writeError(w, pricelisterr.NewInternal(err, "save corrected page %d", n))
		return
	}
	h.pipeline.InvalidateExtraction(ctx, id)

	w.WriteHeader(http.StatusNoContent)
}

func tableAt(tables []tableparse.Table, index int) (tableparse.Table, error) {
	for _, t := range tables {
		if t.Index == index {
			return t, nil
		}
	}
	return tableparse.Table{}, pricelisterr.NewValidation("no table at index %d", index)
}
