package httpapi

import (
	"fmt"
	"net/http"

	"github.com/priceledger/pricelistd/internal/authmw"
	"github.com/priceledger/pricelistd/internal/cache"
	"github.com/priceledger/pricelistd/internal/compare"
	"github.com/priceledger/pricelistd/internal/extract"
	"github.com/priceledger/pricelistd/internal/pricelisterr"
)

type compareRequest struct {
	BaseUploadID   string `json:"base_upload_id"`
	TargetUploadID string `json:"target_upload_id"`
}

// resolveExtraction returns uploadID's extraction, preferring the pipeline's
// cache (populated by the last auto- or manual extraction) and falling back
// to a fresh run against the upload's default schema.
func (h *Handlers) resolveExtraction(r *http.Request, workspaceID, uploadID string) (*extract.Result, error) {
	ctx := r.Context()
	if cached, ok := h.pipeline.CachedExtraction(ctx, uploadID); ok {
		return cached, nil
	}

	upload, err := h.repos.Uploads.GetByID(ctx, workspaceID, uploadID)
	if err != nil {
		return nil, mapStorageErr(err, "upload %s", uploadID)
	}

	schema, err := h.repos.Schemas.GetDefaultForCompany(ctx, workspaceID, upload.Company)
	if err != nil {
		return nil, mapStorageErr(err, "no default schema configured for company %q", upload.Company)
	}

	inputs, err := h.pageInputsFor(r, uploadID)
	if err != nil {
		return nil, err
	}
	return extract.Extract(schema.Config, inputs), nil
}

func (h *Handlers) runCompare(r *http.Request, req compareRequest) (*compare.Result, error) {
	workspaceID := authmw.WorkspaceFromContext(r.Context())
	if req.BaseUploadID == "" || req.TargetUploadID == "" {
		return nil, pricelisterr.NewValidation("base_upload_id and target_upload_id are required")
	}

	base, err := h.resolveExtraction(r, workspaceID, req.BaseUploadID)
	if err != nil {
		return nil, err
	}
	target, err := h.resolveExtraction(r, workspaceID, req.TargetUploadID)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.WorkspaceCacheKey(workspaceID, "compare", req.BaseUploadID, req.TargetUploadID)
	return compare.CachedCompare(r.Context(), h.cache, cacheKey, base, target)
}

type compareRowDTO struct {
	Reference      string   `json:"reference"`
	Variant        string   `json:"variant,omitempty"`
	BasePage       int      `json:"base_page"`
	TargetPage     int      `json:"target_page"`
	BaseValue      string   `json:"base_value"`
	TargetValue    string   `json:"target_value"`
	Status         string   `json:"status"`
	AbsoluteChange *float64 `json:"absolute_change,omitempty"`
	PercentChange  *float64 `json:"percent_change,omitempty"`
	Change         string   `json:"change,omitempty"`
}

type compareResultDTO struct {
	Rows           []compareRowDTO `json:"rows"`
	BaseRowCount   int             `json:"base_row_count"`
	TargetRowCount int             `json:"target_row_count"`
}

func toCompareResultDTO(res *compare.Result) compareResultDTO {
	dto := compareResultDTO{BaseRowCount: res.BaseRowCount, TargetRowCount: res.TargetRowCount}
	dto.Rows = make([]compareRowDTO, len(res.Rows))
	for i, row := range res.Rows {
		dto.Rows[i] = compareRowDTO{
			Reference: row.Reference, Variant: row.Variant, BasePage: row.BasePage, TargetPage: row.TargetPage,
			BaseValue: row.BaseValue, TargetValue: row.TargetValue, Status: string(row.Status),
			AbsoluteChange: row.AbsoluteChange, PercentChange: row.PercentChange, Change: compare.FormatChange(row),
		}
	}
	return dto
}

// Compare handles POST /compare (spec §4.9).
func (h *Handlers) Compare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.runCompare(r, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompareResultDTO(result))
}

// CompareCSV handles POST /compare/csv (spec §4.9): same join, rendered as
// RFC 4180 CSV.
func (h *Handlers) CompareCSV(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.runCompare(r, req)
	if err != nil {
		writeError(w, err)
		return
	}

	headers := []string{"reference", "variant", "base_page", "target_page", "base_value", "target_value", "status", "change"}
	rows := make([][]string, len(result.Rows))
	for i, row := range result.Rows {
		rows[i] = []string{
			row.Reference, row.Variant, fmt.Sprint(row.BasePage), fmt.Sprint(row.TargetPage),
			row.BaseValue, row.TargetValue, string(row.Status), compare.FormatChange(row),
		}
	}

	csvBytes, err := encodeCSVRows(headers, rows)
	if err != nil {
		writeError(w, pricelisterr.NewInternal(err, "encode comparison csv"))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="comparison.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(csvBytes)
}
