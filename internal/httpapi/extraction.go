package httpapi

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/priceledger/pricelistd/internal/extract"
	"github.com/priceledger/pricelistd/internal/pricelisterr"
	"github.com/priceledger/pricelistd/internal/resolve"
	"github.com/priceledger/pricelistd/internal/storage"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

// pageInputsFor loads every parsed page of uploadID into extract.PageInput
// form, skipping pages that have not been OCR'd yet.
func (h *Handlers) pageInputsFor(r *http.Request, uploadID string) ([]extract.PageInput, error) {
	pages, err := h.repos.Pages.ListByUpload(r.Context(), uploadID)
	if err != nil {
		return nil, pricelisterr.NewInternal(err, "list pages for upload %s", uploadID)
	}
	inputs := make([]extract.PageInput, 0, len(pages))
	for _, pg := range pages {
		if pg.Markdown == nil {
			continue
		}
		inputs = append(inputs, extract.PageInput{PageNum: pg.PageNum, Tables: tableparse.Parse(*pg.Markdown)})
	}
	return inputs, nil
}

type scanColumnsRequest struct {
	Config storage.ExtractionConfig `json:"config"`
}

type fieldMappingDTO struct {
	Page         int               `json:"page"`
	TableIndex   int               `json:"table_index"`
	Mode         string            `json:"mode"`
	RowAnchorCol int               `json:"row_anchor_col"`
	ValueCols    []valueColDTO     `json:"value_cols"`
	ExtraCols    map[string]int    `json:"extra_cols"`
	Usable       bool              `json:"usable"`
}

type valueColDTO struct {
	Col     int    `json:"col"`
	Display string `json:"display"`
}

// ScanColumns handles POST /uploads/{id}/scan-columns (spec §4.6): previews
// how an ExtractionConfig resolves against every table already parsed for
// the upload, without running the full extraction.
func (h *Handlers) ScanColumns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req scanColumnsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.Config.Validate(); err != nil {
		writeError(w, pricelisterr.NewValidation("%v", err))
		return
	}

	pages, err := h.repos.Pages.ListByUpload(r.Context(), id)
	if err != nil {
		writeError(w, pricelisterr.NewInternal(err, "list pages for upload %s", id))
		return
	}

	var dtos []fieldMappingDTO
	for _, pg := range pages {
		if pg.Markdown == nil {
			continue
		}
		tables := tableparse.Parse(*pg.Markdown)
		mappings := resolve.Resolve(req.Config, tables)
		for i, m := range mappings {
			dto := fieldMappingDTO{
				Page: pg.PageNum, TableIndex: tables[i].Index, Mode: string(m.Mode),
				RowAnchorCol: m.RowAnchorCol, ExtraCols: m.ExtraCols, Usable: m.Usable(),
			}
			dto.ValueCols = make([]valueColDTO, len(m.ValueCols))
			for j, vc := range m.ValueCols {
				dto.ValueCols[j] = valueColDTO{Col: vc.Col, Display: vc.Display}
			}
			dtos = append(dtos, dto)
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

type extractRequest struct {
	Config storage.ExtractionConfig `json:"config"`
}

type extractResultDTO struct {
	Headers      []string   `json:"headers"`
	Rows         [][]string `json:"rows"`
	RowCount     int        `json:"row_count"`
	PageCount    int        `json:"page_count"`
	FlaggedCount int        `json:"flagged_count"`
	Flags        []flagDTO  `json:"flags"`
}

type flagDTO struct {
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Reason string `json:"reason"`
}

func toExtractResultDTO(res *extract.Result) extractResultDTO {
	dto := extractResultDTO{
		Headers: res.Headers, Rows: res.Rows, RowCount: res.RowCount,
		PageCount: res.PageCount, FlaggedCount: res.FlaggedCount,
	}
	dto.Flags = make([]flagDTO, len(res.Flags))
	for i, f := range res.Flags {
		dto.Flags[i] = flagDTO{Row: f.Row, Col: f.Col, Reason: f.Reason}
	}
	return dto
}

// ExtractUpload handles POST /uploads/{id}/extract (spec §4.7): runs the
// Extraction Engine over every parsed page with the given config and
// returns the row matrix as JSON.
func (h *Handlers) ExtractUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.Config.Validate(); err != nil {
		writeError(w, pricelisterr.NewValidation("%v", err))
		return
	}

	inputs, err := h.pageInputsFor(r, id)
	if err != nil {
		writeError(w, err)
		return
	}

	result := extract.Extract(req.Config, inputs)
	writeJSON(w, http.StatusOK, toExtractResultDTO(result))
}

// ExtractUploadCSV handles POST /uploads/{id}/extract/csv (spec §4.7): same
// as ExtractUpload but streams the row matrix as RFC 4180 CSV.
func (h *Handlers) ExtractUploadCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.Config.Validate(); err != nil {
		writeError(w, pricelisterr.NewValidation("%v", err))
		return
	}

	inputs, err := h.pageInputsFor(r, id)
	if err != nil {
		writeError(w, err)
		return
	}

	result := extract.Extract(req.Config, inputs)
	csvBytes, err := encodeCSVRows(result.Headers, result.Rows)
	if err != nil {
		writeError(w, pricelisterr.NewInternal(err, "encode extraction csv"))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(csvBytes)
}

// encodeCSVRows renders a header row plus data rows as RFC 4180 CSV with
// CRLF line endings (spec §6).
func encodeCSVRows(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.UseCRLF = true
	if err := cw.Write(headers); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
