package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/priceledger/pricelistd/internal/tableparse"
)

type tableDTO struct {
	Index   int        `json:"index"`
	Heading string     `json:"heading,omitempty"`
	Columns []columnDTO `json:"columns"`
	Rows    [][]cellDTO `json:"rows"`
}

type columnDTO struct {
	Parent string `json:"parent,omitempty"`
	Child  string `json:"child,omitempty"`
}

type cellDTO struct {
	Text string `json:"text"`
}

// GetPageTables handles GET /uploads/{id}/page/{n}/tables (spec §4.3).
func (h *Handlers) GetPageTables(w http.ResponseWriter, r *http.Request) {
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
	if p.Markdown == nil {
		writeJSON(w, http.StatusOK, []tableDTO{})
		return
	}

	tables := tableparse.Parse(*p.Markdown)
	dtos := make([]tableDTO, len(tables))
	for i, t := range tables {
		dtos[i] = toTableDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toTableDTO(t tableparse.Table) tableDTO {
	dto := tableDTO{Index: t.Index, Heading: t.Heading}
	dto.Columns = make([]columnDTO, len(t.Columns))
	for i, c := range t.Columns {
		dto.Columns[i] = columnDTO{Parent: c.Parent, Child: c.Child}
	}
	dto.Rows = make([][]cellDTO, len(t.Rows))
	for ri, row := range t.Rows {
		dto.Rows[ri] = make([]cellDTO, len(row))
		for ci, c := range row {
			dto.Rows[ri][ci] = cellDTO{Text: c.Text}
		}
	}
	return dto
}
