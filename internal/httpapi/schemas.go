package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/priceledger/pricelistd/internal/authmw"
	"github.com/priceledger/pricelistd/internal/pricelisterr"
	"github.com/priceledger/pricelistd/internal/storage"
)

type schemaDTO struct {
	ID        string                    `json:"id"`
	Company   string                    `json:"company"`
	Name      string                    `json:"name"`
	Config    storage.ExtractionConfig  `json:"config"`
	IsDefault bool                      `json:"is_default"`
	CreatedAt string                    `json:"created_at"`
	UpdatedAt string                    `json:"updated_at"`
}

func toSchemaDTO(s *storage.Schema) schemaDTO {
	return schemaDTO{
		ID: s.ID, Company: s.Company, Name: s.Name, Config: s.Config, IsDefault: s.IsDefault,
		CreatedAt: s.CreatedAt.Format(timeFormat), UpdatedAt: s.UpdatedAt.Format(timeFormat),
	}
}

type schemaRequest struct {
	Company string                   `json:"company"`
	Name    string                   `json:"name"`
	Config  storage.ExtractionConfig `json:"config"`
}

// CreateSchema handles POST /schemas (spec §6).
func (h *Handlers) CreateSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := authmw.WorkspaceFromContext(ctx)

	var req schemaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Company == "" || req.Name == "" {
		writeError(w, pricelisterr.NewValidation("company and name are required"))
		return
	}
	if err := req.Config.Validate(); err != nil {
		writeError(w, pricelisterr.NewValidation("%v", err))
		return
	}

	schema := &storage.Schema{WorkspaceID: workspaceID, Company: req.Company, Name: req.Name, Config: req.Config}
	if err := h.repos.Schemas.Create(ctx, schema); err != nil {
		writeError(w, mapStorageErr(err, "create schema"))
		return
	}
	writeJSON(w, http.StatusCreated, toSchemaDTO(schema))
}

// ListSchemas handles GET /schemas (spec §6).
func (h *Handlers) ListSchemas(w http.ResponseWriter, r *http.Request) {
	workspaceID := authmw.WorkspaceFromContext(r.Context())
	schemas, err := h.repos.Schemas.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		writeError(w, pricelisterr.NewInternal(err, "list schemas"))
		return
	}
	dtos := make([]schemaDTO, len(schemas))
	for i, s := range schemas {
		dtos[i] = toSchemaDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSchema handles GET /schemas/{id} (spec §6).
func (h *Handlers) GetSchema(w http.ResponseWriter, r *http.Request) {
	workspaceID := authmw.WorkspaceFromContext(r.Context())
	id := chi.URLParam(r, "id")
	s, err := h.repos.Schemas.GetByID(r.Context(), workspaceID, id)
	if err != nil {
		writeError(w, mapStorageErr(err, "schema %s", id))
		return
	}
	writeJSON(w, http.StatusOK, toSchemaDTO(s))
}

// UpdateSchema handles POST /schemas/{id}: updates name/config in place.
func (h *Handlers) UpdateSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := authmw.WorkspaceFromContext(ctx)
	id := chi.URLParam(r, "id")

	existing, err := h.repos.Schemas.GetByID(ctx, workspaceID, id)
	if err != nil {
		writeError(w, mapStorageErr(err, "schema %s", id))
		return
	}

	var req schemaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Company == "" || req.Name == "" {
		writeError(w, pricelisterr.NewValidation("company and name are required"))
		return
	}
	if err := req.Config.Validate(); err != nil {
		writeError(w, pricelisterr.NewValidation("%v", err))
		return
	}

	existing.Company, existing.Name, existing.Config = req.Company, req.Name, req.Config
	if err := h.repos.Schemas.Update(ctx, existing); err != nil {
		writeError(w, mapStorageErr(err, "update schema %s", id))
		return
	}
	writeJSON(w, http.StatusOK, toSchemaDTO(existing))
}

// DeleteSchema handles DELETE /schemas/{id} (spec §6).
func (h *Handlers) DeleteSchema(w http.ResponseWriter, r *http.Request) {
	workspaceID := authmw.WorkspaceFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.repos.Schemas.Delete(r.Context(), workspaceID, id); err != nil {
		writeError(w, mapStorageErr(err, "schema %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDefaultSchema handles POST /schemas/{id}/set-default (spec §6).
func (h *Handlers) SetDefaultSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := authmw.WorkspaceFromContext(ctx)
	id := chi.URLParam(r, "id")

	existing, err := h.repos.Schemas.GetByID(ctx, workspaceID, id)
	if err != nil {
		writeError(w, mapStorageErr(err, "schema %s", id))
		return
	}
	if err := h.repos.Schemas.SetDefault(ctx, workspaceID, existing.Company, id); err != nil {
		writeError(w, mapStorageErr(err, "set default schema %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "company": existing.Company})
}
