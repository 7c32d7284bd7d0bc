package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/priceledger/pricelistd/internal/authmw"
)

// RouterConfig controls the cross-cutting middleware wrapped around every
// route (spec §6, §7).
type RouterConfig struct {
	Auth           authmw.Config
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter builds the full HTTP surface (spec §6): every route sits behind
// chi's RequestID/RealIP/Recoverer and CORS, and every route except /healthz
// behind authmw.Middleware. A per-request
// timeout wraps everything except the status SSE stream, which is expected
// to stay open for the lifetime of an ingest run.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(authmw.CORS(cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/", func(r chi.Router) {
		r.Use(authmw.Middleware(cfg.Auth))

		r.Get("/uploads/{id}/status", h.StreamStatus)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
			}

			r.Post("/upload", h.CreateUpload)
			r.Get("/uploads", h.ListUploads)
			r.Get("/schemas", h.ListSchemas)
			r.Post("/schemas", h.CreateSchema)
			r.Post("/compare", h.Compare)
			r.Post("/compare/csv", h.CompareCSV)

			r.Route("/uploads/{id}", func(r chi.Router) {
				r.Get("/", h.GetUpload)
				r.Put("/", h.UpdateUpload)
				r.Delete("/", h.DeleteUpload)
				r.Post("/resume", h.ResumeUpload)
				r.Post("/reparse", h.ReparseUpload)
				r.Get("/pages", h.ListPages)
				r.Get("/page-states", h.ListPageStates)
				r.Get("/comparable", h.ListComparable)
				r.Get("/page/{n}", h.GetPage)
				r.Get("/page/{n}/tables", h.GetPageTables)
				r.Post("/page/{n}/validate-table", h.ValidateTable)
				r.Post("/page/{n}/apply-correction", h.ApplyCorrection)
				r.Post("/scan-columns", h.ScanColumns)
				r.Post("/extract", h.ExtractUpload)
				r.Post("/extract/csv", h.ExtractUploadCSV)
			})

			r.Route("/schemas/{id}", func(r chi.Router) {
				r.Get("/", h.GetSchema)
				r.Post("/", h.UpdateSchema)
				r.Delete("/", h.DeleteSchema)
				r.Post("/set-default", h.SetDefaultSchema)
			})
		})
	})

	return r
}
