package httpapi

import (
	"github.com/priceledger/pricelistd/internal/cache"
	"github.com/priceledger/pricelistd/internal/ingest"
	"github.com/priceledger/pricelistd/internal/objectstore"
	"github.com/priceledger/pricelistd/internal/observability"
	"github.com/priceledger/pricelistd/internal/ocrclient"
	"github.com/priceledger/pricelistd/internal/progress"
	"github.com/priceledger/pricelistd/internal/storage"
)

// Handlers bundles every collaborator the HTTP surface calls into.
type Handlers struct {
	repos    *storage.Repositories
	objects  *objectstore.Store
	pipeline *ingest.Pipeline
	progress *progress.Broadcaster
	cache    cache.Client
	vlm      *ocrclient.Client
	llm      *ocrclient.Client
	logger   *observability.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(repos *storage.Repositories, objects *objectstore.Store, pipeline *ingest.Pipeline, prog *progress.Broadcaster, cacheClient cache.Client, vlm, llm *ocrclient.Client, logger *observability.Logger) *Handlers {
	return &Handlers{
		repos: repos, objects: objects, pipeline: pipeline, progress: prog,
		cache: cacheClient, vlm: vlm, llm: llm, logger: logger,
	}
}

// objectExt mirrors ingest.extOf's image/pdf bucket-key suffix so the
// original file stored here is found by the pipeline's render step.
func objectExt(docType storage.DocType) string {
	if docType == storage.DocTypeImage {
		return "img"
	}
	return "pdf"
}
