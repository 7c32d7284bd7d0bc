// Package ingest implements the Ingest Pipeline (C4): the per-Upload state
// machine that renders a document to pages, OCRs each page, and triggers
// auto-extraction against a company's default Schema.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/priceledger/pricelistd/internal/cache"
	"github.com/priceledger/pricelistd/internal/extract"
	"github.com/priceledger/pricelistd/internal/objectstore"
	"github.com/priceledger/pricelistd/internal/observability"
	"github.com/priceledger/pricelistd/internal/ocrclient"
	"github.com/priceledger/pricelistd/internal/pricelisterr"
	"github.com/priceledger/pricelistd/internal/progress"
	"github.com/priceledger/pricelistd/internal/render"
	"github.com/priceledger/pricelistd/internal/storage"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

// extractionCacheTTL bounds how long an Upload's ExtractionResult is reused
// before a Reparse or correction forces recomputation.
const extractionCacheTTL = 30 * time.Minute

// Pipeline drives Uploads through queued→rendering→parsing→done/error, plus
// resume and reparse, per spec §4.4.
type Pipeline struct {
	repos       *storage.Repositories
	objects     *objectstore.Store
	renderer    *render.Renderer
	ocr         *ocrclient.Client
	progress    *progress.Broadcaster
	cache       cache.Client
	logger      *observability.Logger
	workerCount int
}

// New constructs a Pipeline. cacheClient may be nil, in which case
// ExtractionResults are recomputed on every request.
func New(repos *storage.Repositories, objects *objectstore.Store, renderer *render.Renderer, ocr *ocrclient.Client, prog *progress.Broadcaster, cacheClient cache.Client, logger *observability.Logger, workerCount int) *Pipeline {
	if workerCount <= 0 {
		workerCount = 8
	}
	return &Pipeline{
		repos: repos, objects: objects, renderer: renderer, ocr: ocr,
		progress: prog, cache: cacheClient, logger: logger, workerCount: workerCount,
	}
}

// Run drives a freshly-created Upload (state=queued) through rendering and
// parsing to completion (spec §4.4 steps 1–4).
func (p *Pipeline) Run(ctx context.Context, workspaceID, uploadID string) error {
	ok, err := p.repos.Uploads.CompareAndSwapState(ctx, uploadID, storage.UploadStateQueued, storage.UploadStateRendering, "")
	if err != nil {
		return pricelisterr.NewInternal(err, "transition upload %s to rendering", uploadID)
	}
	if !ok {
		return pricelisterr.NewConflict("upload %s is not queued", uploadID)
	}

	upload, err := p.repos.Uploads.GetByID(ctx, workspaceID, uploadID)
	if err != nil {
		return err
	}
	p.publish(uploadID, upload.State, upload.CurrentPage, upload.TotalPages, "", upload.ExtractState, false)

	if err := p.render(ctx, upload); err != nil {
		p.fail(ctx, upload, err)
		return err
	}

	if err := p.enterParsing(ctx, upload); err != nil {
		p.fail(ctx, upload, err)
		return err
	}

	return p.runParsingPhase(ctx, upload)
}

// Resume re-enters parsing for an interrupted Upload, re-queuing any page
// left running by a prior crash (spec §4.4 "Resume").
func (p *Pipeline) Resume(ctx context.Context, workspaceID, uploadID string) error {
	upload, err := p.repos.Uploads.GetByID(ctx, workspaceID, uploadID)
	if err != nil {
		return err
	}
	if upload.State != storage.UploadStateInterrupted && upload.State != storage.UploadStateParsing {
		return pricelisterr.NewConflict("upload %s is not resumable from state %s", uploadID, upload.State)
	}
	if err := p.repos.Pages.ResetRunningToPending(ctx, uploadID); err != nil {
		return pricelisterr.NewInternal(err, "reset running pages for resume")
	}
	if err := p.enterParsing(ctx, upload); err != nil {
		p.fail(ctx, upload, err)
		return err
	}
	return p.runParsingPhase(ctx, upload)
}

// Reparse resets every Page to pending and discards the cached CSV, then
// re-runs parsing and auto-extraction from scratch (spec §4.4 "done→reparse").
func (p *Pipeline) Reparse(ctx context.Context, workspaceID, uploadID string) error {
	upload, err := p.repos.Uploads.GetByID(ctx, workspaceID, uploadID)
	if err != nil {
		return err
	}
	if upload.State != storage.UploadStateDone && upload.State != storage.UploadStateError {
		return pricelisterr.NewConflict("upload %s is not reparseable from state %s", uploadID, upload.State)
	}
	if err := p.repos.Pages.ResetAllToPending(ctx, uploadID); err != nil {
		return pricelisterr.NewInternal(err, "reset pages for reparse")
	}
	if err := p.objects.DeletePrefix(ctx, objectstore.BucketOutput, objectstore.CSVKey(uploadID)); err != nil {
		return err
	}
	if err := p.repos.Uploads.SetExtractState(ctx, uploadID, storage.ExtractStateNone, nil); err != nil {
		return pricelisterr.NewInternal(err, "clear extract state for reparse")
	}
	p.InvalidateExtraction(ctx, uploadID)
	if err := p.enterParsing(ctx, upload); err != nil {
		p.fail(ctx, upload, err)
		return err
	}
	return p.runParsingPhase(ctx, upload)
}

// ReconcileOnStartup marks every Upload still mid-flight from a prior
// process's crash as interrupted, so operators can explicitly Resume them
// (spec §4.4: "none should persist across a crash").
func (p *Pipeline) ReconcileOnStartup(ctx context.Context) error {
	orphaned, err := p.repos.Uploads.ListNonTerminal(ctx)
	if err != nil {
		return pricelisterr.NewInternal(err, "list non-terminal uploads")
	}
	for _, u := range orphaned {
		if ok, err := p.repos.Uploads.CompareAndSwapState(ctx, u.ID, u.State, storage.UploadStateInterrupted, "interrupted by restart"); err != nil {
			return pricelisterr.NewInternal(err, "mark upload %s interrupted", u.ID)
		} else if ok {
			p.logger.Warn().Str("upload_id", u.ID).Msg("marked interrupted on startup")
			p.publish(u.ID, storage.UploadStateInterrupted, u.CurrentPage, u.TotalPages, "interrupted by restart", u.ExtractState, false)
		}
	}
	return nil
}

func extractionCacheKey(uploadID string) string {
	return cache.UploadCacheKey(uploadID, "extraction")
}

// cacheExtraction stores result under uploadID's cache key, best-effort.
func (p *Pipeline) cacheExtraction(ctx context.Context, uploadID string, result *extract.Result) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		p.logger.Warn().Err(err).Msg("marshal extraction result for cache")
		return
	}
	if err := p.cache.Set(ctx, extractionCacheKey(uploadID), raw, extractionCacheTTL); err != nil {
		p.logger.Warn().Err(err).Msg("cache extraction result")
	}
}

// CachedExtraction returns the cached ExtractionResult for an Upload, if
// any is still warm (spec §4.4 step 4's result feeds C9 comparisons).
func (p *Pipeline) CachedExtraction(ctx context.Context, uploadID string) (*extract.Result, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, err := p.cache.Get(ctx, extractionCacheKey(uploadID))
	if err != nil {
		return nil, false
	}
	var result extract.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// InvalidateExtraction drops the cached ExtractionResult for an Upload, used
// by Reparse and by the Correction Loop after a markdown replacement
// (spec §4.8, §4.4 "done→reparse").
func (p *Pipeline) InvalidateExtraction(ctx context.Context, uploadID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, extractionCacheKey(uploadID)); err != nil {
		p.logger.Warn().Err(err).Msg("invalidate cached extraction result")
	}
}

func extOf(docType storage.DocType) string {
	if docType == storage.DocTypeImage {
		return "img"
	}
	return "pdf"
}

// render performs spec §4.4 step 1: render every page, store the PNGs, and
// create a pending Page row per page, idempotently.
func (p *Pipeline) render(ctx context.Context, upload *storage.Upload) error {
	raw, err := p.objects.Get(ctx, objectstore.BucketPDFs, objectstore.PDFKey(upload.ID, extOf(upload.DocType)))
	if err != nil {
		return err
	}

	var pages [][]byte
	if upload.DocType == storage.DocTypeImage {
		pages, err = p.renderer.RenderImage(ctx, raw)
	} else {
		pages, err = p.renderer.RenderPDF(ctx, raw)
	}
	if err != nil {
		return err
	}

	for i, png := range pages {
		pageNum := i + 1
		if err := p.objects.Put(ctx, objectstore.BucketPages, objectstore.PageKey(upload.ID, pageNum), png, "image/png"); err != nil {
			return err
		}
		if err := p.repos.Pages.EnsurePending(ctx, upload.ID, pageNum); err != nil {
			return pricelisterr.NewInternal(err, "create page %d", pageNum)
		}
	}

	if err := p.repos.Uploads.SetTotalPages(ctx, upload.ID, len(pages)); err != nil {
		return pricelisterr.NewInternal(err, "persist total_pages")
	}
	upload.TotalPages = len(pages)
	return nil
}

func (p *Pipeline) enterParsing(ctx context.Context, upload *storage.Upload) error {
	ok, err := p.repos.Uploads.CompareAndSwapState(ctx, upload.ID, upload.State, storage.UploadStateParsing, "")
	if err != nil {
		return pricelisterr.NewInternal(err, "transition upload %s to parsing", upload.ID)
	}
	if !ok {
		return pricelisterr.NewConflict("upload %s could not transition to parsing from %s", upload.ID, upload.State)
	}
	upload.State = storage.UploadStateParsing
	p.publish(upload.ID, upload.State, upload.CurrentPage, upload.TotalPages, "", upload.ExtractState, false)
	return nil
}

// runParsingPhase performs spec §4.4 step 2: dispatch every pending or
// errored Page into the OCR worker pool, then transition to done (step 3)
// and trigger auto-extraction (step 4).
func (p *Pipeline) runParsingPhase(ctx context.Context, upload *storage.Upload) error {
	pending, err := p.repos.Pages.ListPending(ctx, upload.ID)
	if err != nil {
		return pricelisterr.NewInternal(err, "list pending pages")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workerCount)

	for _, page := range pending {
		pageNum := page.PageNum
		group.Go(func() error {
			return p.ocrOnePage(groupCtx, upload, pageNum)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	terminal, err := p.repos.Pages.CountTerminal(ctx, upload.ID)
	if err != nil {
		return pricelisterr.NewInternal(err, "count terminal pages")
	}
	if terminal < upload.TotalPages {
		// Cancelled mid-flight: leave state as parsing/interrupted, no error.
		return nil
	}

	errored, err := p.repos.Pages.CountErrored(ctx, upload.ID)
	if err != nil {
		return pricelisterr.NewInternal(err, "count errored pages")
	}
	if errored == upload.TotalPages {
		ok, err := p.repos.Uploads.CompareAndSwapState(ctx, upload.ID, storage.UploadStateParsing, storage.UploadStateError, "every page failed OCR")
		if err != nil {
			return pricelisterr.NewInternal(err, "transition upload %s to error", upload.ID)
		}
		if ok {
			upload.State = storage.UploadStateError
			p.publish(upload.ID, upload.State, upload.CurrentPage, upload.TotalPages, "every page failed OCR", upload.ExtractState, true)
		}
		return nil
	}

	ok, err := p.repos.Uploads.CompareAndSwapState(ctx, upload.ID, storage.UploadStateParsing, storage.UploadStateDone, "")
	if err != nil {
		return pricelisterr.NewInternal(err, "transition upload %s to done", upload.ID)
	}
	if ok {
		upload.State = storage.UploadStateDone
		p.publish(upload.ID, upload.State, upload.CurrentPage, upload.TotalPages, "", upload.ExtractState, false)
	}

	return p.autoExtract(ctx, upload)
}

// ocrOnePage OCRs a single page, observing the upload's cancellation
// tombstone at the page boundary (spec §4.4 "Cancellation").
func (p *Pipeline) ocrOnePage(ctx context.Context, upload *storage.Upload, pageNum int) error {
	current, err := p.repos.Uploads.GetByID(ctx, upload.WorkspaceID, upload.ID)
	if err != nil {
		return pricelisterr.NewInternal(err, "reload upload for cancellation check")
	}
	if current.Cancelled {
		return nil
	}

	if err := p.repos.Pages.MarkRunning(ctx, upload.ID, pageNum); err != nil {
		return pricelisterr.NewInternal(err, "mark page %d running", pageNum)
	}

	png, err := p.objects.Get(ctx, objectstore.BucketPages, objectstore.PageKey(upload.ID, pageNum))
	if err != nil {
		_ = p.repos.Pages.MarkError(ctx, upload.ID, pageNum, err.Error())
		p.afterPageTerminal(ctx, upload)
		return nil
	}

	markdown, err := p.ocr.OCR(ctx, png, "image/png")
	if err != nil {
		_ = p.repos.Pages.MarkError(ctx, upload.ID, pageNum, err.Error())
		p.logger.Warn().Str("upload_id", upload.ID).Int("page", pageNum).Err(err).Msg("page OCR failed, continuing")
		p.afterPageTerminal(ctx, upload)
		return nil
	}

	if err := p.repos.Pages.MarkDone(ctx, upload.ID, pageNum, markdown); err != nil {
		return pricelisterr.NewInternal(err, "mark page %d done", pageNum)
	}
	p.afterPageTerminal(ctx, upload)
	return nil
}

// afterPageTerminal advances current_page and publishes progress after a
// Page reaches done or error (spec §4.4: "publish progress after every
// meaningful change", spec §5: current_page is monotonic terminal-count).
func (p *Pipeline) afterPageTerminal(ctx context.Context, upload *storage.Upload) {
	terminal, err := p.repos.Pages.CountTerminal(ctx, upload.ID)
	if err != nil {
		p.logger.Error().Err(err).Msg("count terminal pages for progress")
		return
	}
	if err := p.repos.Uploads.SetCurrentPage(ctx, upload.ID, terminal); err != nil {
		p.logger.Error().Err(err).Msg("advance current_page")
	}
	p.publish(upload.ID, storage.UploadStateParsing, terminal, upload.TotalPages, "", upload.ExtractState, false)
}

// autoExtract performs spec §4.4 step 4: if a default Schema exists for the
// Upload's company, run C6+C7 over every OCR'd page and persist the CSV.
func (p *Pipeline) autoExtract(ctx context.Context, upload *storage.Upload) error {
	schema, err := p.repos.Schemas.GetDefaultForCompany(ctx, upload.WorkspaceID, upload.Company)
	if err != nil {
		if err == storage.ErrNotFound {
			return p.repos.Uploads.SetExtractState(ctx, upload.ID, storage.ExtractStateNoConfig, nil)
		}
		return pricelisterr.NewInternal(err, "lookup default schema")
	}

	if err := p.repos.Uploads.SetExtractState(ctx, upload.ID, storage.ExtractStateRunning, nil); err != nil {
		return pricelisterr.NewInternal(err, "set extract_state running")
	}

	pages, err := p.repos.Pages.ListByUpload(ctx, upload.ID)
	if err != nil {
		_ = p.repos.Uploads.SetExtractState(ctx, upload.ID, storage.ExtractStateError, nil)
		return pricelisterr.NewInternal(err, "list pages for extraction")
	}

	inputs := make([]extract.PageInput, 0, len(pages))
	for _, pg := range pages {
		if pg.Markdown == nil {
			continue
		}
		inputs = append(inputs, extract.PageInput{PageNum: pg.PageNum, Tables: tableparse.Parse(*pg.Markdown)})
	}

	result := extract.Extract(schema.Config, inputs)
	p.cacheExtraction(ctx, upload.ID, result)

	csvBytes, err := encodeCSV(result)
	if err != nil {
		_ = p.repos.Uploads.SetExtractState(ctx, upload.ID, storage.ExtractStateError, nil)
		return pricelisterr.NewInternal(err, "encode extraction csv")
	}

	key := objectstore.CSVKey(upload.ID)
	if err := p.objects.Put(ctx, objectstore.BucketOutput, key, csvBytes, "text/csv"); err != nil {
		_ = p.repos.Uploads.SetExtractState(ctx, upload.ID, storage.ExtractStateError, nil)
		return err
	}

	if err := p.repos.Uploads.SetExtractState(ctx, upload.ID, storage.ExtractStateDone, &key); err != nil {
		return pricelisterr.NewInternal(err, "set extract_state done")
	}
	p.publish(upload.ID, storage.UploadStateDone, upload.CurrentPage, upload.TotalPages, "", storage.ExtractStateDone, true)
	return nil
}

// encodeCSV renders an extraction Result as RFC 4180 CSV with CRLF line
// endings (spec §6).
func encodeCSV(result *extract.Result) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true

	if err := w.Write(result.Headers); err != nil {
		return nil, err
	}
	for _, row := range result.Rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fail persists a terminal error state and publishes it.
func (p *Pipeline) fail(ctx context.Context, upload *storage.Upload, err error) {
	msg := err.Error()
	if _, casErr := p.repos.Uploads.CompareAndSwapState(ctx, upload.ID, upload.State, storage.UploadStateError, msg); casErr != nil {
		p.logger.Error().Err(casErr).Msg("failed to persist upload error state")
	}
	p.logger.Error().Str("upload_id", upload.ID).Err(err).Msg("ingest failed")
	p.publish(upload.ID, storage.UploadStateError, upload.CurrentPage, upload.TotalPages, msg, upload.ExtractState, true)
}

func (p *Pipeline) publish(uploadID string, state storage.UploadState, currentPage, totalPages int, message string, extractState storage.ExtractState, terminal bool) {
	rec := progress.Record{
		State: string(state), CurrentPage: currentPage, TotalPages: totalPages,
		Message: message, ExtractState: string(extractState),
	}
	if terminal {
		p.progress.Close(uploadID, rec)
		return
	}
	p.progress.Publish(uploadID, rec)
}
