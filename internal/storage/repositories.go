package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNotFound         = errors.New("record not found")
	ErrConflict         = errors.New("record conflict")
	errEmptyRowAnchor   = errors.New("row_anchor must not be empty")
	errEmptyValueAnchor = errors.New("value_anchor must not be empty")
)

// DB is the narrow subset of *sql.DB used by the repositories, so tests can
// substitute a fake or a transaction.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// newID mints a short, URL-safe identifier the way the source system's
// 12-hex-char upload/schema IDs did.
func newID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:6])
}

// UploadRepository handles Upload persistence and state transitions.
type UploadRepository struct {
	db DB
}

func NewUploadRepository(db DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create inserts a new Upload in state=queued, extract_state=none.
func (r *UploadRepository) Create(ctx context.Context, u *Upload) error {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.State == "" {
		u.State = UploadStateQueued
	}
	if u.ExtractState == "" {
		u.ExtractState = ExtractStateNone
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt

	query := `
		INSERT INTO uploads (id, workspace_id, filename, company, year, month, doc_type,
			total_pages, state, message, current_page, extract_state, extract_csv_key,
			cancelled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.WorkspaceID, u.Filename, u.Company, u.Year, u.Month, u.DocType,
		u.TotalPages, u.State, u.Message, u.CurrentPage, u.ExtractState, u.ExtractCSVKey,
		u.Cancelled, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func scanUpload(row interface{ Scan(dest ...interface{}) error }) (*Upload, error) {
	u := &Upload{}
	err := row.Scan(
		&u.ID, &u.WorkspaceID, &u.Filename, &u.Company, &u.Year, &u.Month, &u.DocType,
		&u.TotalPages, &u.State, &u.Message, &u.CurrentPage, &u.ExtractState, &u.ExtractCSVKey,
		&u.Cancelled, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

const uploadColumns = `id, workspace_id, filename, company, year, month, doc_type,
	total_pages, state, message, current_page, extract_state, extract_csv_key,
	cancelled, created_at, updated_at`

// GetByID retrieves an Upload scoped to a workspace.
func (r *UploadRepository) GetByID(ctx context.Context, workspaceID, id string) (*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = $1 AND workspace_id = $2`
	return scanUpload(r.db.QueryRowContext(ctx, query, id, workspaceID))
}

// ListByWorkspace lists all uploads for a workspace, newest first.
func (r *UploadRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE workspace_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// ListComparable lists other done uploads of the same company for compare-picker use
// (supplemented feature, grounded on original_source's get_comparable_uploads).
func (r *UploadRepository) ListComparable(ctx context.Context, workspaceID, company, excludeID string) ([]*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads
		WHERE workspace_id = $1 AND company = $2 AND extract_state = $3 AND id != $4
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, workspaceID, company, ExtractStateDone, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// ListNonTerminal finds every Upload still in rendering or parsing across all
// workspaces, for startup reconciliation (spec §4.4: a process death leaves
// these states orphaned; the next start must mark them interrupted).
func (r *UploadRepository) ListNonTerminal(ctx context.Context) ([]*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE state IN ($1, $2)`
	rows, err := r.db.QueryContext(ctx, query, UploadStateRendering, UploadStateParsing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// UpdateFields mutates company/year/month (the only user-editable Upload fields, spec §6).
func (r *UploadRepository) UpdateFields(ctx context.Context, workspaceID, id, company string, year, month *int) error {
	query := `UPDATE uploads SET company=$1, year=$2, month=$3, updated_at=$4
		WHERE id=$5 AND workspace_id=$6`
	res, err := r.db.ExecContext(ctx, query, company, year, month, time.Now(), id, workspaceID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// CompareAndSwapState performs the CAS transition described in spec §5: the
// update only takes effect if the row is still in fromState.
func (r *UploadRepository) CompareAndSwapState(ctx context.Context, id string, fromState, toState UploadState, message string) (bool, error) {
	query := `UPDATE uploads SET state=$1, message=$2, updated_at=$3 WHERE id=$4 AND state=$5`
	res, err := r.db.ExecContext(ctx, query, toState, message, time.Now(), id, fromState)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetTotalPages persists the page count discovered during rendering.
func (r *UploadRepository) SetTotalPages(ctx context.Context, id string, total int) error {
	query := `UPDATE uploads SET total_pages=$1, updated_at=$2 WHERE id=$3`
	_, err := r.db.ExecContext(ctx, query, total, time.Now(), id)
	return err
}

// SetCurrentPage advances the monotonic terminal-page counter (spec §5: never decreases).
func (r *UploadRepository) SetCurrentPage(ctx context.Context, id string, current int) error {
	query := `UPDATE uploads SET current_page=$1, updated_at=$2 WHERE id=$3 AND current_page < $1`
	_, err := r.db.ExecContext(ctx, query, current, time.Now(), id)
	return err
}

// SetExtractState updates the auto-extraction side-effect state.
func (r *UploadRepository) SetExtractState(ctx context.Context, id string, state ExtractState, csvKey *string) error {
	query := `UPDATE uploads SET extract_state=$1, extract_csv_key=$2, updated_at=$3 WHERE id=$4`
	_, err := r.db.ExecContext(ctx, query, state, csvKey, time.Now(), id)
	return err
}

// MarkCancelled sets the tombstone flag checked by workers at page boundaries.
func (r *UploadRepository) MarkCancelled(ctx context.Context, id string) error {
	query := `UPDATE uploads SET cancelled=true, updated_at=$1 WHERE id=$2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

// Delete cascade-deletes an Upload and its Pages (blob cleanup is the caller's job).
func (r *UploadRepository) Delete(ctx context.Context, workspaceID, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pages WHERE upload_id=$1`, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PageRepository handles Page persistence.
type PageRepository struct {
	db DB
}

func NewPageRepository(db DB) *PageRepository {
	return &PageRepository{db: db}
}

// EnsurePending idempotently inserts a pending Page for (upload, page_num);
// a pre-existing row is left untouched (spec §4.4 step 1: "idempotently").
func (r *PageRepository) EnsurePending(ctx context.Context, uploadID string, pageNum int) error {
	query := `
		INSERT INTO pages (upload_id, page_num, markdown, state, error, updated_at)
		VALUES ($1, $2, NULL, $3, NULL, $4)
		ON CONFLICT (upload_id, page_num) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, uploadID, pageNum, PageStatePending, time.Now())
	return err
}

const pageColumns = `upload_id, page_num, markdown, state, error, updated_at`

func scanPage(row interface{ Scan(dest ...interface{}) error }) (*Page, error) {
	p := &Page{}
	err := row.Scan(&p.UploadID, &p.PageNum, &p.Markdown, &p.State, &p.Error, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetByUploadAndPage retrieves one Page.
func (r *PageRepository) GetByUploadAndPage(ctx context.Context, uploadID string, pageNum int) (*Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE upload_id=$1 AND page_num=$2`
	return scanPage(r.db.QueryRowContext(ctx, query, uploadID, pageNum))
}

// ListByUpload lists all Pages for an Upload in ascending page_num order.
func (r *PageRepository) ListByUpload(ctx context.Context, uploadID string) ([]*Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE upload_id=$1 ORDER BY page_num ASC`
	rows, err := r.db.QueryContext(ctx, query, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ListPending lists Pages in state pending or error, ascending page_num, per
// spec §4.4 step 2's dispatch order.
func (r *PageRepository) ListPending(ctx context.Context, uploadID string) ([]*Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages
		WHERE upload_id=$1 AND state IN ($2, $3) ORDER BY page_num ASC`
	rows, err := r.db.QueryContext(ctx, query, uploadID, PageStatePending, PageStateError)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// CountTerminal counts pages of an upload in a terminal state (done or
// error), used to decide when parsing has completed and to compute
// current_page (spec §5).
func (r *PageRepository) CountTerminal(ctx context.Context, uploadID string) (int, error) {
	query := `SELECT COUNT(*) FROM pages WHERE upload_id=$1 AND state IN ($2, $3)`
	var n int
	err := r.db.QueryRowContext(ctx, query, uploadID, PageStateDone, PageStateError).Scan(&n)
	return n, err
}

// CountErrored counts pages of an upload stuck in the error state, used to
// detect a fully-failed parse (spec §7: "every page fails" transitions the
// upload to error rather than done).
func (r *PageRepository) CountErrored(ctx context.Context, uploadID string) (int, error) {
	query := `SELECT COUNT(*) FROM pages WHERE upload_id=$1 AND state=$2`
	var n int
	err := r.db.QueryRowContext(ctx, query, uploadID, PageStateError).Scan(&n)
	return n, err
}

// MarkRunning transitions a page to running.
func (r *PageRepository) MarkRunning(ctx context.Context, uploadID string, pageNum int) error {
	query := `UPDATE pages SET state=$1, updated_at=$2 WHERE upload_id=$3 AND page_num=$4`
	_, err := r.db.ExecContext(ctx, query, PageStateRunning, time.Now(), uploadID, pageNum)
	return err
}

// MarkDone stores the OCR'd markdown and transitions a page to done.
func (r *PageRepository) MarkDone(ctx context.Context, uploadID string, pageNum int, markdown string) error {
	query := `UPDATE pages SET markdown=$1, state=$2, error=NULL, updated_at=$3
		WHERE upload_id=$4 AND page_num=$5`
	_, err := r.db.ExecContext(ctx, query, markdown, PageStateDone, time.Now(), uploadID, pageNum)
	return err
}

// MarkError persists a page failure and continues (spec §7: contained, non-fatal).
func (r *PageRepository) MarkError(ctx context.Context, uploadID string, pageNum int, message string) error {
	query := `UPDATE pages SET state=$1, error=$2, updated_at=$3 WHERE upload_id=$4 AND page_num=$5`
	_, err := r.db.ExecContext(ctx, query, PageStateError, message, time.Now(), uploadID, pageNum)
	return err
}

// UpdateMarkdown overwrites a page's markdown (used by the correction loop's
// surgical single-table replacement, spec §4.8).
func (r *PageRepository) UpdateMarkdown(ctx context.Context, uploadID string, pageNum int, markdown string) error {
	query := `UPDATE pages SET markdown=$1, updated_at=$2 WHERE upload_id=$3 AND page_num=$4`
	_, err := r.db.ExecContext(ctx, query, markdown, time.Now(), uploadID, pageNum)
	return err
}

// ResetAllToPending resets every Page of an upload to pending (spec §4.4 reparse).
func (r *PageRepository) ResetAllToPending(ctx context.Context, uploadID string) error {
	query := `UPDATE pages SET state=$1, error=NULL, updated_at=$2 WHERE upload_id=$3`
	_, err := r.db.ExecContext(ctx, query, PageStatePending, time.Now(), uploadID)
	return err
}

// ResetRunningToPending reverts crash-orphaned running pages back to pending
// (spec §4.4 resume: "none should persist across a crash").
func (r *PageRepository) ResetRunningToPending(ctx context.Context, uploadID string) error {
	query := `UPDATE pages SET state=$1, updated_at=$2 WHERE upload_id=$3 AND state=$4`
	_, err := r.db.ExecContext(ctx, query, PageStatePending, time.Now(), uploadID, PageStateRunning)
	return err
}

// SchemaRepository handles Schema (persisted ExtractionConfig) CRUD.
type SchemaRepository struct {
	db DB
}

func NewSchemaRepository(db DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

// Create inserts a new Schema. If s.IsDefault would collide with an
// existing default for the (workspace, company) pair, the caller must clear
// it first via SetDefault to preserve the at-most-one-default invariant.
func (r *SchemaRepository) Create(ctx context.Context, s *Schema) error {
	if s.ID == "" {
		s.ID = newID()
	}
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	configJSON, err := json.Marshal(s.Config)
	if err != nil {
		return err
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt

	query := `
		INSERT INTO schemas (id, workspace_id, company, name, config, is_default, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.WorkspaceID, s.Company, s.Name, configJSON, s.IsDefault, s.CreatedAt, s.UpdatedAt)
	return err
}

func scanSchema(row interface{ Scan(dest ...interface{}) error }) (*Schema, error) {
	s := &Schema{}
	var configJSON []byte
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.Company, &s.Name, &configJSON, &s.IsDefault, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(configJSON, &s.Config); err != nil {
		return nil, fmt.Errorf("decode schema config: %w", err)
	}
	return s, nil
}

const schemaColumns = `id, workspace_id, company, name, config, is_default, created_at, updated_at`

// GetByID retrieves a Schema scoped to a workspace.
func (r *SchemaRepository) GetByID(ctx context.Context, workspaceID, id string) (*Schema, error) {
	query := `SELECT ` + schemaColumns + ` FROM schemas WHERE id=$1 AND workspace_id=$2`
	return scanSchema(r.db.QueryRowContext(ctx, query, id, workspaceID))
}

// ListByWorkspace lists all schemas for a workspace.
func (r *SchemaRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Schema, error) {
	query := `SELECT ` + schemaColumns + ` FROM schemas WHERE workspace_id=$1 ORDER BY company, name`
	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []*Schema
	for rows.Next() {
		s, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

// GetDefaultForCompany finds the workspace-default Schema for a company, if any.
func (r *SchemaRepository) GetDefaultForCompany(ctx context.Context, workspaceID, company string) (*Schema, error) {
	query := `SELECT ` + schemaColumns + ` FROM schemas
		WHERE workspace_id=$1 AND company=$2 AND is_default=true LIMIT 1`
	return scanSchema(r.db.QueryRowContext(ctx, query, workspaceID, company))
}

// Update replaces a Schema's name and config.
func (r *SchemaRepository) Update(ctx context.Context, s *Schema) error {
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	configJSON, err := json.Marshal(s.Config)
	if err != nil {
		return err
	}
	s.UpdatedAt = time.Now()

	query := `UPDATE schemas SET name=$1, config=$2, updated_at=$3 WHERE id=$4 AND workspace_id=$5`
	res, err := r.db.ExecContext(ctx, query, s.Name, configJSON, s.UpdatedAt, s.ID, s.WorkspaceID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// SetDefault clears any existing default for (workspace, company) and marks
// the given schema as the new default, atomically per caller-provided tx.
func (r *SchemaRepository) SetDefault(ctx context.Context, workspaceID, company, schemaID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE schemas SET is_default=false, updated_at=$1 WHERE workspace_id=$2 AND company=$3`,
		time.Now(), workspaceID, company); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE schemas SET is_default=true, updated_at=$1 WHERE id=$2 AND workspace_id=$3 AND company=$4`,
		time.Now(), schemaID, workspaceID, company)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// Delete removes a Schema.
func (r *SchemaRepository) Delete(ctx context.Context, workspaceID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schemas WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// Repositories bundles all repositories for dependency injection.
type Repositories struct {
	Uploads *UploadRepository
	Pages   *PageRepository
	Schemas *SchemaRepository
}

// NewRepositories constructs all repositories over one DB handle.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Uploads: NewUploadRepository(db),
		Pages:   NewPageRepository(db),
		Schemas: NewSchemaRepository(db),
	}
}
