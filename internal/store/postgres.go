package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
)

const pgUniqueViolation = "23505"

const invoiceColumns = `id, owner_id, file_name, file_size, mime_type, blob_key, status,
	error_message, extracted_data, created_at, updated_at, processing_started_at, processing_completed_at`

// Postgres is the pgx-backed Store. The invoices table is keyed
// (owner_id, id) for the "all of my invoices" access pattern and indexed
// (status, created_at) for the operational "all records in state X" one;
// both are maintained by the same row write, so a status transition is
// visible to status listings immediately.
type Postgres struct {
	pool    *pgxpool.Pool
	cursors *CursorCodec
}

// NewPostgres constructs a Postgres store.
func NewPostgres(pool *pgxpool.Pool, cursors *CursorCodec) *Postgres {
	return &Postgres{pool: pool, cursors: cursors}
}

// Create inserts a new UPLOADED record.
func (s *Postgres) Create(ctx context.Context, rec *model.InvoiceRecord) error {
	now := time.Now().UTC()
	rec.Status = model.StatusUploaded
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invoices (id, owner_id, file_name, file_size, mime_type, blob_key, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.OwnerID, rec.FileName, rec.FileSize, rec.MimeType, rec.BlobKey, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperr.Wrap(apperr.KindAlreadyExists, fmt.Sprintf("record %s already exists", rec.ID), err)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// Get returns the record, scoped by owner.
func (s *Postgres) Get(ctx context.Context, id, ownerID string) (*model.InvoiceRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices WHERE id=$1 AND owner_id=$2
	`, id, ownerID)
	rec, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "record %s not found", id)
		}
		return nil, fmt.Errorf("select invoice: %w", err)
	}
	return rec, nil
}

// MarkProcessing moves UPLOADED -> PROCESSING. The WHERE clause on the
// current status is the concurrency gate: the losing delivery updates
// zero rows and gets a conflict.
func (s *Postgres) MarkProcessing(ctx context.Context, id, ownerID string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET status=$1, processing_started_at=$2, updated_at=GREATEST(updated_at, $3)
		WHERE id=$4 AND owner_id=$5 AND status=$6
	`, model.StatusProcessing, startedAt.UTC(), time.Now().UTC(), id, ownerID, model.StatusUploaded)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return s.explainZeroRows(ctx, tag, id, ownerID, model.StatusUploaded)
}

// MarkCompleted moves PROCESSING -> COMPLETED, writing the extracted data once.
func (s *Postgres) MarkCompleted(ctx context.Context, id, ownerID string, data *model.ExtractedData, completedAt time.Time) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET status=$1, extracted_data=$2, error_message=NULL,
			processing_completed_at=$3, updated_at=GREATEST(updated_at, $4)
		WHERE id=$5 AND owner_id=$6 AND status=$7
	`, model.StatusCompleted, payload, completedAt.UTC(), time.Now().UTC(), id, ownerID, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return s.explainZeroRows(ctx, tag, id, ownerID, model.StatusProcessing)
}

// MarkFailed moves PROCESSING -> FAILED and records the cause.
func (s *Postgres) MarkFailed(ctx context.Context, id, ownerID string, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET status=$1, error_message=$2, updated_at=GREATEST(updated_at, $3)
		WHERE id=$4 AND owner_id=$5 AND status=$6
	`, model.StatusFailed, message, time.Now().UTC(), id, ownerID, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.explainZeroRows(ctx, tag, id, ownerID, model.StatusProcessing)
}

// ListByOwner pages newest-first through an owner's records using keyset
// pagination over (created_at, id).
func (s *Postgres) ListByOwner(ctx context.Context, ownerID string, opts ListOptions) (*Page, error) {
	limit := opts.normalizedLimit()

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE owner_id=$1`
	args := []any{ownerID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if opts.Cursor != "" {
		afterAt, afterID, err := s.cursors.Decode(opts.Cursor)
		if err != nil {
			return nil, err
		}
		args = append(args, afterAt, afterID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list by owner: %w", err)
	}
	defer rows.Close()

	items, err := collectInvoices(rows)
	if err != nil {
		return nil, err
	}
	page := &Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[len(page.Items)-1]
		page.NextCursor = s.cursors.Encode(last.CreatedAt, last.ID)
	}
	return page, nil
}

// ListByStatus returns up to limit records in state status, newest first.
func (s *Postgres) ListByStatus(ctx context.Context, status model.InvoiceStatus, limit int) ([]model.InvoiceRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices WHERE status=$1
		ORDER BY created_at DESC, id DESC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// explainZeroRows distinguishes a missing record from a lost transition
// race when a conditional update touched nothing.
func (s *Postgres) explainZeroRows(ctx context.Context, tag pgconn.CommandTag, id, ownerID string, expected model.InvoiceStatus) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current model.InvoiceStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM invoices WHERE id=$1 AND owner_id=$2`, id, ownerID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "record %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("check invoice status: %w", err)
	}
	return apperr.Newf(apperr.KindConflict, "record %s is %s, not %s", id, current, expected)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*model.InvoiceRecord, error) {
	var (
		rec         model.InvoiceRecord
		errorMsg    sql.NullString
		extracted   []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.FileName, &rec.FileSize, &rec.MimeType, &rec.BlobKey,
		&rec.Status, &errorMsg, &extracted, &rec.CreatedAt, &rec.UpdatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if errorMsg.Valid {
		msg := errorMsg.String
		rec.ErrorMessage = &msg
	}
	if len(extracted) > 0 {
		var data model.ExtractedData
		if err := json.Unmarshal(extracted, &data); err != nil {
			return nil, fmt.Errorf("decode extracted data: %w", err)
		}
		rec.ExtractedData = &data
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		rec.ProcessingStartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		rec.ProcessingCompletedAt = &t
	}
	return &rec, nil
}

func collectInvoices(rows pgx.Rows) ([]model.InvoiceRecord, error) {
	items := make([]model.InvoiceRecord, 0)
	for rows.Next() {
		rec, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return items, nil
}
