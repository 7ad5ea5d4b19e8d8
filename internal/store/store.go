// Package store owns the canonical invoice records: creation, ownership
// scoped reads, typed status transitions, and keyset pagination. Status
// transitions are conditional writes keyed on the expected current status,
// which is the only concurrency gate the pipeline relies on.
package store

import (
	"context"
	"time"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
)

const (
	// DefaultLimit applies when a list request carries no limit.
	DefaultLimit = 20
	// MaxLimit bounds a single page.
	MaxLimit = 100
)

// ListOptions narrows and paginates an owner-scoped listing.
type ListOptions struct {
	Limit  int
	Cursor string
	Status model.InvoiceStatus // optional narrowing filter, empty for all
}

func (o ListOptions) normalizedLimit() int {
	if o.Limit <= 0 {
		return DefaultLimit
	}
	if o.Limit > MaxLimit {
		return MaxLimit
	}
	return o.Limit
}

// Page is one window of an owner-scoped listing, newest first. NextCursor
// is empty once the listing is exhausted.
type Page struct {
	Items      []model.InvoiceRecord
	NextCursor string
}

// Store is the contract shared by the Postgres implementation and the
// in-memory one used by tests and local development.
//
// The three Mark methods are the closed set of mutations: each writes
// exactly the fields its transition owns and refuses to run unless the
// record is still in the expected prior state (apperr.KindConflict
// otherwise). ID, OwnerID, and the file descriptor are immutable, and a
// COMPLETED record's extracted data is never rewritten.
type Store interface {
	// Create inserts a new record in UPLOADED. Fails with
	// apperr.KindAlreadyExists when the id collides.
	Create(ctx context.Context, rec *model.InvoiceRecord) error

	// Get returns the record or apperr.KindNotFound. Ownership is part of
	// the key: a correct id with the wrong owner is NotFound.
	Get(ctx context.Context, id, ownerID string) (*model.InvoiceRecord, error)

	// MarkProcessing moves UPLOADED -> PROCESSING and stamps
	// processingStartedAt. Exactly one caller wins under concurrent delivery.
	MarkProcessing(ctx context.Context, id, ownerID string, startedAt time.Time) error

	// MarkCompleted moves PROCESSING -> COMPLETED, writing the extracted
	// data once and stamping processingCompletedAt.
	MarkCompleted(ctx context.Context, id, ownerID string, data *model.ExtractedData, completedAt time.Time) error

	// MarkFailed moves PROCESSING -> FAILED and records the cause.
	MarkFailed(ctx context.Context, id, ownerID string, message string) error

	// ListByOwner pages through an owner's records ordered by creation
	// time descending, resuming strictly after the cursor position.
	ListByOwner(ctx context.Context, ownerID string, opts ListOptions) (*Page, error)

	// ListByStatus is the operational query behind monitoring and the
	// reconciliation sweep. Same ordering, no ownership filter.
	ListByStatus(ctx context.Context, status model.InvoiceStatus, limit int) ([]model.InvoiceRecord, error)
}
