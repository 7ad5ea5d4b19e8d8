package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
)

// Memory is the mutex-guarded in-memory Store used by tests and local
// development. It enforces the same transition preconditions as the
// Postgres implementation.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*model.InvoiceRecord
	cursors *CursorCodec
}

// NewMemory constructs a Memory store.
func NewMemory(cursors *CursorCodec) *Memory {
	return &Memory{
		records: make(map[string]*model.InvoiceRecord),
		cursors: cursors,
	}
}

// Create inserts a new UPLOADED record.
func (m *Memory) Create(_ context.Context, rec *model.InvoiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return apperr.Newf(apperr.KindAlreadyExists, "record %s already exists", rec.ID)
	}
	now := time.Now().UTC()
	stored := *rec
	stored.Status = model.StatusUploaded
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = stored.CreatedAt
	m.records[stored.ID] = &stored
	*rec = stored
	return nil
}

// Get returns a copy of the record, scoped by owner.
func (m *Memory) Get(_ context.Context, id, ownerID string) (*model.InvoiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, apperr.Newf(apperr.KindNotFound, "record %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

// MarkProcessing moves UPLOADED -> PROCESSING.
func (m *Memory) MarkProcessing(_ context.Context, id, ownerID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.locked(id, ownerID)
	if err != nil {
		return err
	}
	if rec.Status != model.StatusUploaded {
		return apperr.Newf(apperr.KindConflict, "record %s is %s, not %s", id, rec.Status, model.StatusUploaded)
	}
	rec.Status = model.StatusProcessing
	t := startedAt.UTC()
	rec.ProcessingStartedAt = &t
	m.touch(rec)
	return nil
}

// MarkCompleted moves PROCESSING -> COMPLETED and writes the extracted data once.
func (m *Memory) MarkCompleted(_ context.Context, id, ownerID string, data *model.ExtractedData, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.locked(id, ownerID)
	if err != nil {
		return err
	}
	if rec.Status != model.StatusProcessing {
		return apperr.Newf(apperr.KindConflict, "record %s is %s, not %s", id, rec.Status, model.StatusProcessing)
	}
	rec.Status = model.StatusCompleted
	rec.ExtractedData = data
	rec.ErrorMessage = nil
	t := completedAt.UTC()
	rec.ProcessingCompletedAt = &t
	m.touch(rec)
	return nil
}

// MarkFailed moves PROCESSING -> FAILED and records the cause.
func (m *Memory) MarkFailed(_ context.Context, id, ownerID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.locked(id, ownerID)
	if err != nil {
		return err
	}
	if rec.Status != model.StatusProcessing {
		return apperr.Newf(apperr.KindConflict, "record %s is %s, not %s", id, rec.Status, model.StatusProcessing)
	}
	rec.Status = model.StatusFailed
	rec.ErrorMessage = &message
	m.touch(rec)
	return nil
}

// ListByOwner pages newest-first through an owner's records.
func (m *Memory) ListByOwner(_ context.Context, ownerID string, opts ListOptions) (*Page, error) {
	limit := opts.normalizedLimit()

	var afterAt time.Time
	var afterID string
	if opts.Cursor != "" {
		var err error
		afterAt, afterID, err = m.cursors.Decode(opts.Cursor)
		if err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	matched := make([]model.InvoiceRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.OwnerID != ownerID {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		matched = append(matched, *rec)
	}
	m.mu.RUnlock()

	sortNewestFirst(matched)
	if afterID != "" {
		matched = trimAfter(matched, afterAt, afterID)
	}

	page := &Page{}
	if len(matched) > limit {
		page.Items = matched[:limit]
		last := page.Items[len(page.Items)-1]
		page.NextCursor = m.cursors.Encode(last.CreatedAt, last.ID)
	} else {
		page.Items = matched
	}
	return page, nil
}

// ListByStatus returns up to limit records in state status, newest first.
func (m *Memory) ListByStatus(_ context.Context, status model.InvoiceStatus, limit int) ([]model.InvoiceRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	m.mu.RLock()
	matched := make([]model.InvoiceRecord, 0)
	for _, rec := range m.records {
		if rec.Status == status {
			matched = append(matched, *rec)
		}
	}
	m.mu.RUnlock()
	sortNewestFirst(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// locked looks up a record under the already-held write lock.
func (m *Memory) locked(id, ownerID string) (*model.InvoiceRecord, error) {
	rec, ok := m.records[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, apperr.Newf(apperr.KindNotFound, "record %s not found", id)
	}
	return rec, nil
}

// touch refreshes updatedAt, keeping it monotonically non-decreasing.
func (m *Memory) touch(rec *model.InvoiceRecord) {
	now := time.Now().UTC()
	if now.Before(rec.UpdatedAt) {
		now = rec.UpdatedAt
	}
	rec.UpdatedAt = now
}

func sortNewestFirst(recs []model.InvoiceRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}

// trimAfter drops everything at or before the cursor position in the
// newest-first ordering.
func trimAfter(recs []model.InvoiceRecord, afterAt time.Time, afterID string) []model.InvoiceRecord {
	for i, rec := range recs {
		if rec.CreatedAt.Before(afterAt) || (rec.CreatedAt.Equal(afterAt) && rec.ID < afterID) {
			return recs[i:]
		}
	}
	return nil
}
