package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
)

func newTestStore() *Memory {
	return NewMemory(NewCursorCodec([]byte("test-secret")))
}

func seedRecord(t *testing.T, m *Memory, id, owner string, createdAt time.Time) *model.InvoiceRecord {
	t.Helper()
	rec := &model.InvoiceRecord{
		ID:        id,
		OwnerID:   owner,
		FileName:  "inv.pdf",
		FileSize:  2048,
		MimeType:  "application/pdf",
		BlobKey:   fmt.Sprintf("uploads/%s/%s/inv.pdf", owner, id),
		CreatedAt: createdAt,
	}
	require.NoError(t, m.Create(context.Background(), rec))
	return rec
}

func TestCreateAndGet(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	rec := seedRecord(t, m, "rec-1", "alice", time.Time{})

	got, err := m.Get(ctx, "rec-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, got.Status)
	assert.Equal(t, rec.BlobKey, got.BlobKey)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	m := newTestStore()
	seedRecord(t, m, "rec-1", "alice", time.Time{})

	err := m.Create(context.Background(), &model.InvoiceRecord{ID: "rec-1", OwnerID: "bob"})
	require.Error(t, err)
	assert.True(t, apperr.IsAlreadyExists(err))
}

func TestGetEnforcesOwnership(t *testing.T) {
	m := newTestStore()
	seedRecord(t, m, "rec-1", "alice", time.Time{})

	_, err := m.Get(context.Background(), "rec-1", "mallory")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	seedRecord(t, m, "rec-1", "alice", time.Time{})
	now := time.Now().UTC()

	// FAILED and COMPLETED both require PROCESSING first.
	assert.True(t, apperr.IsConflict(m.MarkFailed(ctx, "rec-1", "alice", "boom")))
	assert.True(t, apperr.IsConflict(m.MarkCompleted(ctx, "rec-1", "alice", &model.ExtractedData{}, now)))

	require.NoError(t, m.MarkProcessing(ctx, "rec-1", "alice", now))
	got, err := m.Get(ctx, "rec-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
	require.NotNil(t, got.ProcessingStartedAt)

	// A second attempt to claim the record loses.
	assert.True(t, apperr.IsConflict(m.MarkProcessing(ctx, "rec-1", "alice", now)))

	require.NoError(t, m.MarkCompleted(ctx, "rec-1", "alice", &model.ExtractedData{VendorName: "Acme"}, now))
	got, err = m.Get(ctx, "rec-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.ExtractedData)
	require.NotNil(t, got.ProcessingCompletedAt)

	// Terminal: no regression, and the extracted data is write-once.
	assert.True(t, apperr.IsConflict(m.MarkProcessing(ctx, "rec-1", "alice", now)))
	assert.True(t, apperr.IsConflict(m.MarkFailed(ctx, "rec-1", "alice", "late failure")))
	assert.True(t, apperr.IsConflict(m.MarkCompleted(ctx, "rec-1", "alice", &model.ExtractedData{VendorName: "Evil"}, now)))

	got, err = m.Get(ctx, "rec-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.ExtractedData.VendorName)
	assert.Nil(t, got.ErrorMessage)
}

func TestFailedRecordCarriesErrorAndNoData(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	seedRecord(t, m, "rec-1", "alice", time.Time{})
	require.NoError(t, m.MarkProcessing(ctx, "rec-1", "alice", time.Now().UTC()))
	require.NoError(t, m.MarkFailed(ctx, "rec-1", "alice", "ocr exploded"))

	got, err := m.Get(ctx, "rec-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "ocr exploded", *got.ErrorMessage)
	assert.Nil(t, got.ExtractedData)
}

func TestUpdatedAtIsMonotonic(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)
	seedRecord(t, m, "rec-1", "alice", future)

	require.NoError(t, m.MarkProcessing(ctx, "rec-1", "alice", time.Now().UTC()))
	got, err := m.Get(ctx, "rec-1", "alice")
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(future), "updatedAt regressed")
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	seedRecord(t, m, "rec-1", "alice", time.Time{})

	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.MarkProcessing(ctx, "rec-1", "alice", time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.IsConflict(err):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)
}

func TestListByOwnerPaginatesWithoutGapsOrDuplicates(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	const total = 7
	for i := 0; i < total; i++ {
		seedRecord(t, m, fmt.Sprintf("rec-%d", i), "alice", base.Add(time.Duration(i)*time.Minute))
	}
	seedRecord(t, m, "other", "bob", base)

	seen := make(map[string]bool)
	var order []time.Time
	cursor := ""
	pages := 0
	for {
		page, err := m.ListByOwner(ctx, "alice", ListOptions{Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, rec := range page.Items {
			assert.False(t, seen[rec.ID], "duplicate %s", rec.ID)
			seen[rec.ID] = true
			order = append(order, rec.CreatedAt)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, total)
	assert.Equal(t, 3, pages)
	for i := 1; i < len(order); i++ {
		assert.True(t, order[i].Before(order[i-1]), "not strictly descending at %d", i)
	}
}

func TestListPagesSurviveNewerInserts(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		seedRecord(t, m, fmt.Sprintf("rec-%d", i), "alice", base.Add(time.Duration(i)*time.Minute))
	}

	first, err := m.ListByOwner(ctx, "alice", ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)

	// A newer record arriving must not shift the already-issued cursor.
	seedRecord(t, m, "rec-new", "alice", base.Add(time.Hour))

	second, err := m.ListByOwner(ctx, "alice", ListOptions{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, "rec-1", second.Items[0].ID)
	assert.Equal(t, "rec-0", second.Items[1].ID)
	assert.Empty(t, second.NextCursor)
}

func TestListByOwnerStatusFilter(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedRecord(t, m, "rec-0", "alice", base)
	seedRecord(t, m, "rec-1", "alice", base.Add(time.Minute))
	require.NoError(t, m.MarkProcessing(ctx, "rec-1", "alice", time.Now().UTC()))

	page, err := m.ListByOwner(ctx, "alice", ListOptions{Status: model.StatusUploaded})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "rec-0", page.Items[0].ID)
}

func TestListByStatusIgnoresOwnership(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedRecord(t, m, "rec-a", "alice", base)
	seedRecord(t, m, "rec-b", "bob", base.Add(time.Minute))
	require.NoError(t, m.MarkProcessing(ctx, "rec-b", "bob", time.Now().UTC()))

	uploaded, err := m.ListByStatus(ctx, model.StatusUploaded, 10)
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	assert.Equal(t, "rec-a", uploaded[0].ID)

	processing, err := m.ListByStatus(ctx, model.StatusProcessing, 10)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, "rec-b", processing[0].ID)
}

func TestGetReturnsCopies(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()
	seedRecord(t, m, "rec-1", "alice", time.Time{})
	require.NoError(t, m.MarkProcessing(ctx, "rec-1", "alice", time.Now().UTC()))
	amount := decimal.RequireFromString("99.50")
	require.NoError(t, m.MarkCompleted(ctx, "rec-1", "alice", &model.ExtractedData{TotalAmount: &amount}, time.Now().UTC()))

	got, err := m.Get(ctx, "rec-1", "alice")
	require.NoError(t, err)
	got.Status = model.StatusUploaded // caller-side mutation must not leak

	again, err := m.Get(ctx, "rec-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, again.Status)
}
