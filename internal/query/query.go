// Package query serves the read side: paginated listings, aggregate
// statistics, and free-text search over an owner's records.
package query

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/store"
)

const (
	// searchWindow bounds how many recent COMPLETED records a free-text
	// search scans. This is a linear scan with substring matching, not an
	// inverted index; older records simply fall out of reach.
	searchWindow = 500
	// statsWindow bounds the per-status queries behind aggregate stats.
	// Counts are therefore eventually consistent with the store and capped.
	statsWindow = 1000
)

// Service answers owner-scoped read queries against the record store.
type Service struct {
	store store.Store
}

// NewService constructs the query service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// List pages through an owner's records newest first.
func (s *Service) List(ctx context.Context, ownerID string, opts store.ListOptions) (*store.Page, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.KindValidation, "missing owner identity")
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "unknown status %q", opts.Status)
	}
	if opts.Limit < 0 || opts.Limit > store.MaxLimit {
		return nil, apperr.Newf(apperr.KindValidation, "limit must be between 1 and %d", store.MaxLimit)
	}
	return s.store.ListByOwner(ctx, ownerID, opts)
}

// Get returns one record by id, scoped to the owner.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*model.InvoiceRecord, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.KindValidation, "missing owner identity")
	}
	if id == "" {
		return nil, apperr.New(apperr.KindValidation, "missing record id")
	}
	return s.store.Get(ctx, id, ownerID)
}

// Search returns COMPLETED records whose extracted fields contain the
// query, case-insensitively, scanning at most searchWindow recent records.
func (s *Service) Search(ctx context.Context, ownerID, q string) ([]model.InvoiceRecord, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.KindValidation, "missing owner identity")
	}
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return nil, apperr.New(apperr.KindValidation, "query must not be empty")
	}

	matches := make([]model.InvoiceRecord, 0)
	cursor := ""
	scanned := 0
	for scanned < searchWindow {
		page, err := s.store.ListByOwner(ctx, ownerID, store.ListOptions{
			Limit:  store.MaxLimit,
			Cursor: cursor,
			Status: model.StatusCompleted,
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Items {
			scanned++
			if matchesQuery(&rec, needle) {
				matches = append(matches, rec)
			}
			if scanned >= searchWindow {
				break
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return matches, nil
}

func matchesQuery(rec *model.InvoiceRecord, needle string) bool {
	data := rec.ExtractedData
	if data == nil {
		return false
	}
	haystacks := []string{
		rec.FileName,
		data.InvoiceNumber,
		data.VendorName,
		data.CustomerName,
	}
	for _, item := range data.LineItems {
		haystacks = append(haystacks, item.Description)
	}
	for _, h := range haystacks {
		if h != "" && strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

// Stats are reduced client-side from bounded per-status queries; they are
// never transactionally exact across concurrent writes.
type Stats struct {
	Total            int                         `json:"total"`
	ByStatus         map[model.InvoiceStatus]int `json:"byStatus"`
	AmountByCurrency map[string]decimal.Decimal  `json:"amountByCurrency"`
}

// Stats aggregates counts by status and completed totals per currency.
func (s *Service) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.KindValidation, "missing owner identity")
	}
	out := &Stats{
		ByStatus:         make(map[model.InvoiceStatus]int),
		AmountByCurrency: make(map[string]decimal.Decimal),
	}
	for _, status := range []model.InvoiceStatus{
		model.StatusUploaded, model.StatusProcessing, model.StatusCompleted, model.StatusFailed,
	} {
		count, err := s.reduceStatus(ctx, ownerID, status, out)
		if err != nil {
			return nil, err
		}
		out.ByStatus[status] = count
		out.Total += count
	}
	return out, nil
}

func (s *Service) reduceStatus(ctx context.Context, ownerID string, status model.InvoiceStatus, out *Stats) (int, error) {
	count := 0
	cursor := ""
	for count < statsWindow {
		page, err := s.store.ListByOwner(ctx, ownerID, store.ListOptions{
			Limit:  store.MaxLimit,
			Cursor: cursor,
			Status: status,
		})
		if err != nil {
			return 0, err
		}
		for _, rec := range page.Items {
			count++
			if status == model.StatusCompleted && rec.ExtractedData != nil && rec.ExtractedData.TotalAmount != nil {
				currency := rec.ExtractedData.Currency
				if currency == "" {
					currency = "UNKNOWN"
				}
				out.AmountByCurrency[currency] = out.AmountByCurrency[currency].Add(*rec.ExtractedData.TotalAmount)
			}
			if count >= statsWindow {
				break
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return count, nil
}
